package homepage

import "sort"

// Rankable is an item that carries a popularity count and a slug to fetch by.
type Rankable interface {
	RankKey() string
	Count() int
}

// TopByCount drops items whose count is zero or negative, sorts the rest by
// count descending keeping upstream order among ties, and returns at most n.
func TopByCount[T Rankable](items []T, n int) []T {
	if n <= 0 {
		return []T{}
	}
	ranked := make([]T, 0, len(items))
	for _, item := range items {
		if item.Count() > 0 && item.RankKey() != "" {
			ranked = append(ranked, item)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count() > ranked[j].Count()
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// firstN returns the first n items that have a slug, in upstream order.
func firstN[T Rankable](items []T, n int) []T {
	out := make([]T, 0, n)
	for _, item := range items {
		if len(out) == n {
			break
		}
		if item.RankKey() != "" {
			out = append(out, item)
		}
	}
	return out
}
