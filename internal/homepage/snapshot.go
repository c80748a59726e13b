package homepage

import (
	"time"

	"github.com/Togather-Foundation/eventsite/internal/catalog"
	"github.com/oklog/ulid/v2"
)

// Snapshot is the complete homepage aggregate. Every list and map is non-nil
// and CTABanner is either one banner or nil. A Snapshot is never mutated after
// it has been returned.
type Snapshot struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`

	LatestEvents       []catalog.Event     `json:"latest_events"`
	EventTypes         []catalog.EventType `json:"event_types"`
	Provinces          []catalog.Province  `json:"provinces"`
	BlogPosts          []catalog.BlogPost  `json:"blog_posts"`
	FeaturedHeroEvents []catalog.Event     `json:"featured_hero_events"`
	SliderBanners      []catalog.AdBanner  `json:"slider_banners"`
	CTABanner          *catalog.AdBanner   `json:"cta_banner"`

	BannerMain catalog.ResponsiveAdBanners `json:"banner_main"`
	Sidebar1   catalog.ResponsiveAdBanners `json:"sidebar_1"`
	Sidebar2   catalog.ResponsiveAdBanners `json:"sidebar_2"`

	EventsByType     map[string][]catalog.Event `json:"events_by_type"`
	EventsByProvince map[string][]catalog.Event `json:"events_by_province"`

	CalendarStats       catalog.CalendarStats       `json:"calendar_stats"`
	CalendarStatsByYear catalog.CalendarStatsByYear `json:"calendar_stats_by_year"`

	// Degraded names the upstream calls that failed while building this
	// snapshot, sorted. Empty when every call succeeded.
	Degraded []string `json:"degraded"`
}

// Empty returns a fully defaulted snapshot: every field present, every
// collection empty, no CTA banner.
func Empty() *Snapshot {
	s := &Snapshot{
		ID:          ulid.Make().String(),
		GeneratedAt: time.Now().UTC(),
	}
	s.normalize()
	return s
}

func (s *Snapshot) normalize() {
	if s.LatestEvents == nil {
		s.LatestEvents = []catalog.Event{}
	}
	if s.EventTypes == nil {
		s.EventTypes = []catalog.EventType{}
	}
	if s.Provinces == nil {
		s.Provinces = []catalog.Province{}
	}
	if s.BlogPosts == nil {
		s.BlogPosts = []catalog.BlogPost{}
	}
	if s.FeaturedHeroEvents == nil {
		s.FeaturedHeroEvents = []catalog.Event{}
	}
	if s.SliderBanners == nil {
		s.SliderBanners = []catalog.AdBanner{}
	}
	s.BannerMain = s.BannerMain.Normalized()
	s.Sidebar1 = s.Sidebar1.Normalized()
	s.Sidebar2 = s.Sidebar2.Normalized()
	if s.EventsByType == nil {
		s.EventsByType = map[string][]catalog.Event{}
	}
	if s.EventsByProvince == nil {
		s.EventsByProvince = map[string][]catalog.Event{}
	}
	if s.CalendarStats == nil {
		s.CalendarStats = catalog.CalendarStats{}
	}
	if s.CalendarStatsByYear == nil {
		s.CalendarStatsByYear = catalog.CalendarStatsByYear{}
	}
	if s.Degraded == nil {
		s.Degraded = []string{}
	}
}

// IsDegraded reports whether at least one upstream call failed.
func (s *Snapshot) IsDegraded() bool {
	return len(s.Degraded) > 0
}

func (s *Snapshot) BannerMainMobile() []catalog.AdBanner { return s.BannerMain.MobileOrDesktop() }
func (s *Snapshot) Sidebar1Mobile() []catalog.AdBanner   { return s.Sidebar1.MobileOrDesktop() }
func (s *Snapshot) Sidebar2Mobile() []catalog.AdBanner   { return s.Sidebar2.MobileOrDesktop() }

// EventsForType returns the events grouped under a type slug, or an empty
// list when the type was not selected or its fetch failed.
func (s *Snapshot) EventsForType(slug string) []catalog.Event {
	if events, ok := s.EventsByType[slug]; ok {
		return events
	}
	return []catalog.Event{}
}

func (s *Snapshot) EventsForProvince(slug string) []catalog.Event {
	if events, ok := s.EventsByProvince[slug]; ok {
		return events
	}
	return []catalog.Event{}
}

// CalendarStatsFor returns the month counts of year, empty when unknown.
func (s *Snapshot) CalendarStatsFor(year int) catalog.CalendarStats {
	if stats, ok := s.CalendarStatsByYear[year]; ok {
		return stats
	}
	return catalog.CalendarStats{}
}
