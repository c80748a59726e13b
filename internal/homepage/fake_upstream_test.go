package homepage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/catalog"
	"github.com/Togather-Foundation/eventsite/internal/upstream"
)

var errUpstream = errors.New("upstream unavailable")

var fixedNow = time.Date(2026, time.May, 14, 9, 30, 0, 0, time.UTC)

// fakeUpstream serves canned payloads and injects failures by call name.
type fakeUpstream struct {
	mu     sync.Mutex
	calls  map[string]int
	fail   map[string]bool
	panics map[string]bool
	tokens []string
	// delay holds a call for the given duration before it is answered.
	delay map[string]time.Duration

	// gate, when set, blocks LatestEvents until it is closed.
	gate chan struct{}

	latest, hero, slider, types, provinces, blog, cta json.RawMessage
	responsive                                        catalog.ResponsiveAdBanners
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		calls:  make(map[string]int),
		fail:   make(map[string]bool),
		panics: make(map[string]bool),
		delay:  make(map[string]time.Duration),
		latest: eventList("latest", 6),
		hero:   json.RawMessage(`[{"id":100,"slug":"hero","title":"Hero <b>Run</b>"}]`),
		slider: json.RawMessage(`{"data":{"data":[{"id":1,"slot_location":"homepage_slider"}]}}`),
		types: json.RawMessage(`{"success":true,"data":[
			{"id":1,"slug":"a","event_count":5},
			{"id":2,"slug":"b","event_count":0},
			{"id":3,"slug":"c","event_count":20},
			{"id":4,"slug":"d","event_count":-1}
		]}`),
		provinces: json.RawMessage(`{"data":[
			{"id":1,"slug":"bali","is_active":true,"event_count":3},
			{"id":2,"slug":"dki-jakarta","is_active":true,"event_count":9}
		]}`),
		blog: json.RawMessage(`[{"id":1,"title":"<b>Tips</b>","slug":"tips","excerpt":"<p>Run &amp; rest</p>"}]`),
		cta:  json.RawMessage(`{"data":[{"id":7,"slot_location":"homepage_cta"},{"id":8,"slot_location":"homepage_cta"}]}`),
		responsive: catalog.ResponsiveAdBanners{
			Desktop: []catalog.AdBanner{{ID: 11}},
		},
	}
}

func eventList(prefix string, n int) json.RawMessage {
	events := make([]catalog.Event, n)
	for i := range events {
		events[i] = catalog.Event{ID: int64(i + 1), Slug: fmt.Sprintf("%s-%d", prefix, i+1)}
	}
	raw, _ := json.Marshal(map[string]any{"data": events})
	return raw
}

func (f *fakeUpstream) record(name string) error {
	f.mu.Lock()
	f.calls[name]++
	wait := f.delay[name]
	f.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics[name] {
		panic("boom: " + name)
	}
	if f.fail[name] {
		return fmt.Errorf("%s: %w", name, errUpstream)
	}
	return nil
}

func (f *fakeUpstream) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeUpstream) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeUpstream) LatestEvents(ctx context.Context, limit int) (json.RawMessage, error) {
	f.mu.Lock()
	gate := f.gate
	f.tokens = append(f.tokens, upstream.TokenFromContext(ctx))
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := f.record(callLatestEvents); err != nil {
		return nil, err
	}
	return f.latest, nil
}

func (f *fakeUpstream) FeaturedHeroEvents(ctx context.Context) (json.RawMessage, error) {
	if err := f.record(callFeaturedHero); err != nil {
		return nil, err
	}
	return f.hero, nil
}

func (f *fakeUpstream) EventsByType(ctx context.Context, typeSlug string, limit int) (json.RawMessage, error) {
	if err := f.record(groupCall(callEventsByType, typeSlug)); err != nil {
		return nil, err
	}
	return eventList(typeSlug, limit), nil
}

func (f *fakeUpstream) EventsByProvince(ctx context.Context, provinceSlug string, limit int) (json.RawMessage, error) {
	if err := f.record(groupCall(callEventsByProvince, provinceSlug)); err != nil {
		return nil, err
	}
	return eventList(provinceSlug, limit), nil
}

func (f *fakeUpstream) ActiveEventTypes(ctx context.Context) (json.RawMessage, error) {
	if err := f.record(callEventTypes); err != nil {
		return nil, err
	}
	return f.types, nil
}

func (f *fakeUpstream) MajorProvinces(ctx context.Context) (json.RawMessage, error) {
	if err := f.record(callProvinces); err != nil {
		return nil, err
	}
	return f.provinces, nil
}

func (f *fakeUpstream) LatestBlogPosts(ctx context.Context, limit int) (json.RawMessage, error) {
	if err := f.record(callBlogPosts); err != nil {
		return nil, err
	}
	return f.blog, nil
}

func (f *fakeUpstream) BannersBySlot(ctx context.Context, slot string) (json.RawMessage, error) {
	switch slot {
	case catalog.SlotHomepageSlider:
		if err := f.record(callSliderBanners); err != nil {
			return nil, err
		}
		return f.slider, nil
	case catalog.SlotHomepageCTA:
		if err := f.record(callCTABanners); err != nil {
			return nil, err
		}
		return f.cta, nil
	}
	return nil, fmt.Errorf("unexpected slot %q", slot)
}

func (f *fakeUpstream) ResponsiveBanners(ctx context.Context, slot string) (catalog.ResponsiveAdBanners, error) {
	if err := f.record(slot); err != nil {
		return catalog.ResponsiveAdBanners{}, err
	}
	return f.responsive, nil
}

func (f *fakeUpstream) CalendarStats(ctx context.Context, year int) (catalog.CalendarStats, error) {
	if err := f.record(yearCall(year)); err != nil {
		return nil, err
	}
	return catalog.CalendarStats{5: year - 2000}, nil
}

var _ Upstream = (*fakeUpstream)(nil)
var _ Upstream = (*catalog.Client)(nil)
