// Package homepage builds the homepage snapshot: a fan-out over the catalog
// fetchers that tolerates per-call failures, derives grouped event lists and
// caches the result per session for client-side navigations.
package homepage

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/eventsite/internal/cache"
	"github.com/Togather-Foundation/eventsite/internal/catalog"
	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/metrics"
	"github.com/Togather-Foundation/eventsite/internal/payload"
	"github.com/Togather-Foundation/eventsite/internal/sanitize"
	"github.com/Togather-Foundation/eventsite/internal/telemetry"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/Togather-Foundation/eventsite/internal/homepage"

// CacheKey is the fixed key a session's snapshot is cached under.
const CacheKey = "homepage-overview"

// Upstream call names, used in logs, metrics and Snapshot.Degraded.
const (
	callLatestEvents     = "latest_events"
	callFeaturedHero     = "featured_hero_events"
	callSliderBanners    = "slider_banners"
	callEventTypes       = "event_types"
	callProvinces        = "provinces"
	callBlogPosts        = "blog_posts"
	callCTABanners       = "cta_banners"
	callBannerMain       = "banner_main"
	callSidebar1         = "sidebar_1"
	callSidebar2         = "sidebar_2"
	callCalendarStats    = "calendar_stats"
	callEventsByType     = "events_by_type"
	callEventsByProvince = "events_by_province"
)

// Upstream is the set of fetchers the aggregator fans out to.
// *catalog.Client implements it.
type Upstream interface {
	LatestEvents(ctx context.Context, limit int) (json.RawMessage, error)
	FeaturedHeroEvents(ctx context.Context) (json.RawMessage, error)
	EventsByType(ctx context.Context, typeSlug string, limit int) (json.RawMessage, error)
	EventsByProvince(ctx context.Context, provinceSlug string, limit int) (json.RawMessage, error)
	ActiveEventTypes(ctx context.Context) (json.RawMessage, error)
	MajorProvinces(ctx context.Context) (json.RawMessage, error)
	LatestBlogPosts(ctx context.Context, limit int) (json.RawMessage, error)
	BannersBySlot(ctx context.Context, slot string) (json.RawMessage, error)
	ResponsiveBanners(ctx context.Context, slot string) (catalog.ResponsiveAdBanners, error)
	CalendarStats(ctx context.Context, year int) (catalog.CalendarStats, error)
}

// Phase tells the aggregator which rendering pass is asking.
type Phase int

const (
	// PhaseServer is the initial server render. It always fetches upstream and
	// never touches the cache.
	PhaseServer Phase = iota
	// PhaseClient is a navigation inside an already hydrated session. It reads
	// and writes the session cache.
	PhaseClient
)

func (p Phase) String() string {
	if p == PhaseClient {
		return "client"
	}
	return "server"
}

type Options struct {
	LatestEventsLimit int
	BlogPostsLimit    int
	// TopEventTypes and TopProvinces bound how many groups get a per-group
	// events fetch. Zero disables the grouping.
	TopEventTypes int
	// TopProvinces ranks provinces by event_count like event types, dropping
	// those without events. When no province reports a count the first
	// TopProvinces keep the upstream order.
	TopProvinces        int
	EventsPerGroup      int
	CalendarYearsBefore int
	CalendarYearsAfter  int
	// Timeout bounds one aggregation run. Zero means no bound beyond the
	// upstream client's per-call timeout.
	Timeout time.Duration
	Now     func() time.Time
}

func DefaultOptions() Options {
	return Options{
		LatestEventsLimit:   6,
		BlogPostsLimit:      6,
		TopEventTypes:       6,
		TopProvinces:        3,
		EventsPerGroup:      2,
		CalendarYearsBefore: 0,
		CalendarYearsAfter:  1,
		Timeout:             20 * time.Second,
		Now:                 time.Now,
	}
}

func OptionsFromConfig(cfg config.HomepageConfig) Options {
	return Options{
		LatestEventsLimit:   cfg.LatestEventsLimit,
		BlogPostsLimit:      cfg.BlogPostsLimit,
		TopEventTypes:       cfg.TopEventTypes,
		TopProvinces:        cfg.TopProvinces,
		EventsPerGroup:      cfg.EventsPerGroup,
		CalendarYearsBefore: cfg.CalendarYearsBefore,
		CalendarYearsAfter:  cfg.CalendarYearsAfter,
		Timeout:             cfg.Timeout,
		Now:                 time.Now,
	}
}

// Aggregator produces homepage snapshots. It is the only writer of its cache.
type Aggregator struct {
	upstream Upstream
	cache    *cache.Store[*Snapshot]
	opts     Options
	logger   zerolog.Logger

	flight singleflight.Group

	mu     sync.Mutex
	states map[string]*runState
}

// runState tracks in-flight runs of one key. It exists only while at least
// one run is pending.
type runState struct {
	pending    int
	generation uint64
}

// New creates an Aggregator. A nil store gets a private one.
func New(up Upstream, store *cache.Store[*Snapshot], opts Options, logger zerolog.Logger) *Aggregator {
	if store == nil {
		store = cache.New[*Snapshot]()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		upstream: up,
		cache:    store,
		opts:     opts,
		logger:   logger.With().Str("component", "homepage").Logger(),
		states:   make(map[string]*runState),
	}
}

// ScopedKey returns the cache key of a session's snapshot.
func ScopedKey(sessionID string) string {
	return sessionPrefix(sessionID) + CacheKey
}

func sessionPrefix(sessionID string) string {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	return sessionID + ":"
}

// InvalidateSession drops every cached entry of a session and keeps runs that
// are still in flight from storing their result. Register it as a session end
// hook.
func (a *Aggregator) InvalidateSession(sessionID string) {
	prefix := sessionPrefix(sessionID)

	a.mu.Lock()
	for key, st := range a.states {
		if strings.HasPrefix(key, prefix) {
			st.generation++
		}
	}
	a.cache.InvalidatePrefix(prefix)
	a.mu.Unlock()
}

// Handle is the data handle page rendering code uses for one session and
// phase.
type Handle struct {
	agg       *Aggregator
	sessionID string
	phase     Phase
	key       string
}

func (a *Aggregator) For(sessionID string, phase Phase) *Handle {
	return &Handle{
		agg:       a,
		sessionID: sessionID,
		phase:     phase,
		key:       ScopedKey(sessionID),
	}
}

func (h *Handle) flightKey() string {
	if h.phase == PhaseServer {
		return h.key + ":server"
	}
	return h.key
}

// Snapshot returns the homepage snapshot. It never fails and never returns
// nil. In the client phase a cached snapshot is returned as is unless
// forceRefresh is set. Concurrent calls for the same session and phase share
// one aggregation. When ctx ends first the caller gets an empty snapshot and
// the shared run carries on.
func (h *Handle) Snapshot(ctx context.Context, forceRefresh bool) (snap *Snapshot) {
	a := h.agg
	phase := h.phase.String()

	defer func() {
		if r := recover(); r != nil {
			metrics.HomepageAggregationPanicsTotal.Inc()
			a.logger.Error().
				Str("phase", phase).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("homepage snapshot failed")
			snap = Empty()
		}
	}()

	if h.phase == PhaseClient && !forceRefresh {
		if cached, ok := a.cache.Get(h.key); ok {
			metrics.HomepageSnapshotsTotal.WithLabelValues(phase, "cache").Inc()
			return cached
		}
	}

	ch := a.flight.DoChan(h.flightKey(), func() (any, error) {
		return a.run(ctx, h.flightKey(), h.key, h.phase), nil
	})

	select {
	case res := <-ch:
		source := "upstream"
		if res.Shared {
			source = "shared"
		}
		metrics.HomepageSnapshotsTotal.WithLabelValues(phase, source).Inc()
		if s, ok := res.Val.(*Snapshot); ok && s != nil {
			return s
		}
		return Empty()
	case <-ctx.Done():
		metrics.HomepageSnapshotsTotal.WithLabelValues(phase, "abandoned").Inc()
		zerolog.Ctx(ctx).Debug().Err(ctx.Err()).Str("phase", phase).Msg("homepage snapshot abandoned by caller")
		return Empty()
	}
}

// Pending reports whether an aggregation for this session and phase is in
// flight.
func (h *Handle) Pending() bool {
	a := h.agg
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[h.flightKey()]
	return ok && st.pending > 0
}

// Refresh discards the cached snapshot and aggregates again. A run already in
// flight is not joined and will not overwrite the refreshed result.
func (h *Handle) Refresh(ctx context.Context) *Snapshot {
	a := h.agg
	a.mu.Lock()
	if st, ok := a.states[h.flightKey()]; ok {
		st.generation++
	}
	a.cache.Invalidate(h.key)
	a.mu.Unlock()

	a.flight.Forget(h.flightKey())
	return h.Snapshot(ctx, true)
}

// run performs one aggregation detached from the caller's cancellation. The
// context keeps its values so the session token still reaches upstream.
func (a *Aggregator) run(parent context.Context, flightKey, cacheKey string, phase Phase) *Snapshot {
	a.mu.Lock()
	st, ok := a.states[flightKey]
	if !ok {
		st = &runState{}
		a.states[flightKey] = st
	}
	st.pending++
	generation := st.generation
	a.mu.Unlock()

	ctx := context.WithoutCancel(parent)
	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	snap, ok := a.aggregateSafely(ctx, phase)

	a.mu.Lock()
	defer a.mu.Unlock()
	st.pending--
	if st.pending == 0 && a.states[flightKey] == st {
		delete(a.states, flightKey)
	}
	if ok && phase == PhaseClient && st.generation == generation {
		a.cache.Set(cacheKey, snap)
	}
	return snap
}

// aggregateSafely converts a structural failure into an empty snapshot.
func (a *Aggregator) aggregateSafely(ctx context.Context, phase Phase) (snap *Snapshot, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HomepageAggregationPanicsTotal.Inc()
			a.logger.Error().
				Str("phase", phase.String()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("homepage aggregation failed, serving empty snapshot")
			snap, ok = Empty(), false
		}
	}()
	return a.aggregate(ctx, phase), true
}

func (a *Aggregator) aggregate(ctx context.Context, phase Phase) *Snapshot {
	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "homepage.aggregate")
	defer span.End()
	span.SetAttributes(attribute.String("homepage.phase", phase.String()))

	start := time.Now()
	defer func() {
		metrics.HomepageAggregationDuration.Observe(time.Since(start).Seconds())
	}()

	now := a.opts.Now()
	failures := make(map[string]error)

	// Stage 1: content that gates the first viewport.
	var latestRaw, heroRaw, sliderRaw json.RawMessage
	stage1 := newSettleGroup()
	stage1.Go(callLatestEvents, func() (err error) {
		latestRaw, err = a.upstream.LatestEvents(ctx, a.opts.LatestEventsLimit)
		return err
	})
	stage1.Go(callFeaturedHero, func() (err error) {
		heroRaw, err = a.upstream.FeaturedHeroEvents(ctx)
		return err
	})
	stage1.Go(callSliderBanners, func() (err error) {
		sliderRaw, err = a.upstream.BannersBySlot(ctx, catalog.SlotHomepageSlider)
		return err
	})
	merge(failures, stage1.Wait())

	// Stage 2: everything below the fold.
	var (
		typesRaw, provincesRaw, blogRaw, ctaRaw json.RawMessage
		bannerMain, sidebar1, sidebar2          catalog.ResponsiveAdBanners
	)
	years := a.calendarYears(now)
	yearStats := make([]catalog.CalendarStats, len(years))

	stage2 := newSettleGroup()
	stage2.Go(callEventTypes, func() (err error) {
		typesRaw, err = a.upstream.ActiveEventTypes(ctx)
		return err
	})
	stage2.Go(callProvinces, func() (err error) {
		provincesRaw, err = a.upstream.MajorProvinces(ctx)
		return err
	})
	stage2.Go(callBlogPosts, func() (err error) {
		blogRaw, err = a.upstream.LatestBlogPosts(ctx, a.opts.BlogPostsLimit)
		return err
	})
	stage2.Go(callCTABanners, func() (err error) {
		ctaRaw, err = a.upstream.BannersBySlot(ctx, catalog.SlotHomepageCTA)
		return err
	})
	stage2.Go(callBannerMain, func() (err error) {
		bannerMain, err = a.upstream.ResponsiveBanners(ctx, catalog.SlotBannerMain)
		return err
	})
	stage2.Go(callSidebar1, func() (err error) {
		sidebar1, err = a.upstream.ResponsiveBanners(ctx, catalog.SlotSidebar1)
		return err
	})
	stage2.Go(callSidebar2, func() (err error) {
		sidebar2, err = a.upstream.ResponsiveBanners(ctx, catalog.SlotSidebar2)
		return err
	})
	for i, year := range years {
		stage2.Go(yearCall(year), func() (err error) {
			yearStats[i], err = a.upstream.CalendarStats(ctx, year)
			return err
		})
	}
	merge(failures, stage2.Wait())

	eventTypes := payload.ExtractList[catalog.EventType](typesRaw)
	provinces := payload.ExtractList[catalog.Province](provincesRaw)

	// Derivations: a few events per top type and top province.
	topTypes := TopByCount(eventTypes, a.opts.TopEventTypes)
	topProvinces := TopByCount(provinces, a.opts.TopProvinces)
	if len(topProvinces) == 0 {
		// Major provinces are curated upstream, so their order is meaningful
		// even when no counts are reported.
		topProvinces = firstN(provinces, a.opts.TopProvinces)
	}

	typeEvents := make([][]catalog.Event, len(topTypes))
	provinceEvents := make([][]catalog.Event, len(topProvinces))
	derive := newSettleGroup()
	for i, t := range topTypes {
		derive.Go(groupCall(callEventsByType, t.Slug), func() error {
			raw, err := a.upstream.EventsByType(ctx, t.Slug, a.opts.EventsPerGroup)
			if err != nil {
				return err
			}
			typeEvents[i] = payload.ExtractList[catalog.Event](raw)
			return nil
		})
	}
	for i, p := range topProvinces {
		derive.Go(groupCall(callEventsByProvince, p.Slug), func() error {
			raw, err := a.upstream.EventsByProvince(ctx, p.Slug, a.opts.EventsPerGroup)
			if err != nil {
				return err
			}
			provinceEvents[i] = payload.ExtractList[catalog.Event](raw)
			return nil
		})
	}
	deriveErrs := derive.Wait()
	merge(failures, deriveErrs)

	// Assembly.
	eventsByType := make(map[string][]catalog.Event, len(topTypes))
	for i, t := range topTypes {
		if _, failed := deriveErrs[groupCall(callEventsByType, t.Slug)]; !failed {
			eventsByType[t.Slug] = cleanEvents(typeEvents[i])
		}
	}
	eventsByProvince := make(map[string][]catalog.Event, len(topProvinces))
	for i, p := range topProvinces {
		if _, failed := deriveErrs[groupCall(callEventsByProvince, p.Slug)]; !failed {
			eventsByProvince[p.Slug] = cleanEvents(provinceEvents[i])
		}
	}

	byYear := make(catalog.CalendarStatsByYear, len(years))
	for i, year := range years {
		stats := yearStats[i]
		if _, failed := failures[yearCall(year)]; failed || stats == nil {
			stats = catalog.CalendarStats{}
		}
		byYear[year] = stats
	}

	var cta *catalog.AdBanner
	if ctaList := payload.ExtractList[catalog.AdBanner](ctaRaw); len(ctaList) > 0 {
		first := ctaList[0]
		cta = &first
	}

	snap := &Snapshot{
		ID:                  ulid.Make().String(),
		GeneratedAt:         now.UTC(),
		LatestEvents:        cleanEvents(payload.ExtractList[catalog.Event](latestRaw)),
		EventTypes:          eventTypes,
		Provinces:           provinces,
		BlogPosts:           cleanBlogPosts(payload.ExtractList[catalog.BlogPost](blogRaw)),
		FeaturedHeroEvents:  cleanEvents(payload.ExtractList[catalog.Event](heroRaw)),
		SliderBanners:       payload.ExtractList[catalog.AdBanner](sliderRaw),
		CTABanner:           cta,
		BannerMain:          bannerMain,
		Sidebar1:            sidebar1,
		Sidebar2:            sidebar2,
		EventsByType:        eventsByType,
		EventsByProvince:    eventsByProvince,
		CalendarStats:       byYear[now.Year()],
		CalendarStatsByYear: byYear,
		Degraded:            a.report(failures, phase),
	}
	snap.normalize()

	span.SetAttributes(
		attribute.String("homepage.snapshot_id", snap.ID),
		attribute.Int("homepage.degraded_calls", len(snap.Degraded)),
	)
	return snap
}

// calendarYears lists the years whose stats are fetched, oldest first.
func (a *Aggregator) calendarYears(now time.Time) []int {
	current := now.Year()
	years := make([]int, 0, a.opts.CalendarYearsBefore+1+a.opts.CalendarYearsAfter)
	for y := current - a.opts.CalendarYearsBefore; y <= current+a.opts.CalendarYearsAfter; y++ {
		years = append(years, y)
	}
	return years
}

// report logs and counts failed calls and returns their sorted names.
func (a *Aggregator) report(failures map[string]error, phase Phase) []string {
	names := make([]string, 0, len(failures))
	for name, err := range failures {
		names = append(names, name)
		metrics.HomepageUpstreamFailuresTotal.WithLabelValues(callLabel(name)).Inc()
		a.logger.Warn().
			Err(err).
			Str("call", name).
			Str("phase", phase.String()).
			Msg("homepage upstream call failed")
	}
	sort.Strings(names)
	return names
}

func merge(dst, src map[string]error) {
	for name, err := range src {
		dst[name] = err
	}
}

func yearCall(year int) string {
	return fmt.Sprintf("%s:%d", callCalendarStats, year)
}

func groupCall(call, slug string) string {
	return call + ":" + slug
}

// callLabel strips the per-item suffix so metric labels stay bounded.
func callLabel(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}

func cleanEvents(events []catalog.Event) []catalog.Event {
	if events == nil {
		return []catalog.Event{}
	}
	out := make([]catalog.Event, len(events))
	for i, e := range events {
		e.Title = sanitize.Text(e.Title)
		e.Description = sanitize.Text(e.Description)
		e.CategoryNames = sanitize.TextSlice(e.CategoryNames)
		out[i] = e
	}
	return out
}

func cleanBlogPosts(posts []catalog.BlogPost) []catalog.BlogPost {
	out := make([]catalog.BlogPost, len(posts))
	for i, p := range posts {
		p.Title = sanitize.Text(p.Title)
		p.Excerpt = sanitize.TextPtr(p.Excerpt)
		out[i] = p
	}
	return out
}
