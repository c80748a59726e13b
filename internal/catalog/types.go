// Package catalog holds the event-site domain types as served by the upstream
// API, and the fetchers that read them.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Event is a published listing. The homepage only reads events.
type Event struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Slug           string          `json:"slug"`
	Description    string          `json:"description,omitempty"`
	Image          *string         `json:"image,omitempty"`
	PosterWebPURL  *string         `json:"poster_webp_url,omitempty"`
	LocationName   string          `json:"location_name,omitempty"`
	City           string          `json:"city,omitempty"`
	Province       *string         `json:"province,omitempty"`
	EventDate      string          `json:"event_date,omitempty"`
	EventEndDate   *string         `json:"event_end_date,omitempty"`
	EventType      string          `json:"event_type,omitempty"`
	OrganizerName  *string         `json:"organizer_name,omitempty"`
	IsFeatured     bool            `json:"is_featured,omitempty"`
	IsFeaturedHero bool            `json:"is_featured_hero,omitempty"`
	Status         string          `json:"status,omitempty"`
	Categories     []EventCategory `json:"categories,omitempty"`
	CategoryNames  []string        `json:"category_names,omitempty"`
	CreatedAt      string          `json:"created_at,omitempty"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// EventCategory accepts both category objects and bare category names, since
// the API returns either depending on the include parameter.
type EventCategory struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

func (c *EventCategory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*c = EventCategory{Name: name}
		return nil
	}
	type plain EventCategory
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = EventCategory(decoded)
	return nil
}

// EventType is a category of event (marathon, trail, fun run...) with an
// approximate popularity signal.
type EventType struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Slug        string  `json:"slug"`
	Description *string `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	EventCount  int     `json:"event_count"`
}

// Active reports whether the type is active. A missing flag counts as active.
func (t EventType) Active() bool {
	return t.IsActive == nil || *t.IsActive
}

func (t EventType) RankKey() string { return t.Slug }
func (t EventType) Count() int      { return t.EventCount }

type Province struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Slug               string  `json:"slug"`
	Thumbnail          *string `json:"thumbnail,omitempty"`
	IsActive           bool    `json:"is_active"`
	IsFeaturedFrontend bool    `json:"is_featured_frontend,omitempty"`
	EventCount         int     `json:"event_count"`
}

func (p Province) RankKey() string { return p.Slug }
func (p Province) Count() int      { return p.EventCount }

type BlogPost struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Excerpt     *string       `json:"excerpt,omitempty"`
	Banner      *string       `json:"banner,omitempty"`
	PublishedAt *string       `json:"published_at,omitempty"`
	Author      *BlogAuthor   `json:"author,omitempty"`
	Category    *BlogCategory `json:"category,omitempty"`
}

type BlogAuthor struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Photo *string `json:"photo,omitempty"`
}

type BlogCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// AdBanner is a promotional image placed in a named slot.
type AdBanner struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Image        *string `json:"image,omitempty"`
	TargetURL    string  `json:"target_url"`
	SlotLocation string  `json:"slot_location"`
	IsActive     bool    `json:"is_active"`
	ExpiresAt    *string `json:"expires_at,omitempty"`
}

// ResponsiveAdBanners pairs the desktop and mobile variants of one slot.
type ResponsiveAdBanners struct {
	Desktop []AdBanner `json:"desktop"`
	Mobile  []AdBanner `json:"mobile"`
}

// MobileOrDesktop returns the mobile variants, or the desktop ones when the
// slot has no dedicated mobile creative.
func (r ResponsiveAdBanners) MobileOrDesktop() []AdBanner {
	if len(r.Mobile) > 0 {
		return r.Mobile
	}
	if r.Desktop == nil {
		return []AdBanner{}
	}
	return r.Desktop
}

// Normalized returns a copy whose lists are non-nil.
func (r ResponsiveAdBanners) Normalized() ResponsiveAdBanners {
	if r.Desktop == nil {
		r.Desktop = []AdBanner{}
	}
	if r.Mobile == nil {
		r.Mobile = []AdBanner{}
	}
	return r
}

// CalendarStats maps month number (1-12) to the number of events in that
// month for one calendar year.
type CalendarStats map[int]int

// UnmarshalJSON accepts {"1": 4, "2": 0, ...} as well as a positional list of
// twelve counts. Months outside 1..12 and values that are not non-negative
// integers are dropped one by one. Only JSON that is neither a list nor an
// object fails.
func (s *CalendarStats) UnmarshalJSON(data []byte) error {
	out := CalendarStats{}
	if string(bytes.TrimSpace(data)) == "null" {
		*s = out
		return nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		for i, value := range list {
			if count, ok := monthCount(value); ok && i < 12 {
				out[i+1] = count
			}
		}
		*s = out
		return nil
	}

	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(data, &keyed); err != nil {
		return fmt.Errorf("calendar stats: %w", err)
	}
	for key, value := range keyed {
		month, err := strconv.Atoi(key)
		if err != nil || month < 1 || month > 12 {
			continue
		}
		if count, ok := monthCount(value); ok {
			out[month] = count
		}
	}
	*s = out
	return nil
}

func monthCount(raw json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	count, err := n.Int64()
	if err != nil || count < 0 {
		return 0, false
	}
	return int(count), true
}

// CalendarStatsByYear keeps one CalendarStats per calendar year.
type CalendarStatsByYear map[int]CalendarStats
