package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Togather-Foundation/eventsite/internal/payload"
	"golang.org/x/sync/errgroup"
)

// Banner slots used on the homepage.
const (
	SlotHomepageSlider = "homepage_slider"
	SlotHomepageCTA    = "homepage_cta"
	SlotBannerMain     = "banner_main"
	SlotSidebar1       = "sidebar_1"
	SlotSidebar2       = "sidebar_2"

	mobileSuffix = "_mobile"
)

// BannersBySlot lists the active banners placed in slot.
func (c *Client) BannersBySlot(ctx context.Context, slot string) (json.RawMessage, error) {
	q := url.Values{
		"slot_location": {slot},
		"is_active":     {"true"},
	}
	var raw json.RawMessage
	if err := c.api.Get(ctx, "/ad-banners", q, &raw); err != nil {
		return nil, fmt.Errorf("fetch banners for slot %s: %w", slot, err)
	}
	return raw, nil
}

// ResponsiveBanners fetches the desktop slot and its "_mobile" twin
// concurrently. A failed half degrades to an empty list; the mobile list falls
// back to the desktop one when empty. It fails only when both halves fail.
func (c *Client) ResponsiveBanners(ctx context.Context, slot string) (ResponsiveAdBanners, error) {
	var (
		desktop, mobile       []AdBanner
		desktopErr, mobileErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		raw, err := c.BannersBySlot(ctx, slot)
		desktop, desktopErr = payload.ExtractList[AdBanner](raw), err
		return nil
	})
	g.Go(func() error {
		raw, err := c.BannersBySlot(ctx, slot+mobileSuffix)
		mobile, mobileErr = payload.ExtractList[AdBanner](raw), err
		return nil
	})
	_ = g.Wait()

	if desktopErr != nil && mobileErr != nil {
		return ResponsiveAdBanners{Desktop: []AdBanner{}, Mobile: []AdBanner{}}, desktopErr
	}
	if len(mobile) == 0 {
		mobile = desktop
	}
	return ResponsiveAdBanners{Desktop: desktop, Mobile: mobile}.Normalized(), nil
}
