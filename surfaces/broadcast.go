package surfaces

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hazyhaar/packetd/host"
	"github.com/hazyhaar/packetd/media"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

// OverlayState is the minimal frame pushed into a page.
type OverlayState struct {
	IsVisible            bool   `json:"isVisible"`
	IsPlaying            bool   `json:"isPlaying,omitempty"`
	Title                string `json:"title,omitempty"`
	LastMentionedLink    string `json:"lastMentionedLink,omitempty"`
	AnimateMomentMention bool   `json:"animateMomentMention,omitempty"`
	ShowVisitedAnimation bool   `json:"showVisitedAnimation,omitempty"`
}

// SidebarState is the full frame pushed to the sidebar.
type SidebarState struct {
	Instances map[string]*packet.Instance `json:"instances"`
	Settings  store.Settings              `json:"settings"`
	Playback  *media.PlaybackState        `json:"playback,omitempty"`
}

// Broadcaster assembles and delivers the unified state to both surfaces.
type Broadcaster struct {
	store  *store.Store
	host   host.Host
	media  *media.Controller
	hub    *SidebarHub
	logger *slog.Logger

	mu         sync.Mutex
	overlayTab int // last tab an overlay frame was addressed to
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(s *store.Store, h host.Host, m *media.Controller, hub *SidebarHub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{store: s, host: h, media: m, hub: hub, logger: logger}
}

// BroadcastOptions flag one-shot animations riding on a broadcast.
type BroadcastOptions struct {
	AnimateMention       bool
	ShowVisitedAnimation bool
}

// Broadcast pushes the full state to the sidebar and the minimal state to
// the overlay on the active tab.
func (b *Broadcaster) Broadcast(ctx context.Context, opts BroadcastOptions) {
	playback := b.media.State()

	instances, err := b.store.GetPacketInstances(ctx)
	if err != nil {
		b.logger.Warn("surfaces: load instances for broadcast", "error", err)
		instances = map[string]*packet.Instance{}
	}
	settings, err := b.store.GetSettings(ctx)
	if err != nil {
		settings = store.DefaultSettings()
	}

	b.hub.Push("state", SidebarState{
		Instances: instances,
		Settings:  settings,
		Playback:  playback,
	})

	b.updateOverlay(ctx, playback, settings, opts)
}

// updateOverlay addresses the overlay frame to the active tab. When the
// active tab changed since the last broadcast, the previous tab is hidden
// first.
func (b *Broadcaster) updateOverlay(ctx context.Context, playback *media.PlaybackState, settings store.Settings, opts BroadcastOptions) {
	active, err := b.host.ActiveTab(ctx)
	if err != nil {
		b.logger.Debug("surfaces: no active tab for overlay", "error", err)
		return
	}

	state := OverlayState{
		IsVisible: playback != nil &&
			settings.MediaOverlayEnabled &&
			!b.hub.Open() &&
			overlayAllowed(active.URL),
	}
	if playback != nil {
		state.IsPlaying = playback.IsPlaying
		state.Title = playback.Title
		state.LastMentionedLink = playback.LastMentionedLink
		state.AnimateMomentMention = opts.AnimateMention
	}
	state.ShowVisitedAnimation = opts.ShowVisitedAnimation

	b.mu.Lock()
	prev := b.overlayTab
	b.overlayTab = active.ID
	b.mu.Unlock()

	if prev != 0 && prev != active.ID {
		if err := b.host.SendToTab(ctx, prev, OverlayState{IsVisible: false}); err != nil {
			b.logger.Debug("surfaces: hide overlay", "tab", prev, "error", err)
		}
	}
	if err := b.host.SendToTab(ctx, active.ID, state); err != nil {
		b.logger.Debug("surfaces: overlay", "tab", active.ID, "error", err)
	}
}

// overlayAllowed reports whether a page can carry the overlay. Internal
// pages and non-web schemes cannot run injected UI.
func overlayAllowed(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
