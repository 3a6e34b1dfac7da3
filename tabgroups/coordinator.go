// CLAUDE:SUMMARY Tab-group coordinator — resolves/repairs instance groups, orders tabs by item index, debounced reorder with retry.
// Package tabgroups binds browser tab groups to packet instances. The group
// title is the two-way encoding ("PKT-" + instance identifier) that lets the
// runtime recover ownership after a browser restart, and the recycled-id
// check that protects unrelated user groups lives here.
package tabgroups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/packetd/host"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

const (
	reorderDebounce = 350 * time.Millisecond
	reorderRetries  = 3
	reorderBackoff  = 500 * time.Millisecond
)

// Coordinator manages instance tab groups.
type Coordinator struct {
	host    host.Host
	store   *store.Store
	session *store.Session
	logger  *slog.Logger

	// debounceWindow is overridable in tests.
	debounceWindow time.Duration

	mu       sync.Mutex
	pending  map[int]*time.Timer // per-group debounce timers
	ordering sync.Mutex          // serializes OrderTabsInGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithDebounceWindow overrides the reorder debounce (tests).
func WithDebounceWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.debounceWindow = d }
}

// New creates a Coordinator.
func New(h host.Host, s *store.Store, session *store.Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		host:           h,
		store:          s,
		session:        session,
		logger:         slog.Default(),
		debounceWindow: reorderDebounce,
		pending:        make(map[int]*time.Timer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EnsureTabInGroup resolves (or creates) the group for instance and makes
// sure tabID is in it. Returns the group id, or 0 when grouping was skipped
// because the user manually disconnected this instance.
//
// Resolution order: the stored TabGroupID (after the recycled-id check), a
// host group carrying the expected title, a freshly created group.
func (c *Coordinator) EnsureTabInGroup(ctx context.Context, tabID int, in *packet.Instance) (int, error) {
	bs, err := c.store.GetBrowserState(ctx, in.InstanceID)
	if err != nil {
		return 0, err
	}
	if bs == nil {
		bs = &store.BrowserState{InstanceID: in.InstanceID, ActiveTabIDs: []int{}}
	}
	if bs.ManualDisconnect {
		return 0, nil
	}

	title := packet.GroupTitle(in.InstanceID)
	groupID := c.resolveGroup(ctx, bs, title)

	if groupID == 0 {
		// No usable group: create one around this tab.
		gid, err := c.host.GroupTabs(ctx, 0, tabID)
		if err != nil {
			return 0, fmt.Errorf("tabgroups: create group: %w", err)
		}
		if err := c.host.UpdateGroup(ctx, gid, title, packet.ColorForInstance(in.InstanceID)); err != nil {
			c.logger.Warn("tabgroups: title update failed", "group", gid, "error", err)
		}
		groupID = gid
	} else {
		tab, err := c.host.GetTab(ctx, tabID)
		if err != nil {
			return 0, err
		}
		if tab.GroupID != groupID {
			if _, err := c.host.GroupTabs(ctx, groupID, tabID); err != nil {
				return 0, fmt.Errorf("tabgroups: add tab to group: %w", err)
			}
		}
	}

	if bs.TabGroupID != groupID {
		bs.TabGroupID = groupID
		if err := c.store.PutBrowserState(ctx, bs); err != nil {
			return 0, err
		}
	}
	return groupID, nil
}

// resolveGroup returns a verified existing group id or 0. A stored id whose
// current title no longer carries the runtime prefix is recycled: it now
// belongs to an unrelated user group and is cleared before any action.
func (c *Coordinator) resolveGroup(ctx context.Context, bs *store.BrowserState, title string) int {
	if bs.TabGroupID != 0 {
		g, err := c.host.GetGroup(ctx, bs.TabGroupID)
		switch {
		case err == nil && g.Title == title:
			return g.ID
		case err == nil:
			c.logger.Warn("tabgroups: stored group id recycled",
				"group", bs.TabGroupID, "title", g.Title, "instanceId", bs.InstanceID)
			fallthrough
		default:
			bs.TabGroupID = 0
			if err := c.store.PutBrowserState(ctx, bs); err != nil {
				c.logger.Warn("tabgroups: clear recycled group id", "error", err)
			}
		}
	}

	groups, err := c.host.QueryGroups(ctx)
	if err != nil {
		return 0
	}
	for _, g := range groups {
		if g.Title == title {
			return g.ID
		}
	}
	return 0
}

// ScheduleOrder coalesces bursts of reorder requests for a group; the
// actual reorder runs once the debounce window passes quietly.
func (c *Coordinator) ScheduleOrder(groupID int, in *packet.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[groupID]; ok {
		t.Stop()
	}
	c.pending[groupID] = time.AfterFunc(c.debounceWindow, func() {
		c.mu.Lock()
		delete(c.pending, groupID)
		c.mu.Unlock()
		if err := c.OrderTabsInGroup(context.Background(), groupID, in); err != nil {
			c.logger.Warn("tabgroups: scheduled reorder failed", "group", groupID, "error", err)
		}
	})
}

// OrderTabsInGroup reorders the group's tabs to match the instance's item
// order. Tabs without a context, or with a key outside the instance, sort to
// the end. Retries ErrGroupBusy with bounded backoff. Serialized: at most
// one reorder runs at a time.
func (c *Coordinator) OrderTabsInGroup(ctx context.Context, groupID int, in *packet.Instance) error {
	c.ordering.Lock()
	defer c.ordering.Unlock()

	g, err := c.host.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("tabgroups: order: %w", err)
	}
	// Never reorder a group the runtime does not own.
	if packet.InstanceIDFromTitle(g.Title) != in.InstanceID {
		return fmt.Errorf("tabgroups: group %d title %q does not belong to %s", groupID, g.Title, in.InstanceID)
	}

	tabs, err := c.host.TabsInGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("tabgroups: order: %w", err)
	}
	if len(tabs) < 2 {
		return nil
	}

	type slot struct {
		tabID int
		index int // canonical item index; unknown tabs to the end
	}
	slots := make([]slot, 0, len(tabs))
	minIndex := tabs[0].Index
	for _, t := range tabs {
		if t.Index < minIndex {
			minIndex = t.Index
		}
		itemIdx := len(in.Contents) // unknown → end
		if pc, err := c.store.GetPacketContext(ctx, t.ID); err == nil && pc != nil {
			if i := in.ItemIndex(pc.CanonicalPacketURL); i >= 0 {
				itemIdx = i
			}
		}
		slots = append(slots, slot{tabID: t.ID, index: itemIdx})
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].index < slots[j].index })

	ordered := make([]int, len(slots))
	for i, s := range slots {
		ordered[i] = s.tabID
	}

	var lastErr error
	for attempt := 0; attempt < reorderRetries; attempt++ {
		lastErr = c.host.MoveTabs(ctx, ordered, minIndex)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, host.ErrGroupBusy) {
			return fmt.Errorf("tabgroups: move tabs: %w", lastErr)
		}
		c.logger.Warn("tabgroups: group busy, retrying", "group", groupID, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reorderBackoff):
		}
	}
	return fmt.Errorf("tabgroups: move tabs: %w", lastErr)
}

// EjectTabFromGroup ungroups a tab that no longer belongs to a packet.
func (c *Coordinator) EjectTabFromGroup(ctx context.Context, tabID int) error {
	if err := c.host.UngroupTabs(ctx, tabID); err != nil && !errors.Is(err, host.ErrNoSuchTab) {
		return fmt.Errorf("tabgroups: eject tab %d: %w", tabID, err)
	}
	return nil
}

// HandleGroupRemoved reacts to the host destroying a group. When the user
// closed it (not the runtime, signalled by the isClosingGroup session flag)
// the browser state records a manual disconnect so future tabs from that
// instance do not spontaneously re-create the group.
func (c *Coordinator) HandleGroupRemoved(ctx context.Context, groupID int) error {
	states, err := c.store.GetBrowserStates(ctx)
	if err != nil {
		return err
	}
	runtimeClose := c.session.GetBool(store.SessionClosingGroup)
	for _, bs := range states {
		if bs.TabGroupID != groupID {
			continue
		}
		bs.TabGroupID = 0
		if !runtimeClose {
			bs.ManualDisconnect = true
		}
		if err := c.store.PutBrowserState(ctx, bs); err != nil {
			return err
		}
		c.logger.Info("tabgroups: group removed",
			"group", groupID, "instanceId", bs.InstanceID, "manualDisconnect", bs.ManualDisconnect)
	}
	return nil
}
