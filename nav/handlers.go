package nav

import (
	"context"
	"errors"
	"strings"

	"github.com/hazyhaar/packetd/host"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

// HandleNavigation is the per-event decision procedure. Main-frame HTTP(S)
// commits and history-state updates both arrive here; the branches below
// are mutually exclusive per event.
func (c *Coordinator) HandleNavigation(ctx context.Context, ev host.NavigationEvent) {
	if err := c.await(ctx); err != nil {
		return
	}
	if !strings.HasPrefix(ev.URL, "http://") && !strings.HasPrefix(ev.URL, "https://") {
		return
	}

	// 1. Trusted-intent stamping.
	if intent, ok := c.session.TakeTrustedIntent(ev.TabID); ok {
		if err := c.StampTrustedContext(ctx, ev.TabID, intent, ev.URL); err != nil {
			c.logger.Warn("nav: stamp trusted context", "tab", ev.TabID, "error", err)
			return
		}
		c.logger.Debug("nav: trusted intent stamped",
			"tab", ev.TabID, "instanceId", intent.InstanceID, "key", intent.CanonicalPacketURL)
		c.afterDecision(ctx, ev.TabID, ev.URL)
		return
	}

	pc, err := c.store.GetPacketContext(ctx, ev.TabID)
	if err != nil {
		c.logger.Warn("nav: read context", "tab", ev.TabID, "error", err)
		return
	}

	// 2. Grace period: an intentional open is still settling through
	// redirects. Preserve (instance, key), track only the observed URL.
	if _, open := c.session.GracePeriod(ev.TabID); open && pc != nil {
		pc.CurrentBrowserURL = ev.URL
		if err := c.store.PutPacketContext(ctx, ev.TabID, pc); err != nil {
			c.logger.Warn("nav: grace update", "tab", ev.TabID, "error", err)
		}
		c.afterDecision(ctx, ev.TabID, ev.URL)
		return
	}

	// Opener inheritance: a fresh child tab's first navigation adopts the
	// interim context captured at creation.
	if pc == nil {
		if intent, ok := c.takeInterim(ev.TabID); ok {
			if err := c.StampTrustedContext(ctx, ev.TabID, intent, ev.URL); err == nil {
				c.afterDecision(ctx, ev.TabID, ev.URL)
			}
			return
		}
		return
	}

	in, err := c.store.GetPacketInstance(ctx, pc.InstanceID)
	if err != nil || in == nil {
		// Context points at a vanished instance; demote quietly.
		c.demote(ctx, ev.TabID)
		return
	}

	// 3. User-initiated transitions may transfer or break the context.
	if !ev.HistoryState && ev.Transition.UserInitiated() {
		matched := packet.MatchItem(ev.URL, in.Contents)
		switch {
		case matched == nil:
			c.logger.Info("nav: tab left packet",
				"tab", ev.TabID, "instanceId", in.InstanceID, "url", ev.URL)
			c.demote(ctx, ev.TabID)
			return
		case matched.CanonicalKey() != pc.CanonicalPacketURL:
			c.transfer(ctx, ev.TabID, pc, in, matched, ev.URL)
			c.afterDecision(ctx, ev.TabID, ev.URL)
			return
		}
		// Same item: fall through to the non-breaking update.
	}

	// 4. Non-breaking update: history state, redirects, reloads, and
	// within-item user navigation all preserve (instance, key).
	pc.CurrentBrowserURL = ev.URL
	if err := c.store.PutPacketContext(ctx, ev.TabID, pc); err != nil {
		c.logger.Warn("nav: context update", "tab", ev.TabID, "error", err)
	}
	c.afterDecision(ctx, ev.TabID, ev.URL)
}

// transfer moves the tab to a different item of the same instance. If some
// other tab already holds that item, the duplicate is closed first: the tab
// the user just navigated wins.
func (c *Coordinator) transfer(ctx context.Context, tabID int, pc *store.PacketContext, in *packet.Instance, item *packet.Item, observedURL string) {
	key := item.CanonicalKey()

	all, err := c.store.AllPacketContexts(ctx)
	if err == nil {
		for otherTab, other := range all {
			if otherTab == tabID {
				continue
			}
			if other.InstanceID == in.InstanceID && other.CanonicalPacketURL == key {
				c.logger.Info("nav: squashing duplicate tab",
					"kept", tabID, "closed", otherTab, "key", key)
				if err := c.host.CloseTab(ctx, otherTab); err != nil && !errors.Is(err, host.ErrNoSuchTab) {
					c.logger.Warn("nav: close duplicate", "tab", otherTab, "error", err)
				}
			}
		}
	}

	c.cancelDwell(tabID)
	pc.CanonicalPacketURL = key
	pc.CurrentBrowserURL = observedURL
	if err := c.store.PutPacketContext(ctx, tabID, pc); err != nil {
		c.logger.Warn("nav: transfer", "tab", tabID, "error", err)
	}
}

// demote clears a tab's context and, when grouping is on, ejects it from
// its group.
func (c *Coordinator) demote(ctx context.Context, tabID int) {
	c.cancelDwell(tabID)

	pc, _ := c.store.GetPacketContext(ctx, tabID)
	if err := c.store.DeletePacketContext(ctx, tabID); err != nil {
		c.logger.Warn("nav: demote", "tab", tabID, "error", err)
	}

	settings, err := c.store.GetSettings(ctx)
	if err == nil && settings.TabGroupsEnabled {
		if err := c.groups.EjectTabFromGroup(ctx, tabID); err != nil {
			c.logger.Warn("nav: eject", "tab", tabID, "error", err)
		}
	}

	if pc != nil {
		c.removeFromBrowserState(ctx, pc.InstanceID, tabID)
	}
}

// afterDecision runs the shared post-processing whenever a context is
// present: browser-state reconciliation, grouping, and the dwell timer.
func (c *Coordinator) afterDecision(ctx context.Context, tabID int, observedURL string) {
	pc, err := c.store.GetPacketContext(ctx, tabID)
	if err != nil || pc == nil {
		return
	}
	in, err := c.store.GetPacketInstance(ctx, pc.InstanceID)
	if err != nil || in == nil {
		return
	}

	bs, err := c.store.GetBrowserState(ctx, pc.InstanceID)
	if err != nil {
		return
	}
	if bs == nil {
		bs = &store.BrowserState{InstanceID: pc.InstanceID, ActiveTabIDs: []int{}}
	}
	bs.LastActiveURL = observedURL
	if !containsInt(bs.ActiveTabIDs, tabID) {
		bs.ActiveTabIDs = append(bs.ActiveTabIDs, tabID)
	}
	if err := c.store.PutBrowserState(ctx, bs); err != nil {
		c.logger.Warn("nav: browser state", "instanceId", pc.InstanceID, "error", err)
	}

	settings, err := c.store.GetSettings(ctx)
	if err == nil && settings.TabGroupsEnabled {
		if gid, err := c.groups.EnsureTabInGroup(ctx, tabID, in); err != nil {
			c.logger.Warn("nav: ensure group", "tab", tabID, "error", err)
		} else if gid != 0 {
			c.groups.ScheduleOrder(gid, in)
		}
	}

	c.scheduleDwell(ctx, tabID, pc, in, settings)
}

// --- tab lifecycle events ---

// HandleTabCreated captures opener inheritance: a child of a packet tab
// holds an interim context until its first navigation stamps it.
func (c *Coordinator) HandleTabCreated(ctx context.Context, tab host.Tab) {
	if err := c.await(ctx); err != nil {
		return
	}
	if tab.OpenerTabID == 0 {
		return
	}
	pc, err := c.store.GetPacketContext(ctx, tab.OpenerTabID)
	if err != nil || pc == nil {
		return
	}
	c.mu.Lock()
	c.interim[tab.ID] = store.Intent{
		InstanceID:         pc.InstanceID,
		CanonicalPacketURL: pc.CanonicalPacketURL,
	}
	c.mu.Unlock()
	c.logger.Debug("nav: interim context inherited",
		"tab", tab.ID, "opener", tab.OpenerTabID, "instanceId", pc.InstanceID)
}

// HandleTabActivated restarts the dwell clock for the newly focused tab.
func (c *Coordinator) HandleTabActivated(ctx context.Context, tabID int) {
	if err := c.await(ctx); err != nil {
		return
	}
	pc, err := c.store.GetPacketContext(ctx, tabID)
	if err != nil || pc == nil {
		return
	}
	in, err := c.store.GetPacketInstance(ctx, pc.InstanceID)
	if err != nil || in == nil {
		return
	}
	settings, _ := c.store.GetSettings(ctx)
	c.scheduleDwell(ctx, tabID, pc, in, settings)
}

// HandleTabRemoved tears down everything keyed by a closed tab.
func (c *Coordinator) HandleTabRemoved(ctx context.Context, tabID int) {
	c.cancelDwell(tabID)
	c.mu.Lock()
	delete(c.interim, tabID)
	c.mu.Unlock()
	c.session.DropTab(tabID)

	pc, _ := c.store.GetPacketContext(ctx, tabID)
	if err := c.store.DeletePacketContext(ctx, tabID); err != nil {
		c.logger.Warn("nav: drop context", "tab", tabID, "error", err)
	}
	if pc != nil {
		c.removeFromBrowserState(ctx, pc.InstanceID, tabID)
	}
}

// HandleTabReplaced migrates the context when the host swaps a tab id
// (prerender adoption). The interim entry of the removed tab is dropped.
func (c *Coordinator) HandleTabReplaced(ctx context.Context, addedTabID, removedTabID int) {
	if err := c.await(ctx); err != nil {
		return
	}
	c.cancelDwell(removedTabID)
	c.mu.Lock()
	delete(c.interim, removedTabID)
	c.mu.Unlock()

	pc, err := c.store.GetPacketContext(ctx, removedTabID)
	if err != nil || pc == nil {
		return
	}
	if err := c.store.PutPacketContext(ctx, addedTabID, pc); err != nil {
		c.logger.Warn("nav: migrate context", "from", removedTabID, "to", addedTabID, "error", err)
		return
	}
	if err := c.store.DeletePacketContext(ctx, removedTabID); err != nil {
		c.logger.Warn("nav: drop replaced context", "tab", removedTabID, "error", err)
	}
	c.session.DropTab(removedTabID)
	c.removeFromBrowserState(ctx, pc.InstanceID, removedTabID)
	c.addToBrowserState(ctx, pc.InstanceID, addedTabID)
}

// --- helpers ---

func (c *Coordinator) takeInterim(tabID int) (store.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	intent, ok := c.interim[tabID]
	if ok {
		delete(c.interim, tabID)
	}
	return intent, ok
}

func (c *Coordinator) removeFromBrowserState(ctx context.Context, instanceID string, tabID int) {
	bs, err := c.store.GetBrowserState(ctx, instanceID)
	if err != nil || bs == nil {
		return
	}
	kept := bs.ActiveTabIDs[:0]
	for _, id := range bs.ActiveTabIDs {
		if id != tabID {
			kept = append(kept, id)
		}
	}
	bs.ActiveTabIDs = kept
	if err := c.store.PutBrowserState(ctx, bs); err != nil {
		c.logger.Warn("nav: browser state", "instanceId", instanceID, "error", err)
	}
}

func (c *Coordinator) addToBrowserState(ctx context.Context, instanceID string, tabID int) {
	bs, err := c.store.GetBrowserState(ctx, instanceID)
	if err != nil || bs == nil {
		return
	}
	if !containsInt(bs.ActiveTabIDs, tabID) {
		bs.ActiveTabIDs = append(bs.ActiveTabIDs, tabID)
		if err := c.store.PutBrowserState(ctx, bs); err != nil {
			c.logger.Warn("nav: browser state", "instanceId", instanceID, "error", err)
		}
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
