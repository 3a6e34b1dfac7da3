package nav

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/packetd/host"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

// dwellRecord is a pending visit mark. The intended key is frozen at
// scheduling time so a context rewrite during the wait cannot credit the
// wrong item.
type dwellRecord struct {
	instanceID  string
	intendedKey string
	cancel      func()
}

// scheduleDwell arms (or re-arms) the visit timer for a tab whose context
// points at a trackable item. Items with interaction-based completion are
// never credited by time.
func (c *Coordinator) scheduleDwell(ctx context.Context, tabID int, pc *store.PacketContext, in *packet.Instance, settings store.Settings) {
	item := in.ItemByKey(pc.CanonicalPacketURL)
	if item == nil || !item.Trackable() || item.InteractionBasedCompletion {
		c.cancelDwell(tabID)
		return
	}
	if in.Visited(item) {
		return
	}

	// A pending timer for the same item keeps running; history-state
	// updates and redirects within an item do not reset the clock.
	c.mu.Lock()
	if cur := c.dwell[tabID]; cur != nil &&
		cur.instanceID == in.InstanceID && cur.intendedKey == pc.CanonicalPacketURL {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.cancelDwell(tabID)
	rec := &dwellRecord{instanceID: in.InstanceID, intendedKey: pc.CanonicalPacketURL}
	rec.cancel = c.sched.AfterFunc(settings.VisitThreshold(), func() {
		c.fireDwell(tabID, rec)
	})
	c.mu.Lock()
	c.dwell[tabID] = rec
	c.mu.Unlock()
}

func (c *Coordinator) cancelDwell(tabID int) {
	c.mu.Lock()
	rec := c.dwell[tabID]
	delete(c.dwell, tabID)
	c.mu.Unlock()
	if rec != nil && rec.cancel != nil {
		rec.cancel()
	}
}

// fireDwell runs when the threshold elapses. Everything is re-verified
// against live state: the tab must still exist and be focused, the context
// must still name the intended item, and the instance is re-read so a
// concurrent writer is never clobbered.
func (c *Coordinator) fireDwell(tabID int, rec *dwellRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	if c.dwell[tabID] != rec {
		c.mu.Unlock()
		return
	}
	delete(c.dwell, tabID)
	c.mu.Unlock()

	tab, err := c.host.GetTab(ctx, tabID)
	if err != nil {
		if !errors.Is(err, host.ErrNoSuchTab) {
			c.logger.Warn("nav: dwell tab lookup", "tab", tabID, "error", err)
		}
		return
	}
	if !tab.Active {
		return
	}

	pc, err := c.store.GetPacketContext(ctx, tabID)
	if err != nil || pc == nil {
		return
	}
	if pc.InstanceID != rec.instanceID || pc.CanonicalPacketURL != rec.intendedKey {
		return
	}

	in, err := c.store.GetPacketInstance(ctx, pc.InstanceID)
	if err != nil || in == nil {
		return
	}

	res := packet.MarkVisited(in, rec.intendedKey)
	if !res.Modified {
		return
	}
	if err := c.store.PutPacketInstance(ctx, in); err != nil {
		c.logger.Warn("nav: persist visit", "instanceId", in.InstanceID, "error", err)
		return
	}
	c.logger.Info("nav: visit recorded",
		"tab", tabID, "instanceId", in.InstanceID, "key", rec.intendedKey)
	c.notifier.StateChanged(ctx)

	if res.JustCompleted {
		c.CheckAndPromptForCompletion(ctx, in.InstanceID)
	}
}
