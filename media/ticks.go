package media

import (
	"context"
	"time"

	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

// HandleTimeUpdate processes a periodic playback tick from the auxiliary
// document. Ticks for anything but the active playing track are dropped.
func (c *Controller) HandleTimeUpdate(ctx context.Context, itemKey string, currentTime, duration float64) error {
	c.mu.Lock()

	if c.state == nil || !c.state.IsPlaying || c.state.CanonicalPacketURL != itemKey {
		c.mu.Unlock()
		return nil
	}
	c.state.CurrentTime = currentTime
	if duration > 0 {
		c.state.Duration = duration
	}

	in := c.pendingInstanceLocked(ctx)
	if in == nil {
		c.mu.Unlock()
		return nil
	}
	item := in.ItemByKey(itemKey)
	if item == nil {
		c.mu.Unlock()
		return nil
	}

	// Reveal every mention whose moment has passed. grew is true only when
	// a link was added this tick.
	grew := false
	last := ""
	lastStart := -1.0
	for _, ts := range item.Timestamps {
		if ts.StartTime > currentTime {
			continue
		}
		if packet.MentionLink(in, ts.URL) {
			grew = true
		}
		if ts.StartTime > lastStart {
			lastStart = ts.StartTime
			last = ts.URL
		}
	}
	animate := last != "" && last != c.state.LastMentionedLink
	c.state.LastMentionedLink = last

	item.CurrentTime = currentTime
	if duration > 0 {
		item.Duration = duration
	}
	c.scheduleWriteLocked()
	c.persistSessionLocked()

	finished := false
	var finishedInstance string
	if duration > 0 && currentTime >= duration {
		res := packet.MarkVisited(in, itemKey)
		if res.Modified {
			finished = true
			finishedInstance = in.InstanceID
		}
		c.flushLocked(ctx)
	}

	autoPause := grew && !c.session.GetBool(store.SessionSidebarOpen)
	c.mu.Unlock()

	if autoPause {
		settings, err := c.store.GetSettings(ctx)
		if err == nil && settings.AutoPauseOnReveal {
			if err := c.Pause(ctx); err != nil {
				c.logger.Warn("media: auto-pause", "error", err)
			}
		}
	}

	c.notifier.PlaybackChanged(ctx, animate)
	if finished {
		c.notifier.TrackFinished(ctx, finishedInstance)
	}
	return nil
}

// pendingInstanceLocked returns the instance copy the debounced writer will
// persist, loading it on first use so every tick mutates the same copy.
func (c *Controller) pendingInstanceLocked(ctx context.Context) *packet.Instance {
	if c.pending != nil && c.state != nil && c.pending.InstanceID == c.state.InstanceID {
		return c.pending
	}
	if c.state == nil {
		return nil
	}
	in, err := c.store.GetPacketInstance(ctx, c.state.InstanceID)
	if err != nil || in == nil {
		if err != nil {
			c.logger.Warn("media: load instance for tick", "error", err)
		}
		return nil
	}
	c.pending = in
	return in
}

// savePositionLocked copies the live position into the pending instance's
// media item so the next flush writes it.
func (c *Controller) savePositionLocked(ctx context.Context) {
	if c.state == nil {
		return
	}
	in := c.pendingInstanceLocked(ctx)
	if in == nil {
		return
	}
	if item := in.ItemByKey(c.state.CanonicalPacketURL); item != nil {
		item.CurrentTime = c.state.CurrentTime
		if c.state.Duration > 0 {
			item.Duration = c.state.Duration
		}
	}
}

// scheduleWriteLocked arms (or re-arms) the debounced persist: playback
// produces at most roughly one write per second.
func (c *Controller) scheduleWriteLocked() {
	if c.flush != nil {
		c.flush()
	}
	c.flush = c.sched.AfterFunc(writeQuiet, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.flushLocked(ctx)
	})
}

// flushLocked writes the pending instance immediately and disarms the timer.
func (c *Controller) flushLocked(ctx context.Context) {
	if c.flush != nil {
		c.flush()
		c.flush = nil
	}
	if c.pending == nil {
		return
	}
	// Navigation credits visits on the stored record while this copy
	// accumulates playback state. Union the credit sets before writing so
	// neither writer loses the other's.
	if stored, err := c.store.GetPacketInstance(ctx, c.pending.InstanceID); err == nil && stored != nil {
		c.pending.VisitedURLs = mergeCredits(c.pending.VisitedURLs, stored.VisitedURLs)
		c.pending.VisitedGeneratedPageIDs = mergeCredits(c.pending.VisitedGeneratedPageIDs, stored.VisitedGeneratedPageIDs)
		c.pending.MentionedMediaLinks = mergeCredits(c.pending.MentionedMediaLinks, stored.MentionedMediaLinks)
	}
	if err := c.store.PutPacketInstance(ctx, c.pending); err != nil {
		c.logger.Warn("media: persist playback position", "instanceId", c.pending.InstanceID, "error", err)
		return
	}
	if c.state == nil || c.state.InstanceID != c.pending.InstanceID {
		c.pending = nil
	}
}

func mergeCredits(have, stored []string) []string {
	for _, s := range stored {
		seen := false
		for _, h := range have {
			if h == s {
				seen = true
				break
			}
		}
		if !seen {
			have = append(have, s)
		}
	}
	return have
}
