package runtime

import (
	"context"

	"github.com/hazyhaar/packetd/packet"
)

// RunGC removes state that no longer corresponds to anything live: contexts
// for closed tabs, browser states for deleted instances, and group bindings
// whose group id was recycled by the host for an unrelated group.
func (r *Runtime) RunGC(ctx context.Context) {
	tabs, err := r.host.QueryTabs(ctx)
	if err != nil {
		r.logger.Warn("gc: query tabs", "error", err)
		return
	}
	live := make(map[int]bool, len(tabs))
	for _, t := range tabs {
		live[t.ID] = true
	}

	contexts, err := r.store.AllPacketContexts(ctx)
	if err != nil {
		r.logger.Warn("gc: load contexts", "error", err)
		return
	}
	removedContexts := 0
	for tabID := range contexts {
		if live[tabID] {
			continue
		}
		if err := r.store.DeletePacketContext(ctx, tabID); err != nil {
			r.logger.Warn("gc: delete context", "tab", tabID, "error", err)
			continue
		}
		removedContexts++
	}

	instances, err := r.store.GetPacketInstances(ctx)
	if err != nil {
		r.logger.Warn("gc: load instances", "error", err)
		return
	}
	states, err := r.store.GetBrowserStates(ctx)
	if err != nil {
		r.logger.Warn("gc: load browser states", "error", err)
		return
	}

	removedStates := 0
	for instanceID, bs := range states {
		if _, ok := instances[instanceID]; !ok {
			if err := r.store.DeleteBrowserState(ctx, instanceID); err != nil {
				r.logger.Warn("gc: delete browser state", "instanceId", instanceID, "error", err)
				continue
			}
			removedStates++
			continue
		}

		changed := false
		if bs.TabGroupID != 0 && !r.groupBelongsTo(ctx, bs.TabGroupID, instanceID) {
			bs.TabGroupID = 0
			changed = true
		}
		var alive []int
		for _, id := range bs.ActiveTabIDs {
			if live[id] {
				alive = append(alive, id)
			}
		}
		if len(alive) != len(bs.ActiveTabIDs) {
			bs.ActiveTabIDs = alive
			changed = true
		}
		if changed {
			if err := r.store.PutBrowserState(ctx, bs); err != nil {
				r.logger.Warn("gc: update browser state", "instanceId", instanceID, "error", err)
			}
		}
	}

	if removedContexts > 0 || removedStates > 0 {
		r.logger.Info("gc done",
			"contextsRemoved", removedContexts, "statesRemoved", removedStates)
	}
}

// groupBelongsTo reports whether a group id still refers to this instance's
// group. The host recycles group ids, so the id alone proves nothing; the
// title has to decode back to the same instance.
func (r *Runtime) groupBelongsTo(ctx context.Context, groupID int, instanceID string) bool {
	g, err := r.host.GetGroup(ctx, groupID)
	if err != nil {
		return false
	}
	return packet.InstanceIDFromTitle(g.Title) == instanceID
}
