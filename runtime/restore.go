package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

// restore rebuilds in-memory and per-tab state after a cold start. The
// browser may have restarted underneath us: tab ids are new, so contexts
// are re-derived from tab-group titles and tab order rather than trusted
// as stored.
func (r *Runtime) restore(ctx context.Context) error {
	if _, err := r.store.GetSettings(ctx); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if err := r.sweepStuckCreating(ctx); err != nil {
		r.logger.Warn("stuck-creating sweep", "error", err)
	}

	if err := r.rules.RefreshAllRules(ctx); err != nil {
		r.logger.Warn("initial rule refresh", "error", err)
	}

	if err := r.restoreContexts(ctx); err != nil {
		r.logger.Warn("context restoration", "error", err)
	}

	r.RunGC(ctx)
	return nil
}

// restoreContexts re-binds tabs to packet items after a browser restart.
// Group titles are the only durable link between a tab group and an
// instance; within a recognized group, tabs are matched to the instance's
// tabbable items in positional order.
func (r *Runtime) restoreContexts(ctx context.Context) error {
	groups, err := r.host.QueryGroups(ctx)
	if err != nil {
		return fmt.Errorf("query groups: %w", err)
	}
	instances, err := r.store.GetPacketInstances(ctx)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}

	stale, err := r.store.AllPacketContexts(ctx)
	if err != nil {
		return fmt.Errorf("load contexts: %w", err)
	}
	restored := make(map[int]bool)

	for _, g := range groups {
		instanceID := packet.InstanceIDFromTitle(g.Title)
		if instanceID == "" {
			continue
		}
		in, ok := instances[instanceID]
		if !ok {
			r.logger.Warn("group title names unknown instance",
				"group", g.ID, "instanceId", instanceID)
			continue
		}

		tabs, err := r.host.TabsInGroup(ctx, g.ID)
		if err != nil {
			r.logger.Warn("list group tabs", "group", g.ID, "error", err)
			continue
		}

		var tabbable []*packet.Item
		for i := range in.Contents {
			if in.Contents[i].Tabbable() {
				tabbable = append(tabbable, &in.Contents[i])
			}
		}

		bs := &store.BrowserState{InstanceID: instanceID, TabGroupID: g.ID}
		for i, tab := range tabs {
			if i >= len(tabbable) {
				break
			}
			pc := &store.PacketContext{
				InstanceID:         instanceID,
				CanonicalPacketURL: tabbable[i].CanonicalKey(),
				CurrentBrowserURL:  tab.URL,
			}
			if err := r.store.PutPacketContext(ctx, tab.ID, pc); err != nil {
				return fmt.Errorf("restore context for tab %d: %w", tab.ID, err)
			}
			restored[tab.ID] = true
			bs.ActiveTabIDs = append(bs.ActiveTabIDs, tab.ID)
			if tab.Active {
				bs.LastActiveURL = tab.URL
			}
		}
		if err := r.store.PutBrowserState(ctx, bs); err != nil {
			return fmt.Errorf("restore browser state %s: %w", instanceID, err)
		}
		r.logger.Info("restored group",
			"group", g.ID, "instanceId", instanceID, "tabs", len(bs.ActiveTabIDs))
	}

	// Contexts keyed by pre-restart tab ids are meaningless now.
	for tabID := range stale {
		if restored[tabID] {
			continue
		}
		if err := r.store.DeletePacketContext(ctx, tabID); err != nil {
			r.logger.Warn("drop stale context", "tab", tabID, "error", err)
		}
	}
	return nil
}

// sweepStuckCreating deletes instances that never left the creating state.
// A packet stuck in creation for hours will not finish; its half-written
// blobs are removed with it when no sibling instance shares the image.
func (r *Runtime) sweepStuckCreating(ctx context.Context) error {
	instances, err := r.store.GetPacketInstances(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-stuckCreating)
	for id, in := range instances {
		if in.Status != packet.StatusCreating || !in.Instantiated.Before(cutoff) {
			continue
		}
		r.logger.Warn("removing stuck instance",
			"instanceId", id, "instantiated", in.Instantiated)
		if err := r.removeInstanceData(ctx, in, instances); err != nil {
			r.logger.Warn("remove stuck instance", "instanceId", id, "error", err)
		}
		delete(instances, id)
	}
	return nil
}

// removeInstanceData deletes an instance and everything keyed by it. Blobs
// belong to the image and are removed only when no other instance uses it.
func (r *Runtime) removeInstanceData(ctx context.Context, in *packet.Instance, all map[string]*packet.Instance) error {
	if err := r.store.DeletePacketInstance(ctx, in.InstanceID); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if err := r.store.DeleteBrowserState(ctx, in.InstanceID); err != nil {
		r.logger.Warn("delete browser state", "instanceId", in.InstanceID, "error", err)
	}
	r.rules.RemovePacketRules(in.InstanceID)

	lastUser := true
	for id, other := range all {
		if id != in.InstanceID && other.ImageID == in.ImageID {
			lastUser = false
			break
		}
	}
	if lastUser && in.ImageID != "" {
		if err := r.store.DeleteGeneratedContentForImage(ctx, in.ImageID); err != nil {
			r.logger.Warn("delete blobs", "imageId", in.ImageID, "error", err)
		}
	}
	return nil
}
