package tabgroups

import (
	"context"
	"fmt"

	"github.com/hazyhaar/packetd/host"
)

// DraftGroupTitle is the fixed title of the authoring ("builder") group.
// It deliberately lacks the PKT- prefix, so it can never collide with an
// instance group or decode to an instance id.
const DraftGroupTitle = "Draft"

// FocusOrCreateDraftTab focuses an existing draft tab showing url, or opens
// a new one inside the draft group.
func (c *Coordinator) FocusOrCreateDraftTab(ctx context.Context, url string) (host.Tab, error) {
	gid := c.findDraftGroup(ctx)
	if gid != 0 {
		tabs, err := c.host.TabsInGroup(ctx, gid)
		if err == nil {
			for _, t := range tabs {
				if t.URL == url {
					return t, c.host.FocusTab(ctx, t.ID)
				}
			}
		}
	}

	tab, err := c.host.CreateTab(ctx, url, true)
	if err != nil {
		return host.Tab{}, fmt.Errorf("tabgroups: create draft tab: %w", err)
	}
	gid, err = c.host.GroupTabs(ctx, gid, tab.ID)
	if err != nil {
		return tab, fmt.Errorf("tabgroups: group draft tab: %w", err)
	}
	if err := c.host.UpdateGroup(ctx, gid, DraftGroupTitle, "grey"); err != nil {
		c.logger.Warn("tabgroups: draft title update failed", "error", err)
	}
	return tab, nil
}

// SyncDraftGroup makes the draft group show exactly desiredURLs: missing
// tabs are opened, stray tabs are closed.
func (c *Coordinator) SyncDraftGroup(ctx context.Context, desiredURLs []string) error {
	gid := c.findDraftGroup(ctx)

	var existing []host.Tab
	if gid != 0 {
		tabs, err := c.host.TabsInGroup(ctx, gid)
		if err != nil {
			return fmt.Errorf("tabgroups: sync draft: %w", err)
		}
		existing = tabs
	}

	desired := make(map[string]bool, len(desiredURLs))
	for _, u := range desiredURLs {
		desired[u] = true
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		if desired[t.URL] {
			have[t.URL] = true
			continue
		}
		if err := c.host.CloseTab(ctx, t.ID); err != nil {
			c.logger.Warn("tabgroups: close stray draft tab", "tab", t.ID, "error", err)
		}
	}

	for _, u := range desiredURLs {
		if have[u] {
			continue
		}
		tab, err := c.host.CreateTab(ctx, u, false)
		if err != nil {
			return fmt.Errorf("tabgroups: sync draft: %w", err)
		}
		gid, err = c.host.GroupTabs(ctx, gid, tab.ID)
		if err != nil {
			return fmt.Errorf("tabgroups: sync draft: %w", err)
		}
		if err := c.host.UpdateGroup(ctx, gid, DraftGroupTitle, "grey"); err != nil {
			c.logger.Warn("tabgroups: draft title update failed", "error", err)
		}
	}
	return nil
}

func (c *Coordinator) findDraftGroup(ctx context.Context) int {
	groups, err := c.host.QueryGroups(ctx)
	if err != nil {
		return 0
	}
	for _, g := range groups {
		if g.Title == DraftGroupTitle {
			return g.ID
		}
	}
	return 0
}
