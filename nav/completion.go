package nav

import (
	"context"
)

// CheckAndPromptForCompletion runs the one-time completion ceremony. The
// instance is re-read so the acknowledged flag reflects whatever landed
// last, which keeps the ceremony idempotent across racing writers.
func (c *Coordinator) CheckAndPromptForCompletion(ctx context.Context, instanceID string) {
	in, err := c.store.GetPacketInstance(ctx, instanceID)
	if err != nil || in == nil {
		return
	}
	if !in.Completed() || in.CompletionAcknowledged {
		return
	}

	in.CompletionAcknowledged = true
	if err := c.store.PutPacketInstance(ctx, in); err != nil {
		c.logger.Warn("nav: acknowledge completion", "instanceId", instanceID, "error", err)
		return
	}

	c.logger.Info("nav: packet completed", "instanceId", instanceID)
	c.notifier.StopMediaForInstance(ctx, instanceID)

	settings, err := c.store.GetSettings(ctx)
	if err == nil && settings.ConfettiEnabled {
		c.notifier.ShowConfetti(ctx, instanceID)
	}
	if err == nil && settings.TabGroupsEnabled {
		c.notifier.PromptCloseTabGroup(ctx, instanceID)
	}
}
