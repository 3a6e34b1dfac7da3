// CLAUDE:SUMMARY Navigation coordinator — trusted intents, grace periods, the four-branch context decision, dwell timers, opener inheritance.
// Package nav decides what every navigation means for a tab's packet
// context. The decision procedure per event is strict and ordered:
//
//  1. trusted-intent stamping (UI opened this content deliberately)
//  2. grace period (redirects right after a stamp keep the context)
//  3. user-initiated transitions (transfer / demote / within-item)
//  4. non-breaking updates (history state, redirects) preserve context
//
// It also owns the dwell-visit timers. The intended canonical key is part
// of the timer record, fixed at scheduling time, so a late redirect during
// the dwell period still credits the item the user meant to read.
package nav

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/packetd/host"
	"github.com/hazyhaar/packetd/store"
	"github.com/hazyhaar/packetd/tabgroups"
)

// GracePeriod is the window after a trusted stamp during which follow-up
// redirects do not change the stamped context.
const GracePeriod = 250 * time.Millisecond

// Scheduler abstracts timer creation so tests can drive time. The returned
// cancel is idempotent.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func())
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Notifier receives the coordinator's outward effects. The runtime wires
// surfaces and the media controller in; tests use NopNotifier.
type Notifier interface {
	// StateChanged asks the UI surfaces to rebroadcast.
	StateChanged(ctx context.Context)
	// ShowConfetti celebrates an instance completing.
	ShowConfetti(ctx context.Context, instanceID string)
	// PromptCloseTabGroup offers to close the completed instance's group.
	PromptCloseTabGroup(ctx context.Context, instanceID string)
	// StopMediaForInstance stops narration owned by the instance.
	StopMediaForInstance(ctx context.Context, instanceID string)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) StateChanged(context.Context)                 {}
func (NopNotifier) ShowConfetti(context.Context, string)         {}
func (NopNotifier) PromptCloseTabGroup(context.Context, string)  {}
func (NopNotifier) StopMediaForInstance(context.Context, string) {}

// Coordinator consumes host navigation and tab events and maintains per-tab
// packet contexts.
type Coordinator struct {
	host     host.Host
	store    *store.Store
	session  *store.Session
	groups   *tabgroups.Coordinator
	notifier Notifier
	logger   *slog.Logger
	sched    Scheduler

	// barrier gates event processing until startup restoration completes.
	barrier func(ctx context.Context) error

	mu      sync.Mutex
	dwell   map[int]*dwellRecord
	interim map[int]store.Intent // opener-inherited contexts awaiting first navigation
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithScheduler overrides timer creation (tests).
func WithScheduler(s Scheduler) Option {
	return func(c *Coordinator) { c.sched = s }
}

// WithNotifier wires the outward effects.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithBarrier gates every handler on the given function, typically the
// runtime's initialization promise.
func WithBarrier(b func(ctx context.Context) error) Option {
	return func(c *Coordinator) { c.barrier = b }
}

// New creates a Coordinator.
func New(h host.Host, s *store.Store, session *store.Session, groups *tabgroups.Coordinator, opts ...Option) *Coordinator {
	c := &Coordinator{
		host:     h,
		store:    s,
		session:  session,
		groups:   groups,
		notifier: NopNotifier{},
		logger:   slog.Default(),
		sched:    realScheduler{},
		dwell:    make(map[int]*dwellRecord),
		interim:  make(map[int]store.Intent),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) await(ctx context.Context) error {
	if c.barrier == nil {
		return nil
	}
	return c.barrier(ctx)
}

// StampTrustedContext applies a trusted intent to a tab right now: context
// set, grace window opened, its expiry scheduled. Used by the navigation
// handler and by startup restoration.
func (c *Coordinator) StampTrustedContext(ctx context.Context, tabID int, intent store.Intent, observedURL string) error {
	err := c.store.PutPacketContext(ctx, tabID, &store.PacketContext{
		InstanceID:         intent.InstanceID,
		CanonicalPacketURL: intent.CanonicalPacketURL,
		CurrentBrowserURL:  observedURL,
	})
	if err != nil {
		return err
	}
	c.session.PutGracePeriod(tabID, time.Now())
	c.sched.AfterFunc(GracePeriod, func() {
		c.session.DeleteGracePeriod(tabID)
	})
	return nil
}
