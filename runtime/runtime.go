// CLAUDE:SUMMARY Runtime orchestrator — wires storage, host, coordinators, media, router and surfaces; owns startup restoration and the lifecycle barrier.
// Package runtime assembles the packet daemon. Runtime owns the lifecycle:
// construction wires every component, Start runs restoration and opens the
// event barrier, Close tears down in reverse order.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/packetd/auxdoc"
	"github.com/hazyhaar/packetd/cloud"
	"github.com/hazyhaar/packetd/host"
	"github.com/hazyhaar/packetd/media"
	"github.com/hazyhaar/packetd/nav"
	"github.com/hazyhaar/packetd/router"
	"github.com/hazyhaar/packetd/rules"
	"github.com/hazyhaar/packetd/store"
	"github.com/hazyhaar/packetd/surfaces"
	"github.com/hazyhaar/packetd/tabgroups"
	"github.com/hazyhaar/packetd/watch"
)

const (
	gcAlarm       = "gc"
	gcPeriod      = 30 * time.Minute
	rulesAlarm    = "rules_refresh"
	stuckCreating = 2 * time.Hour
)

// Deps are the externally provided collaborators.
type Deps struct {
	DB     *sql.DB
	Host   host.Host
	Audio  media.AudioDocument
	Signer cloud.Presigner
	Logger *slog.Logger
}

// Runtime is the daemon's component graph.
type Runtime struct {
	logger  *slog.Logger
	store   *store.Store
	session *store.Session
	host    host.Host
	proc    *auxdoc.Processor

	groups      *tabgroups.Coordinator
	nav         *nav.Coordinator
	media       *media.Controller
	rules       *rules.Manager
	router      *router.Router
	hub         *surfaces.SidebarHub
	broadcaster *surfaces.Broadcaster
	alarms      *AlarmScheduler
	watcher     *watch.Watcher

	ready     chan struct{} // closed when restoration completes
	restoring atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// New wires the component graph. Nothing runs until Start.
func New(d Deps) (*Runtime, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	st, err := store.OpenDB(d.DB, store.WithLogger(d.Logger.With("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}

	rt := &Runtime{
		logger:  d.Logger.With("component", "runtime"),
		store:   st,
		session: store.NewSession(),
		host:    d.Host,
		proc:    auxdoc.NewProcessor(),
		ready:   make(chan struct{}),
	}
	rt.restoring.Store(true)

	rt.alarms = NewAlarmScheduler(d.Logger.With("component", "alarms"))

	rt.groups = tabgroups.New(d.Host, st, rt.session,
		tabgroups.WithLogger(d.Logger.With("component", "tabgroups")))

	rt.media = media.New(st, rt.session, d.Audio,
		media.WithLogger(d.Logger.With("component", "media")),
		media.WithAlarms(rt.alarms),
		media.WithNotifier(&mediaNotifier{rt: rt}))

	rt.nav = nav.New(d.Host, st, rt.session, rt.groups,
		nav.WithLogger(d.Logger.With("component", "nav")),
		nav.WithBarrier(rt.await),
		nav.WithNotifier(&navNotifier{rt: rt}))

	rt.rules = rules.New(st, d.Signer,
		rules.WithLogger(d.Logger.With("component", "rules")))

	rt.router = router.New(router.WithLogger(d.Logger.With("component", "router")))
	rt.hub = surfaces.NewSidebarHub(rt.session, rt.router,
		surfaces.WithHubLogger(d.Logger.With("component", "sidebar")),
		surfaces.WithOpenChange(func(bool) {
			rt.Broadcast(context.Background(), surfaces.BroadcastOptions{})
		}))
	rt.broadcaster = surfaces.NewBroadcaster(st, d.Host, rt.media, rt.hub,
		d.Logger.With("component", "surfaces"))

	rt.watcher = watch.New(d.DB, watch.Options{
		Logger: d.Logger.With("component", "watch"),
	})

	rt.registerActions()
	return rt, nil
}

// Router exposes the action router, for transports mounted by the caller.
func (r *Runtime) Router() *router.Router { return r.router }

// Hub exposes the sidebar hub for HTTP mounting.
func (r *Runtime) Hub() *surfaces.SidebarHub { return r.hub }

// Store exposes the durable store.
func (r *Runtime) Store() *store.Store { return r.store }

// Rules exposes the rule manager.
func (r *Runtime) Rules() *rules.Manager { return r.rules }

// Media exposes the media controller.
func (r *Runtime) Media() *media.Controller { return r.media }

// await blocks the caller until startup restoration completed.
func (r *Runtime) await(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restoring reports whether startup restoration is still in progress.
func (r *Runtime) Restoring() bool { return r.restoring.Load() }

// Start runs restoration, subscribes to host events, and starts the
// background loops. It returns once the barrier is open.
func (r *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.hub.Run(runCtx)

	freshStart := !r.session.GetBool(store.SessionStartupComplete)
	if freshStart {
		if err := r.restore(runCtx); err != nil {
			cancel()
			return fmt.Errorf("runtime: restore: %w", err)
		}
		r.session.Put(store.SessionStartupComplete, true)
	} else if err := r.rules.RefreshAllRules(runCtx); err != nil {
		r.logger.Warn("rule refresh on wake", "error", err)
	}

	r.subscribe(runCtx)

	r.alarms.Handle(rulesAlarm, func(ctx context.Context) {
		if err := r.rules.RefreshAllRules(ctx); err != nil {
			r.logger.Warn("periodic rule refresh", "error", err)
		}
	})
	r.alarms.Create(rulesAlarm, rules.RefreshInterval)
	r.alarms.Handle(gcAlarm, func(ctx context.Context) {
		r.RunGC(ctx)
	})
	r.alarms.Create(gcAlarm, gcPeriod)
	r.alarms.Handle(media.KeepAliveAlarm, func(context.Context) {
		// Presence of the tick is the point: it keeps the process's idle
		// machinery from parking a paused track.
		r.logger.Debug("media keep-alive tick")
	})

	go r.watcher.OnChange(runCtx, func() error {
		r.Broadcast(runCtx, surfaces.BroadcastOptions{})
		return nil
	})

	r.restoring.Store(false)
	close(r.ready)
	r.logger.Info("runtime started", "freshStart", freshStart)

	r.Broadcast(runCtx, surfaces.BroadcastOptions{})
	return nil
}

// subscribe routes host events into the coordinators.
func (r *Runtime) subscribe(ctx context.Context) {
	r.host.Subscribe(host.Handlers{
		OnCommitted: func(ev host.NavigationEvent) {
			r.nav.HandleNavigation(ctx, ev)
		},
		OnHistoryStateUpdated: func(ev host.NavigationEvent) {
			ev.HistoryState = true
			r.nav.HandleNavigation(ctx, ev)
		},
		OnTabCreated: func(tab host.Tab) {
			r.nav.HandleTabCreated(ctx, tab)
		},
		OnTabActivated: func(tabID int) {
			r.nav.HandleTabActivated(ctx, tabID)
			// Re-address the overlay to the newly focused tab.
			r.Broadcast(ctx, surfaces.BroadcastOptions{})
		},
		OnTabRemoved: func(tabID int) {
			r.nav.HandleTabRemoved(ctx, tabID)
			r.Broadcast(ctx, surfaces.BroadcastOptions{})
		},
		OnTabReplaced: func(added, removed int) {
			r.nav.HandleTabReplaced(ctx, added, removed)
		},
		OnGroupRemoved: func(groupID int) {
			if err := r.groups.HandleGroupRemoved(ctx, groupID); err != nil {
				r.logger.Warn("group removed", "group", groupID, "error", err)
			}
		},
	})
}

// Broadcast pushes the unified state to both surfaces.
func (r *Runtime) Broadcast(ctx context.Context, opts surfaces.BroadcastOptions) {
	r.broadcaster.Broadcast(ctx, opts)
}

// Close stops background loops and flushes playback state.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if err := r.media.Stop(context.Background()); err != nil {
			r.logger.Warn("stop media on close", "error", err)
		}
		r.alarms.Close()
		if r.cancel != nil {
			r.cancel()
		}
	})
	return nil
}

// navNotifier adapts the runtime to the navigation coordinator's effects.
type navNotifier struct{ rt *Runtime }

func (n *navNotifier) StateChanged(ctx context.Context) {
	n.rt.Broadcast(ctx, surfaces.BroadcastOptions{ShowVisitedAnimation: true})
}

func (n *navNotifier) ShowConfetti(ctx context.Context, instanceID string) {
	n.rt.hub.Push("show_confetti", map[string]string{"instanceId": instanceID})
}

func (n *navNotifier) PromptCloseTabGroup(ctx context.Context, instanceID string) {
	n.rt.hub.Push("prompt_close_tab_group", map[string]string{"instanceId": instanceID})
}

func (n *navNotifier) StopMediaForInstance(ctx context.Context, instanceID string) {
	if err := n.rt.media.StopForInstance(ctx, instanceID); err != nil {
		n.rt.logger.Warn("stop media for instance", "instanceId", instanceID, "error", err)
	}
}

// mediaNotifier adapts playback effects back into the runtime.
type mediaNotifier struct{ rt *Runtime }

func (m *mediaNotifier) PlaybackChanged(ctx context.Context, animate bool) {
	m.rt.Broadcast(ctx, surfaces.BroadcastOptions{AnimateMention: animate})
}

func (m *mediaNotifier) TrackFinished(ctx context.Context, instanceID string) {
	m.rt.nav.CheckAndPromptForCompletion(ctx, instanceID)
}
