package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AlarmScheduler runs named periodic alarms. Handlers are registered by
// name; Create starts (or restarts) the ticker for that name, Clear stops
// it. An alarm created before its handler is registered ticks into a no-op,
// which matches how the media controller re-arms its keep-alive.
type AlarmScheduler struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]func(context.Context)
	running  map[string]func() // cancel per alarm
	closed   bool
}

func NewAlarmScheduler(logger *slog.Logger) *AlarmScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlarmScheduler{
		logger:   logger,
		handlers: make(map[string]func(context.Context)),
		running:  make(map[string]func()),
	}
}

// Handle registers the callback invoked on each tick of the named alarm.
func (a *AlarmScheduler) Handle(name string, f func(context.Context)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[name] = f
}

// Create starts the named alarm with the given period, replacing any
// existing schedule for that name.
func (a *AlarmScheduler) Create(name string, period time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if cancel, ok := a.running[name]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.running[name] = cancel
	go a.loop(ctx, name, period)
	a.logger.Debug("alarm created", "name", name, "period", period)
}

// Clear stops the named alarm if it is running.
func (a *AlarmScheduler) Clear(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.running[name]; ok {
		cancel()
		delete(a.running, name)
	}
}

// Close stops every alarm. The scheduler cannot be reused.
func (a *AlarmScheduler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	for name, cancel := range a.running {
		cancel()
		delete(a.running, name)
	}
}

func (a *AlarmScheduler) loop(ctx context.Context, name string, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			f := a.handlers[name]
			a.mu.Unlock()
			if f != nil {
				f(ctx)
			}
		}
	}
}
