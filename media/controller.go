// CLAUDE:SUMMARY Media controller — the global single-track playback slot, tick processing with mention reveal, debounced persistence, keep-alive alarm.
// Package media owns narration playback. There is at most one active track
// in the whole runtime; every transition flows through the Controller so the
// singleton invariant cannot be violated from outside.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

const (
	// writeQuiet is the debounce window for persisting playback position.
	writeQuiet = 1 * time.Second
	// KeepAliveAlarm is the alarm name used while a track is loaded but
	// paused.
	KeepAliveAlarm = "media_keepalive"
	// KeepAlivePeriod is how often the keep-alive alarm ticks.
	KeepAlivePeriod = 20 * time.Second
)

// PlaybackState is the global slot. A nil *PlaybackState means no track.
type PlaybackState struct {
	TabID              int     `json:"tabId"`
	InstanceID         string  `json:"instanceId"`
	CanonicalPacketURL string  `json:"canonicalPacketUrl"`
	Title              string  `json:"title,omitempty"`
	IsPlaying          bool    `json:"isPlaying"`
	CurrentTime        float64 `json:"currentTime"`
	Duration           float64 `json:"duration"`
	LastMentionedLink  string  `json:"lastMentionedLink,omitempty"`
}

func (p *PlaybackState) clone() *PlaybackState {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// PlayCommand is what the auxiliary audio document needs to start a track.
type PlayCommand struct {
	AudioBytes []byte
	Mime       string
	Key        string
	StartTime  float64
}

// AudioDocument is the auxiliary playback surface. The rod implementation
// drives a hidden page's audio element; tests record calls.
type AudioDocument interface {
	Play(ctx context.Context, cmd PlayCommand) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Scheduler abstracts timers for the debounced writer.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func())
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Alarms keeps the runtime alive while a paused track is loaded. Period is
// fixed; only the name varies.
type Alarms interface {
	Create(name string, period time.Duration)
	Clear(name string)
}

type nopAlarms struct{}

func (nopAlarms) Create(string, time.Duration) {}
func (nopAlarms) Clear(string)                 {}

// Notifier receives playback side effects.
type Notifier interface {
	// PlaybackChanged rebroadcasts the unified state. animateMention is set
	// on the tick where lastMentionedLink changed.
	PlaybackChanged(ctx context.Context, animateMention bool)
	// TrackFinished fires when narration plays to the end; the instance may
	// have just completed.
	TrackFinished(ctx context.Context, instanceID string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) PlaybackChanged(context.Context, bool) {}
func (NopNotifier) TrackFinished(context.Context, string) {}

// Controller is the single-track playback coordinator.
type Controller struct {
	store    *store.Store
	session  *store.Session
	doc      AudioDocument
	notifier Notifier
	logger   *slog.Logger
	sched    Scheduler
	alarms   Alarms

	mu      sync.Mutex
	state   *PlaybackState
	pending *packet.Instance // instance copy awaiting the debounced write
	flush   func()           // cancels the pending write timer
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithScheduler overrides timer creation (tests).
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithNotifier wires playback side effects.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithAlarms wires the keep-alive alarm scheduler.
func WithAlarms(a Alarms) Option {
	return func(c *Controller) { c.alarms = a }
}

// New creates a Controller.
func New(s *store.Store, session *store.Session, doc AudioDocument, opts ...Option) *Controller {
	c := &Controller{
		store:    s,
		session:  session,
		doc:      doc,
		notifier: NopNotifier{},
		logger:   slog.Default(),
		sched:    realScheduler{},
		alarms:   nopAlarms{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns a copy of the current slot, nil when no track is loaded.
func (c *Controller) State() *PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Play loads and starts the given media item, displacing whatever track was
// active. tabID records where the request came from, for overlay addressing.
func (c *Controller) Play(ctx context.Context, instanceID, itemKey string, tabID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil && c.state.InstanceID == instanceID && c.state.CanonicalPacketURL == itemKey {
		// Same track: treat as resume.
		return c.resumeLocked(ctx)
	}
	if c.state != nil {
		c.displaceLocked(ctx)
	}

	in, err := c.store.GetPacketInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("media: load instance: %w", err)
	}
	if in == nil {
		return fmt.Errorf("media: instance %s not found", instanceID)
	}
	item := in.ItemByKey(itemKey)
	if item == nil || item.Kind != packet.KindMedia {
		return fmt.Errorf("media: %s has no media item %s", instanceID, itemKey)
	}

	bytes, mime, err := c.loadAudio(ctx, in.ImageID, item)
	if err != nil {
		return err
	}

	if err := c.doc.Play(ctx, PlayCommand{
		AudioBytes: bytes,
		Mime:       mime,
		Key:        itemKey,
		StartTime:  item.CurrentTime,
	}); err != nil {
		return fmt.Errorf("media: start playback: %w", err)
	}

	c.state = &PlaybackState{
		TabID:              tabID,
		InstanceID:         instanceID,
		CanonicalPacketURL: itemKey,
		Title:              item.Title,
		IsPlaying:          true,
		CurrentTime:        item.CurrentTime,
		Duration:           item.Duration,
	}
	c.persistSessionLocked()
	c.alarms.Clear(KeepAliveAlarm)
	c.logger.Info("media: playing", "instanceId", instanceID, "key", itemKey)
	c.notifier.PlaybackChanged(ctx, false)
	return nil
}

// Pause stops playback without unloading the track. No active track is a
// silent success.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked(ctx)
}

func (c *Controller) pauseLocked(ctx context.Context) error {
	if c.state == nil || !c.state.IsPlaying {
		return nil
	}
	if err := c.doc.Pause(ctx); err != nil {
		return fmt.Errorf("media: pause: %w", err)
	}
	c.state.IsPlaying = false
	c.savePositionLocked(ctx)
	c.flushLocked(ctx)
	c.persistSessionLocked()
	c.alarms.Create(KeepAliveAlarm, KeepAlivePeriod)
	c.notifier.PlaybackChanged(ctx, false)
	return nil
}

func (c *Controller) resumeLocked(ctx context.Context) error {
	if c.state == nil || c.state.IsPlaying {
		return nil
	}
	if err := c.doc.Resume(ctx); err != nil {
		return fmt.Errorf("media: resume: %w", err)
	}
	c.state.IsPlaying = true
	c.persistSessionLocked()
	c.alarms.Clear(KeepAliveAlarm)
	c.notifier.PlaybackChanged(ctx, false)
	return nil
}

// Toggle flips between playing and paused. No active track is a silent
// success.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	if c.state.IsPlaying {
		return c.pauseLocked(ctx)
	}
	return c.resumeLocked(ctx)
}

// Stop unloads the track and clears the slot.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return nil
	}
	c.savePositionLocked(ctx)
	c.flushLocked(ctx)
	if err := c.doc.Stop(ctx); err != nil {
		c.logger.Warn("media: stop audio document", "error", err)
	}
	c.state = nil
	c.session.Delete(store.SessionActivePlayback)
	c.alarms.Clear(KeepAliveAlarm)
	c.notifier.PlaybackChanged(ctx, false)
	return nil
}

// StopForInstance stops playback only when the active track belongs to the
// given instance. Used on completion and instance deletion.
func (c *Controller) StopForInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	owns := c.state != nil && c.state.InstanceID == instanceID
	c.mu.Unlock()
	if !owns {
		return nil
	}
	return c.Stop(ctx)
}

// displaceLocked saves the outgoing track's position and stops it. Called
// before loading a different track.
func (c *Controller) displaceLocked(ctx context.Context) {
	c.savePositionLocked(ctx)
	c.flushLocked(ctx)
	if err := c.doc.Stop(ctx); err != nil {
		c.logger.Warn("media: stop displaced track", "error", err)
	}
	c.state = nil
}

func (c *Controller) loadAudio(ctx context.Context, imageID string, item *packet.Item) ([]byte, string, error) {
	files, err := c.store.GetGeneratedContent(ctx, imageID, item.PageID)
	if err != nil {
		return nil, "", fmt.Errorf("media: load audio: %w", err)
	}
	want := path.Base(item.Key)
	for _, f := range files {
		if f.Name == want {
			mime := f.ContentType
			if mime == "" {
				mime = item.Mime
			}
			return f.Content, mime, nil
		}
	}
	return nil, "", fmt.Errorf("media: audio blob %s missing for %s/%s", want, imageID, item.PageID)
}

func (c *Controller) persistSessionLocked() {
	c.session.Put(store.SessionActivePlayback, c.state.clone())
}
