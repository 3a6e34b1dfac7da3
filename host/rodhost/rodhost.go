// CLAUDE:SUMMARY Rod/CDP browser host — drives a real Chrome over DevTools protocol, emulating tab groups which CDP does not expose.
// Package rodhost adapts a Chrome instance driven over the DevTools
// protocol to the host interface. Tab ids are allocated locally and mapped
// to Rod pages; tab groups are emulated in-process because CDP has no
// group surface.
package rodhost

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/packetd/host"
)

const navigateTimeout = 30 * time.Second

// Config configures the rod host.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local one via the rod launcher.
	RemoteURL string

	// Headless launches Chrome without a window. Ignored for RemoteURL.
	Headless bool

	// Stealth applies the stealth page setup to every created tab.
	Stealth bool

	Logger *slog.Logger
}

type tabState struct {
	id      int
	page    *rod.Page
	url     string
	title   string
	groupID int
	opener  int
	active  bool
	index   int
	cancel  func() // stops the page event pump
}

// Host drives a real browser. Safe for concurrent use.
type Host struct {
	cfg     Config
	logger  *slog.Logger
	browser *rod.Browser
	lnch    *launcher.Launcher

	mu          sync.Mutex
	tabs        map[int]*tabState
	groups      map[int]host.Group
	handlers    host.Handlers
	nextTabID   int
	nextGroupID int
	activeTab   int
	// programmatic holds tab ids whose next commit we caused ourselves, so
	// it is not reported as user-initiated.
	programmatic map[int]bool
}

// New creates an unconnected Host. Call Start before use.
func New(cfg Config) *Host {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Host{
		cfg:          cfg,
		logger:       cfg.Logger,
		tabs:         make(map[int]*tabState),
		groups:       make(map[int]host.Group),
		nextTabID:    1,
		nextGroupID:  1,
		programmatic: make(map[int]bool),
	}
}

// Start connects to Chrome, launching one when no remote URL is set.
func (h *Host) Start(ctx context.Context) error {
	wsURL := h.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(h.cfg.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch: %w", err)
		}
		h.lnch = l
		wsURL = u
		h.logger.Info("launched chrome", "url", wsURL, "headless", h.cfg.Headless)
	} else {
		h.logger.Info("connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("rodhost: connect: %w", err)
	}
	h.browser = b
	return nil
}

// Browser exposes the underlying rod handle, for the audio document page.
func (h *Host) Browser() *rod.Browser { return h.browser }

// Close closes every page and the browser connection.
func (h *Host) Close() error {
	h.mu.Lock()
	tabs := make([]*tabState, 0, len(h.tabs))
	for _, t := range h.tabs {
		tabs = append(tabs, t)
	}
	h.tabs = make(map[int]*tabState)
	h.mu.Unlock()

	for _, t := range tabs {
		t.cancel()
		if err := t.page.Close(); err != nil {
			h.logger.Debug("close page", "tab", t.id, "error", err)
		}
	}
	if h.browser != nil {
		if err := h.browser.Close(); err != nil {
			return fmt.Errorf("rodhost: close browser: %w", err)
		}
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
	}
	return nil
}

func (h *Host) Subscribe(handlers host.Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
}

func (h *Host) snapshotLocked(t *tabState) host.Tab {
	return host.Tab{
		ID:          t.id,
		GroupID:     t.groupID,
		OpenerTabID: t.opener,
		Index:       t.index,
		URL:         t.url,
		Title:       t.title,
		Active:      t.active,
	}
}

func (h *Host) QueryTabs(ctx context.Context) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, h.snapshotLocked(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (h *Host) GetTab(ctx context.Context, tabID int) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tabID]
	if !ok {
		return host.Tab{}, host.ErrNoSuchTab
	}
	return h.snapshotLocked(t), nil
}

func (h *Host) ActiveTab(ctx context.Context) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[h.activeTab]
	if !ok {
		return host.Tab{}, host.ErrNoSuchTab
	}
	return h.snapshotLocked(t), nil
}

func (h *Host) CreateTab(ctx context.Context, url string, active bool) (host.Tab, error) {
	var (
		page *rod.Page
		err  error
	)
	if h.cfg.Stealth {
		page, err = stealth.Page(h.browser)
	} else {
		page, err = h.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return host.Tab{}, fmt.Errorf("rodhost: create tab: %w", err)
	}

	h.mu.Lock()
	id := h.nextTabID
	h.nextTabID++
	t := &tabState{id: id, page: page, url: url, index: len(h.tabs)}
	t.cancel = h.pumpEvents(t)
	h.tabs[id] = t
	if active {
		h.setActiveLocked(id)
	}
	h.programmatic[id] = true
	onCreated := h.handlers.OnTabCreated
	snap := h.snapshotLocked(t)
	h.mu.Unlock()

	if onCreated != nil {
		onCreated(snap)
	}

	if url != "" {
		navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
		defer cancel()
		if err := page.Context(navCtx).Navigate(url); err != nil {
			return snap, fmt.Errorf("rodhost: navigate %s: %w", url, err)
		}
	}
	if active {
		if _, err := page.Activate(); err != nil {
			h.logger.Debug("activate page", "tab", id, "error", err)
		}
	}
	return snap, nil
}

func (h *Host) FocusTab(ctx context.Context, tabID int) error {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if !ok {
		h.mu.Unlock()
		return host.ErrNoSuchTab
	}
	h.setActiveLocked(tabID)
	onActivated := h.handlers.OnTabActivated
	h.mu.Unlock()

	if _, err := t.page.Activate(); err != nil {
		return fmt.Errorf("rodhost: focus tab %d: %w", tabID, err)
	}
	if onActivated != nil {
		onActivated(tabID)
	}
	return nil
}

func (h *Host) NavigateTab(ctx context.Context, tabID int, url string) error {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if ok {
		h.programmatic[tabID] = true
	}
	h.mu.Unlock()
	if !ok {
		return host.ErrNoSuchTab
	}
	navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()
	if err := t.page.Context(navCtx).Navigate(url); err != nil {
		return fmt.Errorf("rodhost: navigate tab %d: %w", tabID, err)
	}
	return nil
}

func (h *Host) CloseTab(ctx context.Context, tabID int) error {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	h.mu.Unlock()
	if !ok {
		return host.ErrNoSuchTab
	}
	if err := t.page.Close(); err != nil {
		return fmt.Errorf("rodhost: close tab %d: %w", tabID, err)
	}
	h.dropTab(tabID)
	return nil
}

func (h *Host) MoveTabs(ctx context.Context, tabIDs []int, index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range tabIDs {
		if _, ok := h.tabs[id]; !ok {
			return host.ErrNoSuchTab
		}
	}
	moving := make(map[int]bool, len(tabIDs))
	for _, id := range tabIDs {
		moving[id] = true
	}

	rest := make([]*tabState, 0, len(h.tabs))
	for _, t := range h.orderedLocked() {
		if !moving[t.id] {
			rest = append(rest, t)
		}
	}
	if index < 0 || index > len(rest) {
		index = len(rest)
	}
	pos := 0
	assign := func(t *tabState) {
		t.index = pos
		pos++
	}
	for _, t := range rest[:index] {
		assign(t)
	}
	for _, id := range tabIDs {
		assign(h.tabs[id])
	}
	for _, t := range rest[index:] {
		assign(t)
	}

	onMoved := h.handlers.OnTabMoved
	if onMoved != nil {
		ids := append([]int(nil), tabIDs...)
		go func() {
			for _, id := range ids {
				onMoved(id)
			}
		}()
	}
	return nil
}

func (h *Host) GroupTabs(ctx context.Context, groupID int, tabIDs ...int) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if groupID == 0 {
		groupID = h.nextGroupID
		h.nextGroupID++
		h.groups[groupID] = host.Group{ID: groupID, Color: "grey"}
	} else if _, ok := h.groups[groupID]; !ok {
		return 0, host.ErrNoSuchGroup
	}
	for _, id := range tabIDs {
		t, ok := h.tabs[id]
		if !ok {
			return 0, host.ErrNoSuchTab
		}
		t.groupID = groupID
	}
	return groupID, nil
}

func (h *Host) UngroupTabs(ctx context.Context, tabIDs ...int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range tabIDs {
		t, ok := h.tabs[id]
		if !ok {
			return host.ErrNoSuchTab
		}
		t.groupID = 0
	}
	h.reapEmptyGroupsLocked()
	return nil
}

func (h *Host) UpdateGroup(ctx context.Context, groupID int, title, color string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[groupID]
	if !ok {
		return host.ErrNoSuchGroup
	}
	if title != "" {
		g.Title = title
	}
	if color != "" {
		g.Color = color
	}
	h.groups[groupID] = g
	return nil
}

func (h *Host) QueryGroups(ctx context.Context) ([]host.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.Group, 0, len(h.groups))
	for _, g := range h.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *Host) GetGroup(ctx context.Context, groupID int) (host.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[groupID]
	if !ok {
		return host.Group{}, host.ErrNoSuchGroup
	}
	return g, nil
}

func (h *Host) TabsInGroup(ctx context.Context, groupID int) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[groupID]; !ok {
		return nil, host.ErrNoSuchGroup
	}
	var out []host.Tab
	for _, t := range h.orderedLocked() {
		if t.groupID == groupID {
			out = append(out, h.snapshotLocked(t))
		}
	}
	return out, nil
}

// SendToTab delivers a message to the page as a window event the injected
// surface listens for.
func (h *Host) SendToTab(ctx context.Context, tabID int, message any) error {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	h.mu.Unlock()
	if !ok {
		return host.ErrNoSuchTab
	}
	_, err := t.page.Context(ctx).Eval(`(payload) => {
		window.dispatchEvent(new CustomEvent("packetd-message", { detail: payload }));
	}`, message)
	if err != nil {
		return fmt.Errorf("rodhost: send to tab %d: %w", tabID, err)
	}
	return nil
}

// pumpEvents watches one page for navigation commits, in-document history
// updates and title changes, translating them into host events.
func (h *Host) pumpEvents(t *tabState) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	page := t.page.Context(ctx)
	wait := page.EachEvent(
		func(e *proto.PageFrameNavigated) {
			if e.Frame.ParentID != "" {
				return // subframes are not tabs
			}
			h.commit(t.id, e.Frame.URL, false)
		},
		func(e *proto.PageNavigatedWithinDocument) {
			h.commit(t.id, e.URL, true)
		},
		func(e *proto.TargetTargetInfoChanged) {
			h.mu.Lock()
			if tab, ok := h.tabs[t.id]; ok && e.TargetInfo.Title != "" {
				tab.title = e.TargetInfo.Title
			}
			h.mu.Unlock()
		},
	)
	go wait()
	return stop
}

// commit reports a navigation to the subscriber. The transition is inferred:
// CDP does not carry the browser's transition qualifier, so commits we did
// not cause ourselves count as link navigations.
func (h *Host) commit(tabID int, url string, inDocument bool) {
	if url == "" || url == "about:blank" {
		return
	}
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if !ok {
		h.mu.Unlock()
		return
	}
	t.url = url
	transition := host.TransitionLink
	if h.programmatic[tabID] {
		delete(h.programmatic, tabID)
		transition = host.TransitionAutoBookmark
	}
	var handler func(host.NavigationEvent)
	if inDocument {
		handler = h.handlers.OnHistoryStateUpdated
	} else {
		handler = h.handlers.OnCommitted
	}
	h.mu.Unlock()

	if handler != nil {
		handler(host.NavigationEvent{
			TabID:        tabID,
			URL:          url,
			Transition:   transition,
			HistoryState: inDocument,
		})
	}
}

// dropTab removes local state for a closed page and notifies.
func (h *Host) dropTab(tabID int) {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	delete(h.tabs, tabID)
	delete(h.programmatic, tabID)
	if h.activeTab == tabID {
		h.activeTab = 0
		for _, other := range h.orderedLocked() {
			h.activeTab = other.id
			other.active = true
			break
		}
	}
	h.reapEmptyGroupsLocked()
	onRemoved := h.handlers.OnTabRemoved
	h.mu.Unlock()

	if onRemoved != nil {
		onRemoved(tabID)
	}
}

func (h *Host) setActiveLocked(tabID int) {
	for _, t := range h.tabs {
		t.active = t.id == tabID
	}
	h.activeTab = tabID
}

func (h *Host) orderedLocked() []*tabState {
	out := make([]*tabState, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// reapEmptyGroupsLocked deletes groups with no member tabs and reports the
// removal, mirroring how the browser collapses emptied groups.
func (h *Host) reapEmptyGroupsLocked() {
	members := make(map[int]int)
	for _, t := range h.tabs {
		if t.groupID != 0 {
			members[t.groupID]++
		}
	}
	onGroupRemoved := h.handlers.OnGroupRemoved
	for id := range h.groups {
		if members[id] == 0 {
			delete(h.groups, id)
			if onGroupRemoved != nil {
				go onGroupRemoved(id)
			}
		}
	}
}
