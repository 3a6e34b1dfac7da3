// Package memhost is the in-memory host implementation used by tests and
// the simulator. Events are dispatched synchronously on the caller's
// goroutine, so tests are deterministic.
package memhost

import (
	"context"
	"sort"
	"sync"

	"github.com/hazyhaar/packetd/host"
)

// Host is an in-memory browser. The zero value is not usable; call New.
type Host struct {
	mu       sync.Mutex
	tabs     map[int]*host.Tab
	groups   map[int]*host.Group
	nextTab  int
	nextGrp  int
	activeID int
	handlers host.Handlers

	// Sent records SendToTab traffic per tab for assertions.
	sent map[int][]any

	// BusyGroups makes group edits fail with ErrGroupBusy until the
	// counter runs out (transient-error testing).
	busyLeft int
}

// New creates an empty in-memory browser.
func New() *Host {
	return &Host{
		tabs:    make(map[int]*host.Tab),
		groups:  make(map[int]*host.Group),
		sent:    make(map[int][]any),
		nextTab: 0,
		nextGrp: 0,
	}
}

func (h *Host) Subscribe(handlers host.Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
}

// --- Host interface ---

func (h *Host) QueryTabs(ctx context.Context) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.orderedTabsLocked(), nil
}

func (h *Host) GetTab(ctx context.Context, tabID int) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tabID]
	if !ok {
		return host.Tab{}, host.ErrNoSuchTab
	}
	return *t, nil
}

func (h *Host) ActiveTab(ctx context.Context) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[h.activeID]
	if !ok {
		return host.Tab{}, host.ErrNoSuchTab
	}
	return *t, nil
}

func (h *Host) CreateTab(ctx context.Context, url string, active bool) (host.Tab, error) {
	return h.CreateTabWithOpener(url, active, 0), nil
}

func (h *Host) FocusTab(ctx context.Context, tabID int) error {
	h.mu.Lock()
	if _, ok := h.tabs[tabID]; !ok {
		h.mu.Unlock()
		return host.ErrNoSuchTab
	}
	h.setActiveLocked(tabID)
	onActivated := h.handlers.OnTabActivated
	h.mu.Unlock()
	if onActivated != nil {
		onActivated(tabID)
	}
	return nil
}

func (h *Host) NavigateTab(ctx context.Context, tabID int, url string) error {
	h.mu.Lock()
	if _, ok := h.tabs[tabID]; !ok {
		h.mu.Unlock()
		return host.ErrNoSuchTab
	}
	h.mu.Unlock()
	// A programmatic navigation commits like a generated transition.
	h.Navigate(tabID, url, host.TransitionGenerated)
	return nil
}

func (h *Host) CloseTab(ctx context.Context, tabID int) error {
	h.mu.Lock()
	if _, ok := h.tabs[tabID]; !ok {
		h.mu.Unlock()
		return host.ErrNoSuchTab
	}
	h.mu.Unlock()
	h.RemoveTab(tabID)
	return nil
}

func (h *Host) MoveTabs(ctx context.Context, tabIDs []int, index int) error {
	h.mu.Lock()
	if h.busyLeft > 0 {
		h.busyLeft--
		h.mu.Unlock()
		return host.ErrGroupBusy
	}
	ordered := h.orderedTabsLocked()

	moving := make(map[int]bool, len(tabIDs))
	for _, id := range tabIDs {
		moving[id] = true
	}
	var rest []int
	for _, t := range ordered {
		if !moving[t.ID] {
			rest = append(rest, t.ID)
		}
	}
	if index > len(rest) {
		index = len(rest)
	}
	final := make([]int, 0, len(ordered))
	final = append(final, rest[:index]...)
	final = append(final, tabIDs...)
	final = append(final, rest[index:]...)
	for i, id := range final {
		if t, ok := h.tabs[id]; ok {
			t.Index = i
		}
	}
	onMoved := h.handlers.OnTabMoved
	h.mu.Unlock()

	if onMoved != nil {
		for _, id := range tabIDs {
			onMoved(id)
		}
	}
	return nil
}

func (h *Host) GroupTabs(ctx context.Context, groupID int, tabIDs ...int) (int, error) {
	h.mu.Lock()
	if h.busyLeft > 0 {
		h.busyLeft--
		h.mu.Unlock()
		return 0, host.ErrGroupBusy
	}
	if groupID == 0 {
		h.nextGrp++
		groupID = 100 + h.nextGrp
		h.groups[groupID] = &host.Group{ID: groupID, WindowID: 1}
	} else if _, ok := h.groups[groupID]; !ok {
		h.mu.Unlock()
		return 0, host.ErrNoSuchGroup
	}
	for _, id := range tabIDs {
		if t, ok := h.tabs[id]; ok {
			t.GroupID = groupID
		}
	}
	h.mu.Unlock()
	return groupID, nil
}

func (h *Host) UngroupTabs(ctx context.Context, tabIDs ...int) error {
	h.mu.Lock()
	affected := map[int]bool{}
	for _, id := range tabIDs {
		if t, ok := h.tabs[id]; ok && t.GroupID != 0 {
			affected[t.GroupID] = true
			t.GroupID = 0
		}
	}
	// Host behavior: a group with no remaining tabs disappears.
	var removed []int
	for gid := range affected {
		if len(h.tabIDsInGroupLocked(gid)) == 0 {
			delete(h.groups, gid)
			removed = append(removed, gid)
		}
	}
	onRemoved := h.handlers.OnGroupRemoved
	h.mu.Unlock()

	if onRemoved != nil {
		for _, gid := range removed {
			onRemoved(gid)
		}
	}
	return nil
}

func (h *Host) UpdateGroup(ctx context.Context, groupID int, title, color string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.busyLeft > 0 {
		h.busyLeft--
		return host.ErrGroupBusy
	}
	g, ok := h.groups[groupID]
	if !ok {
		return host.ErrNoSuchGroup
	}
	g.Title = title
	g.Color = color
	return nil
}

func (h *Host) QueryGroups(ctx context.Context) ([]host.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.Group, 0, len(h.groups))
	for _, g := range h.groups {
		out = append(out, *g)
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
	return *g, nil
}

func (h *Host) TabsInGroup(ctx context.Context, groupID int) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.groups[groupID]; !ok {
		return nil, host.ErrNoSuchGroup
	}
	var out []host.Tab
	for _, t := range h.orderedTabsLocked() {
		if t.GroupID == groupID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *Host) SendToTab(ctx context.Context, tabID int, message any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tabs[tabID]; !ok {
		return host.ErrNoSuchTab
	}
	h.sent[tabID] = append(h.sent[tabID], message)
	return nil
}

// --- simulation / assertion helpers ---

// CreateTabWithOpener opens a tab, optionally inheriting an opener, and
// fires OnTabCreated.
func (h *Host) CreateTabWithOpener(url string, active bool, openerTabID int) host.Tab {
	h.mu.Lock()
	h.nextTab++
	t := &host.Tab{
		ID:          h.nextTab,
		WindowID:    1,
		OpenerTabID: openerTabID,
		Index:       len(h.tabs),
		URL:         url,
	}
	h.tabs[t.ID] = t
	if active || h.activeID == 0 {
		h.setActiveLocked(t.ID)
	}
	created := h.handlers.OnTabCreated
	tab := *t
	h.mu.Unlock()

	if created != nil {
		created(tab)
	}
	return tab
}

// Navigate commits a navigation on an existing tab and fires OnCommitted.
func (h *Host) Navigate(tabID int, url string, transition host.TransitionType) {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if !ok {
		h.mu.Unlock()
		return
	}
	t.URL = url
	onCommitted := h.handlers.OnCommitted
	h.mu.Unlock()

	if onCommitted != nil {
		onCommitted(host.NavigationEvent{TabID: tabID, URL: url, Transition: transition})
	}
}

// HistoryUpdate fires OnHistoryStateUpdated (SPA pushState).
func (h *Host) HistoryUpdate(tabID int, url string) {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if !ok {
		h.mu.Unlock()
		return
	}
	t.URL = url
	onHistory := h.handlers.OnHistoryStateUpdated
	h.mu.Unlock()

	if onHistory != nil {
		onHistory(host.NavigationEvent{
			TabID: tabID, URL: url,
			Transition: host.TransitionLink, HistoryState: true,
		})
	}
}

// RemoveTab closes a tab and fires OnTabRemoved.
func (h *Host) RemoveTab(tabID int) {
	h.mu.Lock()
	t, ok := h.tabs[tabID]
	if !ok {
		h.mu.Unlock()
		return
	}
	gid := t.GroupID
	delete(h.tabs, tabID)
	var groupGone int
	if gid != 0 && len(h.tabIDsInGroupLocked(gid)) == 0 {
		delete(h.groups, gid)
		groupGone = gid
	}
	if h.activeID == tabID {
		h.activeID = 0
		for _, rest := range h.orderedTabsLocked() {
			h.setActiveLocked(rest.ID)
			break
		}
	}
	onRemoved := h.handlers.OnTabRemoved
	onGroupRemoved := h.handlers.OnGroupRemoved
	h.mu.Unlock()

	if onRemoved != nil {
		onRemoved(tabID)
	}
	if groupGone != 0 && onGroupRemoved != nil {
		onGroupRemoved(groupGone)
	}
}

// ReplaceTab swaps a tab id (prerender adoption) and fires OnTabReplaced.
func (h *Host) ReplaceTab(oldID int) (newID int) {
	h.mu.Lock()
	t, ok := h.tabs[oldID]
	if !ok {
		h.mu.Unlock()
		return 0
	}
	h.nextTab++
	newID = h.nextTab
	nt := *t
	nt.ID = newID
	h.tabs[newID] = &nt
	delete(h.tabs, oldID)
	if h.activeID == oldID {
		h.activeID = newID
	}
	onReplaced := h.handlers.OnTabReplaced
	h.mu.Unlock()

	if onReplaced != nil {
		onReplaced(newID, oldID)
	}
	return newID
}

// SetGroupTitle renames a group without the runtime's involvement,
// simulating user edits and restart-recycled group ids.
func (h *Host) SetGroupTitle(groupID int, title string) {
	h.mu.Lock()
	if g, ok := h.groups[groupID]; ok {
		g.Title = title
	}
	h.mu.Unlock()
}

// AddGroup installs a group with a fixed id (restart simulations).
func (h *Host) AddGroup(groupID int, title string) {
	h.mu.Lock()
	h.groups[groupID] = &host.Group{ID: groupID, WindowID: 1, Title: title}
	h.mu.Unlock()
}

// SetBusy makes the next n group edits fail with ErrGroupBusy.
func (h *Host) SetBusy(n int) {
	h.mu.Lock()
	h.busyLeft = n
	h.mu.Unlock()
}

// Sent returns the messages delivered to a tab.
func (h *Host) Sent(tabID int) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]any, len(h.sent[tabID]))
	copy(out, h.sent[tabID])
	return out
}

// TabIDs returns the ids of all open tabs in visual order.
func (h *Host) TabIDs() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []int
	for _, t := range h.orderedTabsLocked() {
		out = append(out, t.ID)
	}
	return out
}

// --- internals ---

func (h *Host) setActiveLocked(tabID int) {
	if prev, ok := h.tabs[h.activeID]; ok {
		prev.Active = false
	}
	h.activeID = tabID
	if t, ok := h.tabs[tabID]; ok {
		t.Active = true
	}
}

func (h *Host) orderedTabsLocked() []host.Tab {
	out := make([]host.Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (h *Host) tabIDsInGroupLocked(groupID int) []int {
	var out []int
	for id, t := range h.tabs {
		if t.GroupID == groupID {
			out = append(out, id)
		}
	}
	return out
}
