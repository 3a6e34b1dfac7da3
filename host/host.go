// Package host abstracts the browser surface the packet runtime drives:
// tab queries and updates, tab-group lifecycle, navigation events, and
// per-tab messaging. The runtime depends only on this seam; rodhost
// implements it over a live Chrome via CDP, memhost implements it in memory
// for tests.
package host

import (
	"context"
	"errors"
)

// Sentinel errors adapters must return for the conditions the coordinators
// branch on.
var (
	// ErrNoSuchTab is returned for operations on a closed or unknown tab.
	ErrNoSuchTab = errors.New("host: no such tab")
	// ErrNoSuchGroup is returned for operations on a vanished group.
	ErrNoSuchGroup = errors.New("host: no such group")
	// ErrGroupBusy mirrors the host's transient "tab group cannot be
	// edited right now". Callers retry with bounded backoff.
	ErrGroupBusy = errors.New("host: group cannot be edited right now")
)

// Tab is the host's view of one tab.
type Tab struct {
	ID          int
	WindowID    int
	GroupID     int // 0 = ungrouped
	OpenerTabID int // 0 = none
	Index       int // position within its window
	URL         string
	Title       string
	Active      bool
}

// Group is the host's view of one tab group.
type Group struct {
	ID       int
	WindowID int
	Title    string
	Color    string
}

// TransitionType classifies how a navigation was caused, with the host's
// vocabulary.
type TransitionType string

const (
	TransitionLink           TransitionType = "link"
	TransitionTyped          TransitionType = "typed"
	TransitionAutoBookmark   TransitionType = "auto_bookmark"
	TransitionGenerated      TransitionType = "generated"
	TransitionKeyword        TransitionType = "keyword"
	TransitionFormSubmit     TransitionType = "form_submit"
	TransitionReload         TransitionType = "reload"
	TransitionStartPage      TransitionType = "start_page"
	TransitionAutoSubframe   TransitionType = "auto_subframe"
	TransitionManualSubframe TransitionType = "manual_subframe"
	TransitionClientRedirect TransitionType = "client_redirect"
	TransitionServerRedirect TransitionType = "server_redirect"
)

// UserInitiated reports whether the transition reflects a deliberate user
// action, the set that may break or transfer a tab's packet context.
func (t TransitionType) UserInitiated() bool {
	switch t {
	case TransitionLink, TransitionTyped, TransitionAutoBookmark,
		TransitionGenerated, TransitionKeyword, TransitionFormSubmit:
		return true
	}
	return false
}

// NavigationEvent is a main-frame navigation commit or history-state update.
type NavigationEvent struct {
	TabID      int
	URL        string
	Transition TransitionType
	// HistoryState marks onHistoryStateUpdated (SPA pushState) as opposed
	// to a real commit.
	HistoryState bool
}

// Handlers receives host events. Register before Start; adapters deliver
// events for a given tab in host order.
type Handlers struct {
	OnCommitted           func(NavigationEvent)
	OnHistoryStateUpdated func(NavigationEvent)
	OnTabCreated          func(Tab)
	OnTabActivated        func(tabID int)
	OnTabRemoved          func(tabID int)
	OnTabReplaced         func(addedTabID, removedTabID int)
	OnTabMoved            func(tabID int)
	OnTabAttached         func(tabID int)
	OnGroupRemoved        func(groupID int)
}

// Host is the browser surface contract.
type Host interface {
	// QueryTabs lists every open tab.
	QueryTabs(ctx context.Context) ([]Tab, error)
	// GetTab returns one tab or ErrNoSuchTab.
	GetTab(ctx context.Context, tabID int) (Tab, error)
	// ActiveTab returns the focused tab of the focused window.
	ActiveTab(ctx context.Context) (Tab, error)
	// CreateTab opens url in a new tab and returns it.
	CreateTab(ctx context.Context, url string, active bool) (Tab, error)
	// FocusTab activates a tab (and its window).
	FocusTab(ctx context.Context, tabID int) error
	// NavigateTab points an existing tab at url.
	NavigateTab(ctx context.Context, tabID int, url string) error
	// CloseTab closes a tab. Closing an unknown tab returns ErrNoSuchTab.
	CloseTab(ctx context.Context, tabID int) error
	// MoveTabs moves tabs to index within their window, preserving the
	// given order.
	MoveTabs(ctx context.Context, tabIDs []int, index int) error

	// GroupTabs adds tabs to a group, creating one when groupID is 0.
	// Returns the group id. May return ErrGroupBusy.
	GroupTabs(ctx context.Context, groupID int, tabIDs ...int) (int, error)
	// UngroupTabs removes tabs from their groups.
	UngroupTabs(ctx context.Context, tabIDs ...int) error
	// UpdateGroup sets title and color. May return ErrGroupBusy.
	UpdateGroup(ctx context.Context, groupID int, title, color string) error
	// QueryGroups lists every tab group.
	QueryGroups(ctx context.Context) ([]Group, error)
	// GetGroup returns one group or ErrNoSuchGroup.
	GetGroup(ctx context.Context, groupID int) (Group, error)
	// TabsInGroup lists a group's tabs in host (visual) order.
	TabsInGroup(ctx context.Context, groupID int) ([]Tab, error)

	// SendToTab delivers a message to the page in a tab (overlay surface).
	SendToTab(ctx context.Context, tabID int, message any) error

	// Subscribe registers the event handlers. Call once, before events are
	// needed.
	Subscribe(h Handlers)
}
