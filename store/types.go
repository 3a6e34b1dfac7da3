package store

import "time"

// Logical durable keys. Per-tab contexts use ContextKey(tabID).
const (
	KeyPacketImages        = "packetImages"
	KeyPacketInstances     = "packetInstances"
	KeyPacketBrowserStates = "packetBrowserStates"
	KeySettings            = "settings"
)

// BrowserState is the host-side mirror of an instance: which tab group
// represents it and which tabs currently belong to it. TabGroupID 0 means
// "no group"; it must be cleared whenever the group's title no longer
// encodes this instance.
type BrowserState struct {
	InstanceID       string `json:"instanceId"`
	TabGroupID       int    `json:"tabGroupId,omitempty"`
	ActiveTabIDs     []int  `json:"activeTabIds"`
	LastActiveURL    string `json:"lastActiveUrl,omitempty"`
	ManualDisconnect bool   `json:"manualDisconnect,omitempty"`
}

// PacketContext keys a tab's current role within a packet. If set,
// CanonicalPacketURL is the canonical key of some item in the instance's
// contents; CurrentBrowserURL is whatever the tab actually shows.
type PacketContext struct {
	InstanceID         string `json:"instanceId"`
	CanonicalPacketURL string `json:"canonicalPacketUrl"`
	CurrentBrowserURL  string `json:"currentBrowserUrl"`
}

// Intent is a one-shot trusted-intent token: the next navigation commit of
// the keyed tab belongs to this (instance, item).
type Intent struct {
	InstanceID         string `json:"instanceId"`
	CanonicalPacketURL string `json:"canonicalPacketUrl"`
}

// Settings are user preferences. Missing fields read back as the defaults
// from DefaultSettings.
type Settings struct {
	TabGroupsEnabled      bool   `json:"tabGroupsEnabled"`
	PreferAudio           bool   `json:"preferAudio"`
	MediaOverlayEnabled   bool   `json:"mediaOverlayEnabled"`
	AutoPauseOnReveal     bool   `json:"autoPauseOnReveal"`
	VisitThresholdSeconds int    `json:"visitThresholdSeconds"`
	ThemePreference       string `json:"themePreference"`
	ConfettiEnabled       bool   `json:"confettiEnabled"`
}

// DefaultSettings returns the out-of-box settings.
func DefaultSettings() Settings {
	return Settings{
		TabGroupsEnabled:      true,
		MediaOverlayEnabled:   true,
		AutoPauseOnReveal:     true,
		VisitThresholdSeconds: 5,
		ThemePreference:       "system",
		ConfettiEnabled:       true,
	}
}

// VisitThreshold returns the dwell duration as a time.Duration.
func (s Settings) VisitThreshold() time.Duration {
	secs := s.VisitThresholdSeconds
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// File is one named blob of generated content.
type File struct {
	Name        string
	Content     []byte
	ContentType string
}
