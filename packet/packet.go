// CLAUDE:SUMMARY Core packet data model — images, instances, item kinds, canonical keys, completion predicate.
// Package packet defines the packet data model and the pure functions the
// runtime coordinates around: canonical URL matching, visit marking,
// completion, group-title encoding, and instance materialization.
//
// A packet image is the immutable template; an instance is a per-session
// materialization that accumulates progress (visited URLs, visited generated
// pages, mentioned media links). Everything in this package is side-effect
// free; persistence belongs to store.
package packet

import "time"

// Kind discriminates the content-item variant.
type Kind string

const (
	KindExternal    Kind = "external"    // a plain web URL
	KindGenerated   Kind = "generated"   // HTML produced for this packet, stored as a blob
	KindMedia       Kind = "media"       // narrated audio with timestamped link mentions
	KindAlternative Kind = "alternative" // wrapper: one of its children is chosen per instance
)

// Timestamp is a moment in a media item: when narration playback crosses
// StartTime, URL is revealed as a mentioned link.
type Timestamp struct {
	StartTime float64 `json:"startTime"`
	URL       string  `json:"url"`
	Title     string  `json:"title,omitempty"`
}

// Item is one entry of a packet's content sequence. The populated fields
// depend on Kind; switches over Kind must be exhaustive.
type Item struct {
	Kind  Kind   `json:"kind"`
	Title string `json:"title,omitempty"`

	// External items.
	URL string `json:"url,omitempty"`

	// Generated and media items. PageID is stable and unique within the
	// image; Key is the object-storage canonical key.
	PageID string `json:"pageId,omitempty"`
	Key    string `json:"key,omitempty"`
	Bucket string `json:"bucket,omitempty"`
	Format string `json:"format,omitempty"` // "html" for tabbable generated pages
	Mime   string `json:"mimeType,omitempty"`

	// InteractionBasedCompletion suppresses the dwell-visit timer; the item
	// is visited only by an explicit page interaction message.
	InteractionBasedCompletion bool `json:"interactionBasedCompletion,omitempty"`

	// Media narration state.
	Timestamps  []Timestamp `json:"timestamps,omitempty"`
	CurrentTime float64     `json:"currentTime,omitempty"` // saved playback position
	Duration    float64     `json:"duration,omitempty"`

	// Alternative wrapper children. Exactly one is chosen at instantiation.
	Alternatives []Item `json:"alternatives,omitempty"`
}

// CanonicalKey returns the string identifying this item inside the runtime:
// the URL for external items, the object-storage key for generated/media
// items, empty for alternative wrappers.
func (it *Item) CanonicalKey() string {
	switch it.Kind {
	case KindExternal:
		return it.URL
	case KindGenerated, KindMedia:
		return it.Key
	case KindAlternative:
		return ""
	}
	return ""
}

// Trackable reports whether the item counts toward completion: a concrete
// kind with a concrete canonical key.
func (it *Item) Trackable() bool {
	switch it.Kind {
	case KindExternal, KindGenerated, KindMedia:
		return it.CanonicalKey() != ""
	}
	return false
}

// Tabbable reports whether the item is expected to occupy a browser tab.
// Media items play through the audio document, not a tab.
func (it *Item) Tabbable() bool {
	switch it.Kind {
	case KindExternal:
		return it.URL != ""
	case KindGenerated:
		return it.Format == "html" || it.Format == ""
	}
	return false
}

// Image is the immutable packet template.
type Image struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	Created       time.Time `json:"created"`
	SourceContent []Item    `json:"sourceContent"`
}

// Instance statuses. Instances stuck in StatusCreating are swept at startup.
const (
	StatusCreating = "creating"
	StatusReady    = "ready"
)

// Instance is a per-session materialization of an Image. Contents is flat:
// every alternative wrapper has been resolved to exactly one chosen item,
// in the wrapper's position.
type Instance struct {
	InstanceID              string    `json:"instanceId"`
	ImageID                 string    `json:"imageId"`
	Topic                   string    `json:"topic"`
	Status                  string    `json:"status,omitempty"`
	Created                 time.Time `json:"created"`
	Instantiated            time.Time `json:"instantiated"`
	Contents                []Item    `json:"contents"`
	VisitedURLs             []string  `json:"visitedUrls"`
	VisitedGeneratedPageIDs []string  `json:"visitedGeneratedPageIds"`
	MentionedMediaLinks     []string  `json:"mentionedMediaLinks"`
	CompletionAcknowledged  bool      `json:"completionAcknowledged,omitempty"`
}

// ItemByKey returns the first item in Contents whose canonical key equals
// key, or nil.
func (in *Instance) ItemByKey(key string) *Item {
	if key == "" {
		return nil
	}
	for i := range in.Contents {
		if in.Contents[i].CanonicalKey() == key {
			return &in.Contents[i]
		}
	}
	return nil
}

// ItemIndex returns the position of the item with the given canonical key,
// or -1.
func (in *Instance) ItemIndex(key string) int {
	if key == "" {
		return -1
	}
	for i := range in.Contents {
		if in.Contents[i].CanonicalKey() == key {
			return i
		}
	}
	return -1
}

// Visited reports whether the item has been credited.
func (in *Instance) Visited(it *Item) bool {
	switch it.Kind {
	case KindExternal:
		return contains(in.VisitedURLs, it.URL)
	case KindGenerated, KindMedia:
		return contains(in.VisitedGeneratedPageIDs, it.PageID)
	}
	return false
}

// Completed reports whether every trackable item of the instance has been
// visited. An instance with zero trackable items is never completed.
func (in *Instance) Completed() bool {
	trackable := 0
	for i := range in.Contents {
		it := &in.Contents[i]
		if !it.Trackable() {
			continue
		}
		trackable++
		if !in.Visited(it) {
			return false
		}
	}
	return trackable > 0
}

// Progress returns visited and total trackable item counts.
func (in *Instance) Progress() (visited, total int) {
	for i := range in.Contents {
		it := &in.Contents[i]
		if !it.Trackable() {
			continue
		}
		total++
		if in.Visited(it) {
			visited++
		}
	}
	return visited, total
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
