package packet

import (
	"fmt"
	"time"

	"github.com/hazyhaar/packetd/idgen"
)

// InstantiateOptions controls alternative resolution.
type InstantiateOptions struct {
	// PreferAudio picks the media child of an alternative wrapper when one
	// exists; otherwise the first child is chosen.
	PreferAudio bool
	// NewID overrides the instance id generator (tests).
	NewID idgen.Generator
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Instantiate materializes an Image into an Instance: alternatives are
// resolved to exactly one chosen item in the wrapper's position, the rest of
// the item order is preserved, and progress sets start empty.
func Instantiate(img *Image, opts InstantiateOptions) (*Instance, error) {
	if img.ID == "" {
		return nil, fmt.Errorf("packet: instantiate: image has no id")
	}
	newID := opts.NewID
	if newID == nil {
		newID = idgen.NewInstanceID
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	contents := make([]Item, 0, len(img.SourceContent))
	for i := range img.SourceContent {
		it := img.SourceContent[i]
		if it.Kind == KindAlternative {
			chosen, err := resolveAlternative(&it, opts.PreferAudio)
			if err != nil {
				return nil, err
			}
			contents = append(contents, *chosen)
			continue
		}
		contents = append(contents, it)
	}

	return &Instance{
		InstanceID:              newID(),
		ImageID:                 img.ID,
		Topic:                   img.Topic,
		Status:                  StatusReady,
		Created:                 img.Created,
		Instantiated:            now().UTC(),
		Contents:                contents,
		VisitedURLs:             []string{},
		VisitedGeneratedPageIDs: []string{},
		MentionedMediaLinks:     []string{},
	}, nil
}

func resolveAlternative(wrapper *Item, preferAudio bool) (*Item, error) {
	if len(wrapper.Alternatives) == 0 {
		return nil, fmt.Errorf("packet: instantiate: empty alternative wrapper")
	}
	if preferAudio {
		for i := range wrapper.Alternatives {
			if wrapper.Alternatives[i].Kind == KindMedia {
				return &wrapper.Alternatives[i], nil
			}
		}
	}
	return &wrapper.Alternatives[0], nil
}
