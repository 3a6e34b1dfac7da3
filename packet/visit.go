package packet

// VisitResult describes the outcome of MarkVisited.
type VisitResult struct {
	// Modified is true when the instance's visited sets changed.
	Modified bool
	// JustCompleted fires exactly once per instance lifetime: on the call
	// that transitions the instance from not-completed to completed.
	JustCompleted bool
	// NotTrackable is true when the key matched no trackable item.
	NotTrackable bool
	// AlreadyVisited is true when the item had been credited before.
	AlreadyVisited bool
}

// MarkVisited credits the item with the given canonical key as visited.
// Idempotent: repeat calls report AlreadyVisited and never regress
// completion.
func MarkVisited(in *Instance, canonicalKey string) VisitResult {
	it := in.ItemByKey(canonicalKey)
	if it == nil || !it.Trackable() {
		return VisitResult{NotTrackable: true}
	}

	if in.Visited(it) {
		return VisitResult{AlreadyVisited: true}
	}

	wasCompleted := in.Completed()

	switch it.Kind {
	case KindExternal:
		in.VisitedURLs = append(in.VisitedURLs, it.URL)
	case KindGenerated, KindMedia:
		in.VisitedGeneratedPageIDs = append(in.VisitedGeneratedPageIDs, it.PageID)
	}

	return VisitResult{
		Modified:      true,
		JustCompleted: !wasCompleted && in.Completed(),
	}
}

// MentionLink adds url to the instance's mentioned media links with set
// semantics. Returns true when the set grew.
func MentionLink(in *Instance, url string) bool {
	if url == "" || contains(in.MentionedMediaLinks, url) {
		return false
	}
	in.MentionedMediaLinks = append(in.MentionedMediaLinks, url)
	return true
}
