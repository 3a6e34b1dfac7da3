package packet

import (
	"net/url"
	"strings"
)

// MatchItem matches an observed browser URL against the instance's canonical
// keys and returns the first matching item in Contents order, or nil.
//
// Matching rules:
//   - external: decoded-string equality of the full URL.
//   - generated/media: the loaded URL's path equals "/"+key, or
//     "/"+bucket+"/"+key for bucket-prefixed layouts. Query strings are
//     ignored, so presigned or re-signed URLs keep matching their stored key.
//   - alternative wrappers are searched recursively (they appear only in
//     image SourceContent; instance Contents is flat, but the recursion keeps
//     the matcher usable on both).
func MatchItem(loadedURL string, contents []Item) *Item {
	if loadedURL == "" {
		return nil
	}
	loadedPath := pathOf(loadedURL)
	decodedLoaded := decode(loadedURL)

	for i := range contents {
		it := &contents[i]
		switch it.Kind {
		case KindExternal:
			if it.URL != "" && decode(it.URL) == decodedLoaded {
				return it
			}
		case KindGenerated, KindMedia:
			if it.Key == "" || loadedPath == "" {
				continue
			}
			if loadedPath == "/"+it.Key {
				return it
			}
			if it.Bucket != "" && loadedPath == "/"+it.Bucket+"/"+it.Key {
				return it
			}
		case KindAlternative:
			if m := MatchItem(loadedURL, it.Alternatives); m != nil {
				return m
			}
		}
	}
	return nil
}

// IsURLInPacket reports whether the observed URL matches any item of the
// instance.
func IsURLInPacket(loadedURL string, in *Instance) bool {
	return MatchItem(loadedURL, in.Contents) != nil
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := u.Path
	// Normalize percent-encoding so "/pkt%2Fa.html" and "/pkt/a.html"
	// compare equal against the stored key.
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	return p
}

func decode(raw string) string {
	if dec, err := url.QueryUnescape(raw); err == nil {
		return strings.TrimSuffix(dec, "/")
	}
	return strings.TrimSuffix(raw, "/")
}
