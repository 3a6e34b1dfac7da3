package packet

import (
	"hash/fnv"
	"strings"
)

// GroupTitlePrefix marks tab groups owned by the runtime. Titles without it
// are never touched.
const GroupTitlePrefix = "PKT-"

const instanceIDPrefix = "inst_"

// GroupIdentifier strips the leading "inst_" from an instance id. This is
// the suffix embedded in the tab-group title.
func GroupIdentifier(instanceID string) string {
	return strings.TrimPrefix(instanceID, instanceIDPrefix)
}

// GroupTitle encodes an instance id into its tab-group title:
// "PKT-" + id without the "inst_" prefix. The encoding is two-way; see
// InstanceIDFromTitle.
func GroupTitle(instanceID string) string {
	return GroupTitlePrefix + GroupIdentifier(instanceID)
}

// InstanceIDFromTitle is the exact inverse of GroupTitle. Titles that do not
// carry the prefix decode to "".
func InstanceIDFromTitle(title string) string {
	if !strings.HasPrefix(title, GroupTitlePrefix) {
		return ""
	}
	suffix := title[len(GroupTitlePrefix):]
	if suffix == "" {
		return ""
	}
	return instanceIDPrefix + suffix
}

// GroupColors is the host palette for instance tab groups.
var GroupColors = []string{
	"grey", "blue", "red", "yellow", "green", "pink", "purple", "cyan", "orange",
}

// ColorForInstance deterministically assigns a group color to an instance.
// The same instance id always maps to the same color.
func ColorForInstance(instanceID string) string {
	h := fnv.New32a()
	h.Write([]byte(instanceID))
	return GroupColors[h.Sum32()%uint32(len(GroupColors))]
}
