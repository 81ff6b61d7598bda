package tagging

import "strings"

// PlatformTagged reports whether the platform itself manages the tag. These
// tags are seeded by the platform's automatic classification and must never
// be added or removed by reconciliation.
func PlatformTagged(name string) bool {
	if name == "New" || name == "Discovered" {
		return true
	}
	return strings.HasPrefix(name, "Discovered.")
}

// RootTag is the root entry of a tag hierarchy creation payload.
type RootTag struct {
	Name            string `json:"name"`
	DeleteHierarchy bool   `json:"deleteHierarchy"`
}

// CreationBody is the payload the tag creation endpoint accepts. RootTag is
// only present for hierarchies; a bare tag goes in Tags alone.
type CreationBody struct {
	RootTag *RootTag `json:"rootTag,omitempty"`
	Tags    []Tag    `json:"tags"`
}

// CreationBodyFor builds the creation payload for one tag hierarchy. Child
// entries attach under the root; the root itself is declared separately and
// not repeated in Tags.
func CreationBodyFor(h TagHierarchy) CreationBody {
	if len(h.Children) == 0 {
		return CreationBody{Tags: []Tag{{Name: h.Root}}}
	}

	tags := make([]Tag, 0, len(h.Children))
	for _, child := range h.Children {
		tags = append(tags, Tag{Name: child})
	}
	return CreationBody{
		RootTag: &RootTag{Name: h.Root, DeleteHierarchy: false},
		Tags:    tags,
	}
}
