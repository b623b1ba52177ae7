package overlaycache

import (
	"fmt"
	"strings"
)

const pathSep = "/"

// ResourcePath is a slash-separated path of non-empty segments, like
// "rooms/eros/messages". Paths are compared segment by segment.
type ResourcePath []string

func ParseResourcePath(s string) (ResourcePath, error) {
	s = strings.Trim(s, pathSep)
	if s == "" {
		return ResourcePath{}, nil
	}
	path := ResourcePath(strings.Split(s, pathSep))
	if err := path.validate(); err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", s, err)
	}
	return path, nil
}

func MustParseResourcePath(s string) ResourcePath {
	return must(ParseResourcePath(s))
}

func (p ResourcePath) validate() error {
	for i, seg := range p {
		if seg == "" {
			return fmt.Errorf("segment %d is empty", i)
		}
		if strings.Contains(seg, pathSep) {
			return fmt.Errorf("segment %d (%q) contains %q", i, seg, pathSep)
		}
	}
	return nil
}

func (p ResourcePath) Len() int      { return len(p) }
func (p ResourcePath) IsEmpty() bool { return len(p) == 0 }

func (p ResourcePath) LastSegment() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (p ResourcePath) PopLast() ResourcePath {
	if len(p) == 0 {
		panic("PopLast on empty path")
	}
	return p[:len(p)-1:len(p)-1]
}

func (p ResourcePath) Append(segments ...string) ResourcePath {
	out := make(ResourcePath, 0, len(p)+len(segments))
	out = append(out, p...)
	return append(out, segments...)
}

func (p ResourcePath) Equal(another ResourcePath) bool {
	return p.Compare(another) == 0
}

func (p ResourcePath) Compare(another ResourcePath) int {
	n := min(len(p), len(another))
	for i := 0; i < n; i++ {
		if c := strings.Compare(p[i], another[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(another):
		return -1
	case len(p) > len(another):
		return 1
	default:
		return 0
	}
}

func (p ResourcePath) String() string {
	return strings.Join(p, pathSep)
}

// DocumentKey identifies a document by its full path, which always has an
// even number of segments: collection, document id, subcollection, and so on.
// The zero value is not a valid key. DocumentKey is comparable and can be
// used as a map key.
type DocumentKey struct {
	path string
}

func NewDocumentKey(path ResourcePath) (DocumentKey, error) {
	if err := path.validate(); err != nil {
		return DocumentKey{}, fmt.Errorf("invalid document key %q: %w", path.String(), err)
	}
	if len(path) == 0 || len(path)%2 != 0 {
		return DocumentKey{}, fmt.Errorf("invalid document key %q: must have an even, non-zero number of segments, got %d", path.String(), len(path))
	}
	return DocumentKey{path.String()}, nil
}

func ParseDocumentKey(s string) (DocumentKey, error) {
	path, err := ParseResourcePath(s)
	if err != nil {
		return DocumentKey{}, err
	}
	return NewDocumentKey(path)
}

// DocKey parses a document key and panics on failure. Handy for tests and
// literals.
func DocKey(s string) DocumentKey {
	return must(ParseDocumentKey(s))
}

func (k DocumentKey) IsZero() bool { return k.path == "" }

func (k DocumentKey) Path() ResourcePath {
	if k.path == "" {
		return nil
	}
	return ResourcePath(strings.Split(k.path, pathSep))
}

// CollectionPath returns the path of the collection that holds the document.
func (k DocumentKey) CollectionPath() ResourcePath {
	return k.Path().PopLast()
}

// CollectionGroup returns the id of the immediate parent collection, which
// is the collection group the document belongs to.
func (k DocumentKey) CollectionGroup() string {
	return k.CollectionPath().LastSegment()
}

func (k DocumentKey) DocumentID() string {
	return k.Path().LastSegment()
}

func (k DocumentKey) Compare(another DocumentKey) int {
	return k.Path().Compare(another.Path())
}

func (k DocumentKey) String() string {
	return k.path
}

func (k DocumentKey) MarshalText() ([]byte, error) {
	return []byte(k.path), nil
}

func (k *DocumentKey) UnmarshalText(b []byte) error {
	v, err := ParseDocumentKey(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
