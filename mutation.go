package overlaycache

import "fmt"

type MutationKind int

const (
	MutationSet MutationKind = iota + 1
	MutationPatch
	MutationDelete
	MutationVerify
)

func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "set"
	case MutationPatch:
		return "patch"
	case MutationDelete:
		return "delete"
	case MutationVerify:
		return "verify"
	default:
		return fmt.Sprintf("invalid mutation kind %d", int(k))
	}
}

func (k MutationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *MutationKind) UnmarshalText(b []byte) error {
	for v := MutationSet; v <= MutationVerify; v++ {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("invalid mutation kind %q", b)
}

// Precondition guards a mutation on the state of the remote document.
type Precondition struct {
	Exists *bool `msgpack:"x,omitempty" json:"exists,omitempty"`
	// UpdateTime is the remote version in microseconds since the Unix epoch.
	UpdateTime int64 `msgpack:"t,omitempty" json:"update_time,omitempty"`
}

// Mutation is the net pending local write for one document. The cache never
// interprets it; it only hands it to the Serializer.
type Mutation struct {
	Kind         MutationKind   `msgpack:"k" json:"kind"`
	Fields       map[string]any `msgpack:"f,omitempty" json:"fields,omitempty"`
	FieldMask    []string       `msgpack:"m,omitempty" json:"field_mask,omitempty"`
	Precondition *Precondition  `msgpack:"p,omitempty" json:"precondition,omitempty"`
}

// Overlay is the decoded form of a stored overlay record.
type Overlay struct {
	Key            DocumentKey
	LargestBatchID int
	Mutation       Mutation
}

func (o Overlay) String() string {
	return fmt.Sprintf("%s@%d(%s)", o.Key, o.LargestBatchID, o.Mutation.Kind)
}

type (
	MutationMap = map[DocumentKey]Mutation
	OverlayMap  = map[DocumentKey]Overlay
)
