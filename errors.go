package overlaycache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedKey means a stored key could not be decoded, which points
	// to on-disk corruption or a codec mismatch. Not retryable.
	ErrMalformedKey = errors.New("malformed key")

	// ErrCorruptRecord means the envelope of a primary overlay record is
	// unreadable.
	ErrCorruptRecord = errors.New("corrupt overlay record")

	// ErrDecode is returned by serializers for undecodable mutation payloads.
	ErrDecode = errors.New("cannot decode mutation")

	// ErrInvalidMutation means a mutation cannot be stored: its kind is
	// unknown or a field holds a value outside the supported set.
	ErrInvalidMutation = errors.New("invalid mutation")

	// ErrIndexInconsistency means an index entry has no matching primary
	// record, or a primary record is missing one of its index entries.
	ErrIndexInconsistency = errors.New("index inconsistency")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// CacheError carries the user scope, the index (empty for the primary
// store) and the document involved in a failed operation.
type CacheError struct {
	UserID string
	Index  string
	Key    DocumentKey
	Msg    string
	Err    error
}

func cacheErrf(userID string, idx *overlayIndex, key DocumentKey, err error, format string, args ...any) error {
	e := &CacheError{UserID: userID, Key: key, Msg: fmt.Sprintf(format, args...), Err: err}
	if idx != nil {
		e.Index = idx.name
	}
	return e
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

func (e *CacheError) Error() string {
	var buf strings.Builder
	buf.WriteString("overlays[")
	buf.WriteString(e.UserID)
	buf.WriteByte(']')
	if e.Index != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Index)
	}
	if !e.Key.IsZero() {
		buf.WriteByte('/')
		buf.WriteString(e.Key.String())
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
