package overlaycache

import (
	"bytes"
	"context"
	"iter"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// rawRange defines a range of byte strings. The constructors use mnemonics:
// O means open, I means inclusive; the first letter is for the lower bound,
// the second for the upper bound.
type rawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
}

func rawOO() rawRange                            { return rawRange{} }
func rawIO(l []byte) rawRange                    { return rawRange{Lower: l, LowerInc: true} }
func rawPrefix(p []byte) rawRange                { return rawRange{Prefix: p} }
func (rang rawRange) Prefixed(p []byte) rawRange { rang.Prefix = p; return rang }

func (r *rawRange) start(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	var k, v []byte
	lower := r.Lower
	if lower != nil {
		if r.Prefix != nil && !bytes.HasPrefix(lower, r.Prefix) {
			panic("lower bound does not match prefix")
		}
	} else if r.Prefix != nil {
		lower = r.Prefix
	}
	if lower != nil {
		k, v = bcur.Seek(lower)
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK to lower", hexAttr("lower", lower), hexAttr("key", k), hexAttr("val", v))
		}
	} else {
		k, v = bcur.First()
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "FIRST", hexAttr("key", k), hexAttr("val", v))
		}
	}
	if k != nil && r.Lower != nil && !r.LowerInc && bytes.Equal(k, r.Lower) {
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "SKIP_INITIAL")
		}
		return r.next(bcur, logger)
	}
	if k != nil && r.match(k, v, logger) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) next(bcur storageCursor, logger *slog.Logger) ([]byte, []byte) {
	k, v := bcur.Next()
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "NEXT", hexAttr("key", k), hexAttr("val", v))
	}
	if k != nil && r.match(k, v, logger) {
		return k, v
	}
	return nil, nil
}

func (r *rawRange) match(k, v []byte, logger *slog.Logger) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		if debugLogRawScans {
			logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on prefix", hexAttr("prefix", r.Prefix), hexAttr("key", k), hexAttr("val", v))
		}
		return false
	}
	if upper := r.Upper; upper != nil {
		cmp := bytes.Compare(k, upper)
		if cmp == 1 || (cmp == 0 && !r.UpperInc) {
			if debugLogRawScans {
				logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL on upper", hexAttr("upper", upper), hexAttr("key", k), hexAttr("val", v))
			}
			return false
		}
	}
	return true
}

func (rang *rawRange) newCursor(bcur storageCursor, logger *slog.Logger) *rawRangeCursor {
	return &rawRangeCursor{rang: *rang, bcur: bcur, logger: logger}
}

// items returns a lazy sequence over the range. Every iteration seeks anew,
// so the sequence can be restarted while the underlying transaction is open.
func (rang rawRange) items(b storageBucket, logger *slog.Logger) iter.Seq2[[]byte, []byte] {
	return func(yield func(k, v []byte) bool) {
		c := rang.newCursor(b.Cursor(), logger)
		for c.Next() {
			if !yield(c.Key(), c.Value()) {
				return
			}
		}
	}
}

// count returns the number of keys in the range.
func (rang rawRange) count(b storageBucket, logger *slog.Logger) int {
	var n int
	for range rang.items(b, logger) {
		n++
	}
	return n
}

type rawRangeCursor struct {
	rang   rawRange
	bcur   storageCursor
	logger *slog.Logger
	k, v   []byte
	init   bool
}

func (c *rawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *rawRangeCursor) Key() []byte   { return c.k }
func (c *rawRangeCursor) Value() []byte { return c.v }
