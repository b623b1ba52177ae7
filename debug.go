package overlaycache

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpStats = DumpFlags(1 << iota)
	DumpOverlays
	DumpIndexRows
	DumpRaw

	DumpAll = DumpStats | DumpOverlays | DumpIndexRows
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump describes the database contents in a human-readable form, one line per
// stored key, in key order. It is meant for debugging and tests.
func (db *DB) Dump(f DumpFlags) string {
	var buf strings.Builder
	stx, err := db.store.BeginTx(false)
	if err != nil {
		fmt.Fprintf(&buf, "** ERROR: %v\n", err)
		return buf.String()
	}
	defer stx.Rollback()
	b, err := overlaysBucketIn(stx)
	if err != nil {
		fmt.Fprintf(&buf, "** ERROR: %v\n", err)
		return buf.String()
	}

	if f.Contains(DumpStats) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s: keys = %d, size = %d\n", overlaysBucket, b.KeyCount(), stx.Size())
	}

	var lastTag keyTag
	var rowPos int
	for k, v := range rawOO().items(b, db.logger) {
		tag := keyTag(0)
		if len(k) >= 2 {
			tag = keyTag(k[1])
		}
		if tag == tagOverlay && !f.Contains(DumpOverlays) {
			continue
		}
		if tag != tagOverlay && !f.Contains(DumpIndexRows) {
			continue
		}
		if tag != lastTag {
			fmt.Fprintln(&buf, dumpSep2)
			lastTag = tag
			rowPos = 0
		}
		rowPos++
		db.dumpRow(&buf, f, tag, rowPos, k, v)
	}
	return buf.String()
}

func (db *DB) dumpRow(w *strings.Builder, f DumpFlags, tag keyTag, rowPos int, k, v []byte) {
	if f.Contains(DumpRaw) {
		fmt.Fprintf(w, "%v.%d: %s => %s\n", tag, rowPos, hexstr(k), hexstr(v))
	}
	if tag == tagOverlay {
		okey, err := decodeOverlayKey(k)
		if err != nil {
			fmt.Fprintf(w, "%v.%d ** ERROR: %v\n", tag, rowPos, err)
			return
		}
		var val overlayValue
		if err := val.decode(v); err != nil {
			fmt.Fprintf(w, "%v[%s].%d %s ** ERROR: %v\n", tag, okey.UserID, rowPos, okey.Key, err)
			return
		}
		mut, err := db.serializer.DecodeMutation(val.Mutation)
		if err != nil {
			fmt.Fprintf(w, "%v[%s].%d %s @%d ** ERROR: %v\n", tag, okey.UserID, rowPos, okey.Key, val.LargestBatchID, err)
			return
		}
		fmt.Fprintf(w, "%v[%s].%d %s @%d = %s\n", tag, okey.UserID, rowPos, okey.Key, val.LargestBatchID, loggableMutation(&mut))
		return
	}

	idx := indexByTag(tag)
	if idx == nil {
		fmt.Fprintf(w, "%v.%d ** ERROR: unknown key %s\n", tag, rowPos, hexstr(k))
		return
	}
	entry, err := idx.decode(k)
	if err != nil {
		fmt.Fprintf(w, "%v.%d ** ERROR: %v\n", tag, rowPos, err)
		return
	}
	fmt.Fprintf(w, "%v[%s].%d @%d %s\n", tag, entry.UserID, rowPos, entry.BatchID, entry.Key)
}

func loggableMutation(m *Mutation) string {
	return string(must(json.Marshal(m)))
}
