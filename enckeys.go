package overlaycache

import (
	"fmt"
	"math"
	"strings"
)

// Key layout. Every key starts with the format version and a tag byte that
// selects one of four key shapes:
//
//	overlay:                 ver 0x10 user path
//	batch index:             ver 0x20 user batch path
//	collection index:        ver 0x30 user collection batch docID
//	collection group index:  ver 0x40 user group batch collection docID
//
// Strings escape 0x00 as 0x00 0xFF and end with 0x00 0x01. Paths are a run of
// strings closed by 0x00 0x00. Batch ids are big-endian int64 with the sign bit
// flipped. All of this keeps byte order equal to logical order, so a prefix
// scan visits exactly one user / collection / group / batch.
const (
	keyFormatVersion byte = 1

	escByte      byte = 0x00
	escNull      byte = 0xFF
	escStringEnd byte = 0x01
	escPathEnd   byte = 0x00

	batchIDSignBit = uint64(1) << 63
)

type keyTag byte

const (
	tagOverlay              keyTag = 0x10
	tagBatchIndex           keyTag = 0x20
	tagCollectionIndex      keyTag = 0x30
	tagCollectionGroupIndex keyTag = 0x40
)

func (tag keyTag) String() string {
	switch tag {
	case tagOverlay:
		return "overlay"
	case tagBatchIndex:
		return "batch_idx"
	case tagCollectionIndex:
		return "collection_idx"
	case tagCollectionGroupIndex:
		return "group_idx"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(tag))
	}
}

func appendKeyHeader(buf []byte, tag keyTag) []byte {
	return append(buf, keyFormatVersion, byte(tag))
}

func appendOrderedString(buf []byte, s string) []byte {
	buf = ensureCapacity(buf, len(buf)+len(s)+2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escByte {
			buf = append(buf, escByte, escNull)
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, escByte, escStringEnd)
}

func appendOrderedPath(buf []byte, path ResourcePath) []byte {
	for _, seg := range path {
		buf = appendOrderedString(buf, seg)
	}
	return append(buf, escByte, escPathEnd)
}

func appendOrderedBatchID(buf []byte, batchID int) []byte {
	return appendUint64(buf, uint64(int64(batchID))^batchIDSignBit)
}

// overlay: (user, document path)

type overlayKey struct {
	UserID string
	Key    DocumentKey
}

func overlayUserPrefix(buf []byte, userID string) []byte {
	buf = appendKeyHeader(buf, tagOverlay)
	return appendOrderedString(buf, userID)
}

func encodeOverlayKey(buf []byte, userID string, key DocumentKey) []byte {
	buf = overlayUserPrefix(buf, userID)
	return appendOrderedPath(buf, key.Path())
}

func decodeOverlayKey(raw []byte) (overlayKey, error) {
	var k overlayKey
	d := keyDecoder{makeByteDecoder(raw)}
	err := d.Header(tagOverlay)
	if err == nil {
		k.UserID, err = d.OrderedString()
	}
	if err == nil {
		k.Key, err = d.DocumentKey()
	}
	if err == nil {
		err = d.End()
	}
	if err != nil {
		return overlayKey{}, malformedKey(raw, err)
	}
	return k, nil
}

// batch index: (user, batch, document path)

type batchIndexKey struct {
	UserID  string
	BatchID int
	Key     DocumentKey
}

func batchIndexUserPrefix(buf []byte, userID string) []byte {
	buf = appendKeyHeader(buf, tagBatchIndex)
	return appendOrderedString(buf, userID)
}

func batchIndexBatchPrefix(buf []byte, userID string, batchID int) []byte {
	buf = batchIndexUserPrefix(buf, userID)
	return appendOrderedBatchID(buf, batchID)
}

func encodeBatchIndexKey(buf []byte, userID string, batchID int, key DocumentKey) []byte {
	buf = batchIndexBatchPrefix(buf, userID, batchID)
	return appendOrderedPath(buf, key.Path())
}

func decodeBatchIndexKey(raw []byte) (batchIndexKey, error) {
	var k batchIndexKey
	d := keyDecoder{makeByteDecoder(raw)}
	err := d.Header(tagBatchIndex)
	if err == nil {
		k.UserID, err = d.OrderedString()
	}
	if err == nil {
		k.BatchID, err = d.BatchID()
	}
	if err == nil {
		k.Key, err = d.DocumentKey()
	}
	if err == nil {
		err = d.End()
	}
	if err != nil {
		return batchIndexKey{}, malformedKey(raw, err)
	}
	return k, nil
}

// collection index: (user, collection path, batch, document id)

type collectionIndexKey struct {
	UserID     string
	Collection ResourcePath
	BatchID    int
	Key        DocumentKey
}

func collectionIndexUserPrefix(buf []byte, userID string) []byte {
	buf = appendKeyHeader(buf, tagCollectionIndex)
	return appendOrderedString(buf, userID)
}

func collectionIndexCollectionPrefix(buf []byte, userID string, collection ResourcePath) []byte {
	buf = collectionIndexUserPrefix(buf, userID)
	return appendOrderedPath(buf, collection)
}

func collectionIndexBatchPrefix(buf []byte, userID string, collection ResourcePath, batchID int) []byte {
	buf = collectionIndexCollectionPrefix(buf, userID, collection)
	return appendOrderedBatchID(buf, batchID)
}

func encodeCollectionIndexKey(buf []byte, userID string, batchID int, key DocumentKey) []byte {
	path := key.Path()
	buf = collectionIndexBatchPrefix(buf, userID, path.PopLast(), batchID)
	return appendOrderedString(buf, path.LastSegment())
}

func decodeCollectionIndexKey(raw []byte) (collectionIndexKey, error) {
	var k collectionIndexKey
	var docID string
	d := keyDecoder{makeByteDecoder(raw)}
	err := d.Header(tagCollectionIndex)
	if err == nil {
		k.UserID, err = d.OrderedString()
	}
	if err == nil {
		k.Collection, err = d.Path()
	}
	if err == nil {
		k.BatchID, err = d.BatchID()
	}
	if err == nil {
		docID, err = d.OrderedString()
	}
	if err == nil {
		err = d.End()
	}
	if err == nil {
		k.Key, err = NewDocumentKey(k.Collection.Append(docID))
	}
	if err != nil {
		return collectionIndexKey{}, malformedKey(raw, err)
	}
	return k, nil
}

// collection group index: (user, group, batch, collection path, document id)

type collectionGroupIndexKey struct {
	UserID  string
	Group   string
	BatchID int
	Key     DocumentKey
}

func collectionGroupIndexUserPrefix(buf []byte, userID string) []byte {
	buf = appendKeyHeader(buf, tagCollectionGroupIndex)
	return appendOrderedString(buf, userID)
}

func collectionGroupIndexGroupPrefix(buf []byte, userID string, group string) []byte {
	buf = collectionGroupIndexUserPrefix(buf, userID)
	return appendOrderedString(buf, group)
}

func collectionGroupIndexBatchPrefix(buf []byte, userID string, group string, batchID int) []byte {
	buf = collectionGroupIndexGroupPrefix(buf, userID, group)
	return appendOrderedBatchID(buf, batchID)
}

func encodeCollectionGroupIndexKey(buf []byte, userID string, batchID int, key DocumentKey) []byte {
	path := key.Path()
	collection := path.PopLast()
	buf = collectionGroupIndexBatchPrefix(buf, userID, collection.LastSegment(), batchID)
	buf = appendOrderedPath(buf, collection)
	return appendOrderedString(buf, path.LastSegment())
}

func decodeCollectionGroupIndexKey(raw []byte) (collectionGroupIndexKey, error) {
	var k collectionGroupIndexKey
	var collection ResourcePath
	var docID string
	d := keyDecoder{makeByteDecoder(raw)}
	err := d.Header(tagCollectionGroupIndex)
	if err == nil {
		k.UserID, err = d.OrderedString()
	}
	if err == nil {
		k.Group, err = d.OrderedString()
	}
	if err == nil {
		k.BatchID, err = d.BatchID()
	}
	if err == nil {
		collection, err = d.Path()
	}
	if err == nil {
		docID, err = d.OrderedString()
	}
	if err == nil {
		err = d.End()
	}
	if err == nil && collection.LastSegment() != k.Group {
		err = fmt.Errorf("collection %q does not belong to group %q", collection.String(), k.Group)
	}
	if err == nil {
		k.Key, err = NewDocumentKey(collection.Append(docID))
	}
	if err != nil {
		return collectionGroupIndexKey{}, malformedKey(raw, err)
	}
	return k, nil
}

type keyDecoder struct {
	byteDecoder
}

func (d *keyDecoder) Header(tag keyTag) error {
	ver, err := d.Byte()
	if err != nil {
		return err
	}
	if ver != keyFormatVersion {
		return fmt.Errorf("unsupported key format version %d", ver)
	}
	actual, err := d.Byte()
	if err != nil {
		return err
	}
	if keyTag(actual) != tag {
		return fmt.Errorf("got %v key, wanted %v", keyTag(actual), tag)
	}
	return nil
}

func (d *keyDecoder) OrderedString() (string, error) {
	var buf strings.Builder
	for {
		c, err := d.Byte()
		if err != nil {
			return "", err
		}
		if c != escByte {
			buf.WriteByte(c)
			continue
		}
		esc, err := d.Byte()
		if err != nil {
			return "", err
		}
		switch esc {
		case escNull:
			buf.WriteByte(escByte)
		case escStringEnd:
			return buf.String(), nil
		default:
			return "", dataErrf(d.Orig, d.Off()-1, nil, "invalid escape 0x%02x", esc)
		}
	}
}

func (d *keyDecoder) Path() (ResourcePath, error) {
	var path ResourcePath
	for {
		if len(d.Buf) >= 2 && d.Buf[0] == escByte && d.Buf[1] == escPathEnd {
			d.Buf = d.Buf[2:]
			break
		}
		seg, err := d.OrderedString()
		if err != nil {
			return nil, err
		}
		path = append(path, seg)
	}
	if err := path.validate(); err != nil {
		return nil, err
	}
	return path, nil
}

func (d *keyDecoder) DocumentKey() (DocumentKey, error) {
	path, err := d.Path()
	if err != nil {
		return DocumentKey{}, err
	}
	return NewDocumentKey(path)
}

func (d *keyDecoder) BatchID() (int, error) {
	v, err := d.Fixed64()
	if err != nil {
		return 0, err
	}
	id := int64(v ^ batchIDSignBit)
	if id < math.MinInt || id > math.MaxInt {
		return 0, fmt.Errorf("batch id %d does not fit into int", id)
	}
	return int(id), nil
}

func (d *keyDecoder) End() error {
	if !d.Done() {
		return dataErrf(d.Orig, d.Off(), nil, "%d trailing bytes", len(d.Buf))
	}
	return nil
}

func malformedKey(raw []byte, err error) error {
	return dataErrf(raw, 0, fmt.Errorf("%w: %w", ErrMalformedKey, err), "cannot decode key")
}
