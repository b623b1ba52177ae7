package overlaycache

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"time"
)

// DocumentOverlayCache stores the overlays of one user. It is a lightweight
// view over the DB; create one per user with DB.OverlayCache.
type DocumentOverlayCache struct {
	db     *DB
	userID string
	logger *slog.Logger
}

func (c *DocumentOverlayCache) UserID() string {
	return c.userID
}

func (c *DocumentOverlayCache) record(op string, start time.Time, errp *error) {
	c.db.metrics.RecordOperation(op, start, *errp)
}

// GetOverlay returns the overlay of the given document, or nil if there is
// none.
func (c *DocumentOverlayCache) GetOverlay(key DocumentKey) (ov *Overlay, err error) {
	defer c.record("get", time.Now(), &err)
	if key.IsZero() {
		return nil, cacheErrf(c.userID, nil, key, nil, "zero document key")
	}
	err = c.db.read(func(b storageBucket) error {
		keyBuf := keyBytesPool.Get().([]byte)
		defer func() { keyBytesPool.Put(keyBuf[:0]) }()
		keyBuf = encodeOverlayKey(keyBuf[:0], c.userID, key)

		raw := b.Get(keyBuf)
		if raw == nil {
			return nil
		}
		o, err := c.decodeOverlay(key, raw)
		if err != nil {
			return err
		}
		ov = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ov, nil
}

// SaveOverlays stores an overlay for every document in overlays, all with
// the given largest batch id, replacing the overlays those documents had.
// Either all of them are saved or none is. Mutations with field values
// outside the supported set fail with ErrInvalidMutation.
func (c *DocumentOverlayCache) SaveOverlays(largestBatchID int, overlays MutationMap) (err error) {
	defer c.record("save", time.Now(), &err)
	if len(overlays) == 0 {
		return nil
	}

	keys := make([]DocumentKey, 0, len(overlays))
	for key := range overlays {
		if key.IsZero() {
			return cacheErrf(c.userID, nil, key, nil, "zero document key")
		}
		mut := overlays[key]
		if err := mut.validate(); err != nil {
			return cacheErrf(c.userID, nil, key, err, "")
		}
		keys = append(keys, key)
	}
	slices.SortFunc(keys, DocumentKey.Compare)

	err = c.db.write(c.logger, func(b storageBucket, wb *writeBatch) error {
		mutBuf := valueBytesPool.Get().([]byte)
		defer func() { valueBytesPool.Put(mutBuf[:0]) }()

		for _, key := range keys {
			mut := overlays[key]
			if err := c.saveOverlay(b, wb, largestBatchID, key, &mut, &mutBuf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.db.metrics.RecordWritten(len(keys))
	if c.db.verbose {
		for _, key := range keys {
			c.logger.LogAttrs(context.Background(), slog.LevelDebug, "overlay: SAVE", slog.String("key", key.String()), slog.Int("batch", largestBatchID))
		}
	}
	return nil
}

func (c *DocumentOverlayCache) saveOverlay(b storageBucket, wb *writeBatch, largestBatchID int, key DocumentKey, mut *Mutation, mutBuf *[]byte) error {
	okey := encodeOverlayKey(nil, c.userID, key)

	if old := b.Get(okey); old != nil {
		var oldVal overlayValue
		if err := oldVal.decode(old); err != nil {
			// The old batch id is lost with the record, so its index
			// entries cannot be located.
			if c.db.strict {
				return cacheErrf(c.userID, nil, key, err, "cannot replace overlay")
			}
			c.db.metrics.RecordSkipped(skipCorruptRecord)
			c.logger.LogAttrs(context.Background(), slog.LevelWarn, "overlay: replacing corrupt record", slog.String("key", key.String()), slog.Any("err", err))
		} else {
			deleteIndexEntriesFor(wb, c.userID, oldVal.LargestBatchID, key)
		}
	}

	var err error
	*mutBuf, err = c.db.serializer.EncodeMutation((*mutBuf)[:0], mut)
	if err != nil {
		return cacheErrf(c.userID, nil, key, err, "")
	}
	wb.Put(okey, appendOverlayValue(nil, vfDefault, largestBatchID, *mutBuf))
	putIndexEntriesFor(wb, c.userID, largestBatchID, key)
	return nil
}

// RemoveOverlaysForBatchID removes every overlay whose largest batch id is
// batchID. Removing a batch that has no overlays does nothing.
func (c *DocumentOverlayCache) RemoveOverlaysForBatchID(batchID int) (err error) {
	defer c.record("remove", time.Now(), &err)

	var removed []DocumentKey
	err = c.db.write(c.logger, func(b storageBucket, wb *writeBatch) error {
		prefix := batchIndexBatchPrefix(nil, c.userID, batchID)
		for k := range rawPrefix(prefix).items(b, c.logger) {
			entry, err := decodeBatchIndexKey(k)
			if err != nil {
				return cacheErrf(c.userID, batchIndex, DocumentKey{}, err, "")
			}
			ok, err := c.removeOverlay(b, wb, batchID, entry.Key)
			if err != nil {
				return err
			}
			if ok {
				removed = append(removed, entry.Key)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.db.metrics.RecordRemoved(len(removed))
	if c.db.verbose {
		for _, key := range removed {
			c.logger.LogAttrs(context.Background(), slog.LevelDebug, "overlay: REMOVE", slog.String("key", key.String()), slog.Int("batch", batchID))
		}
	}
	return nil
}

// removeOverlay queues removal of the overlay of key found in the batch index
// under batchID. The index entries for batchID are always dropped; the
// primary record only if it belongs to that batch.
func (c *DocumentOverlayCache) removeOverlay(b storageBucket, wb *writeBatch, batchID int, key DocumentKey) (bool, error) {
	okey := encodeOverlayKey(nil, c.userID, key)
	deleteIndexEntriesFor(wb, c.userID, batchID, key)

	raw := b.Get(okey)
	var val overlayValue
	var inconsistency string
	if raw == nil {
		inconsistency = "overlay record missing"
	} else if err := val.decode(raw); err != nil {
		// Undecodable records are removed with the batch that references them.
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "overlay: removing corrupt record", slog.String("key", key.String()), slog.Any("err", err))
		wb.Delete(okey)
		return true, nil
	} else if val.LargestBatchID != batchID {
		inconsistency = fmt.Sprintf("overlay record has batch %d", val.LargestBatchID)
	}

	if inconsistency != "" {
		if c.db.strict {
			return false, cacheErrf(c.userID, batchIndex, key, ErrIndexInconsistency, "batch %d: %s", batchID, inconsistency)
		}
		c.db.metrics.RecordSkipped(skipInconsistency)
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "overlay: dropping stale index entries", slog.String("key", key.String()), slog.Int("batch", batchID), slog.String("problem", inconsistency))
		return false, nil
	}

	wb.Delete(okey)
	return true, nil
}

// GetOverlays returns the overlays of the documents directly inside
// collection whose largest batch id is above sinceBatchID.
func (c *DocumentOverlayCache) GetOverlays(collection ResourcePath, sinceBatchID int) (result OverlayMap, err error) {
	defer c.record("list_collection", time.Now(), &err)
	result = make(OverlayMap)
	for ov, err := range c.CollectionOverlays(collection, sinceBatchID) {
		if err != nil {
			return nil, err
		}
		result[ov.Key] = ov
	}
	c.db.metrics.RecordListing("list_collection", len(result))
	return result, nil
}

// GetCollectionGroupOverlays returns up to count overlays of documents in
// collections named group, oldest batches first, considering only batches
// above sinceBatchID.
func (c *DocumentOverlayCache) GetCollectionGroupOverlays(group string, sinceBatchID, count int) (result OverlayMap, err error) {
	defer c.record("list_group", time.Now(), &err)
	result = make(OverlayMap)
	if count <= 0 {
		return result, nil
	}
	for ov, err := range c.CollectionGroupOverlays(group, sinceBatchID) {
		if err != nil {
			return nil, err
		}
		result[ov.Key] = ov
		if len(result) >= count {
			break
		}
	}
	c.db.metrics.RecordListing("list_group", len(result))
	return result, nil
}

// CollectionOverlays lazily lists the overlays of documents directly inside
// collection with a largest batch id above sinceBatchID, in ascending batch
// order. The sequence holds a read transaction while it runs.
func (c *DocumentOverlayCache) CollectionOverlays(collection ResourcePath, sinceBatchID int) iter.Seq2[Overlay, error] {
	return func(yield func(Overlay, error) bool) {
		if collection.Len()%2 != 1 {
			yield(Overlay{}, cacheErrf(c.userID, collectionIndex, DocumentKey{}, nil, "invalid collection path %q", collection.String()))
			return
		}
		if err := collection.validate(); err != nil {
			yield(Overlay{}, cacheErrf(c.userID, collectionIndex, DocumentKey{}, err, "invalid collection path %q", collection.String()))
			return
		}
		if sinceBatchID == math.MaxInt {
			return
		}
		rang := rawIO(collectionIndexBatchPrefix(nil, c.userID, collection, sinceBatchID+1)).Prefixed(collectionIndexCollectionPrefix(nil, c.userID, collection))
		c.scanIndex(collectionIndex, rang, sinceBatchID, yield)
	}
}

// CollectionGroupOverlays lazily lists the overlays of documents in
// collections named group with a largest batch id above sinceBatchID, in
// ascending batch order.
func (c *DocumentOverlayCache) CollectionGroupOverlays(group string, sinceBatchID int) iter.Seq2[Overlay, error] {
	return func(yield func(Overlay, error) bool) {
		if err := (ResourcePath{group}).validate(); err != nil {
			yield(Overlay{}, cacheErrf(c.userID, collectionGroupIndex, DocumentKey{}, err, "invalid collection group %q", group))
			return
		}
		if sinceBatchID == math.MaxInt {
			return
		}
		rang := rawIO(collectionGroupIndexBatchPrefix(nil, c.userID, group, sinceBatchID+1)).Prefixed(collectionGroupIndexGroupPrefix(nil, c.userID, group))
		c.scanIndex(collectionGroupIndex, rang, sinceBatchID, yield)
	}
}

// errStopScan is returned internally when the consumer stops a listing.
var errStopScan = errors.New("stop")

func (c *DocumentOverlayCache) scanIndex(idx *overlayIndex, rang rawRange, sinceBatchID int, yield func(Overlay, error) bool) {
	err := c.db.read(func(b storageBucket) error {
		for k := range rang.items(b, c.logger) {
			entry, err := idx.decode(k)
			if err != nil {
				return cacheErrf(c.userID, idx, DocumentKey{}, err, "")
			}
			if entry.BatchID <= sinceBatchID {
				continue
			}
			ov, ok, err := c.resolve(b, idx, entry)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if !yield(ov, nil) {
				return errStopScan
			}
		}
		return nil
	})
	if err != nil && err != errStopScan {
		yield(Overlay{}, err)
	}
}

// resolve loads the primary record an index entry points to. Rows that
// cannot be decoded are skipped; so are dangling entries unless the DB is
// strict.
func (c *DocumentOverlayCache) resolve(b storageBucket, idx *overlayIndex, entry indexEntry) (Overlay, bool, error) {
	raw := b.Get(encodeOverlayKey(nil, c.userID, entry.Key))
	if raw == nil {
		return Overlay{}, false, c.inconsistency(idx, entry, "overlay record missing")
	}

	ov, err := c.decodeOverlay(entry.Key, raw)
	if err != nil {
		reason := skipDecode
		if errors.Is(err, ErrCorruptRecord) {
			reason = skipCorruptRecord
		}
		c.db.metrics.RecordSkipped(reason)
		c.logger.LogAttrs(context.Background(), slog.LevelWarn, "overlay: skipping unreadable row", slog.String("index", idx.name), slog.String("key", entry.Key.String()), slog.Any("err", err))
		return Overlay{}, false, nil
	}
	if ov.LargestBatchID != entry.BatchID {
		return Overlay{}, false, c.inconsistency(idx, entry, fmt.Sprintf("overlay record has batch %d", ov.LargestBatchID))
	}
	return ov, true, nil
}

func (c *DocumentOverlayCache) inconsistency(idx *overlayIndex, entry indexEntry, problem string) error {
	if c.db.strict {
		return cacheErrf(c.userID, idx, entry.Key, ErrIndexInconsistency, "batch %d: %s", entry.BatchID, problem)
	}
	c.db.metrics.RecordSkipped(skipInconsistency)
	c.logger.LogAttrs(context.Background(), slog.LevelWarn, "overlay: skipping dangling index entry", slog.String("index", idx.name), slog.String("key", entry.Key.String()), slog.Int("batch", entry.BatchID), slog.String("problem", problem))
	return nil
}

func (c *DocumentOverlayCache) decodeOverlay(key DocumentKey, raw []byte) (Overlay, error) {
	var val overlayValue
	if err := val.decode(raw); err != nil {
		return Overlay{}, cacheErrf(c.userID, nil, key, err, "")
	}
	// Storage-owned bytes do not outlive the transaction.
	mut, err := c.db.serializer.DecodeMutation(slices.Clone(val.Mutation))
	if err != nil {
		return Overlay{}, cacheErrf(c.userID, nil, key, err, "")
	}
	return Overlay{Key: key, LargestBatchID: val.LargestBatchID, Mutation: mut}, nil
}
