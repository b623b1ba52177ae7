package overlaycache

import (
	"errors"
	"fmt"
)

// CacheStats counts the rows one user has in the primary store and in each
// index. In a consistent cache every index has exactly Overlays entries.
type CacheStats struct {
	Overlays                    int
	BatchIndexEntries           int
	CollectionIndexEntries      int
	CollectionGroupIndexEntries int
}

func (s CacheStats) IndexEntries() int {
	return s.BatchIndexEntries + s.CollectionIndexEntries + s.CollectionGroupIndexEntries
}

func (s CacheStats) String() string {
	return fmt.Sprintf("overlays = %d, batch_idx = %d, collection_idx = %d, group_idx = %d", s.Overlays, s.BatchIndexEntries, s.CollectionIndexEntries, s.CollectionGroupIndexEntries)
}

func (c *DocumentOverlayCache) Stats() (CacheStats, error) {
	var s CacheStats
	err := c.db.read(func(b storageBucket) error {
		s.Overlays = rawPrefix(overlayUserPrefix(nil, c.userID)).count(b, c.logger)
		s.BatchIndexEntries = c.countIndex(b, batchIndex)
		s.CollectionIndexEntries = c.countIndex(b, collectionIndex)
		s.CollectionGroupIndexEntries = c.countIndex(b, collectionGroupIndex)
		return nil
	})
	return s, err
}

func (c *DocumentOverlayCache) countIndex(b storageBucket, idx *overlayIndex) int {
	return rawPrefix(idx.userPrefix(nil, c.userID)).count(b, c.logger)
}

func (c *DocumentOverlayCache) OverlayCount() (int, error) {
	s, err := c.Stats()
	return s.Overlays, err
}

func (c *DocumentOverlayCache) BatchIndexEntryCount() (int, error) {
	return c.indexEntryCount(batchIndex)
}

func (c *DocumentOverlayCache) CollectionIndexEntryCount() (int, error) {
	return c.indexEntryCount(collectionIndex)
}

func (c *DocumentOverlayCache) CollectionGroupIndexEntryCount() (int, error) {
	return c.indexEntryCount(collectionGroupIndex)
}

func (c *DocumentOverlayCache) indexEntryCount(idx *overlayIndex) (int, error) {
	var n int
	err := c.db.read(func(b storageBucket) error {
		n = c.countIndex(b, idx)
		return nil
	})
	return n, err
}

// CheckConsistency verifies that every overlay record is readable and has
// all of its index entries, and that every index entry points at an overlay
// record with the same batch id. All problems found are joined into the
// returned error.
func (c *DocumentOverlayCache) CheckConsistency() error {
	var errs []error
	err := c.db.read(func(b storageBucket) error {
		for k, v := range rawPrefix(overlayUserPrefix(nil, c.userID)).items(b, c.logger) {
			okey, err := decodeOverlayKey(k)
			if err != nil {
				errs = append(errs, cacheErrf(c.userID, nil, DocumentKey{}, err, ""))
				continue
			}
			var val overlayValue
			if err := val.decode(v); err != nil {
				errs = append(errs, cacheErrf(c.userID, nil, okey.Key, err, ""))
				continue
			}
			if _, err := c.db.serializer.DecodeMutation(val.Mutation); err != nil {
				errs = append(errs, cacheErrf(c.userID, nil, okey.Key, err, ""))
			}
			for _, idx := range allIndexes {
				if !keyExists(b, idx.entryKey(nil, c.userID, val.LargestBatchID, okey.Key)) {
					errs = append(errs, cacheErrf(c.userID, idx, okey.Key, ErrIndexInconsistency, "batch %d: index entry missing", val.LargestBatchID))
				}
			}
		}

		for _, idx := range allIndexes {
			for k := range rawPrefix(idx.userPrefix(nil, c.userID)).items(b, c.logger) {
				entry, err := idx.decode(k)
				if err != nil {
					errs = append(errs, cacheErrf(c.userID, idx, DocumentKey{}, err, ""))
					continue
				}
				raw := b.Get(encodeOverlayKey(nil, c.userID, entry.Key))
				if raw == nil {
					errs = append(errs, cacheErrf(c.userID, idx, entry.Key, ErrIndexInconsistency, "batch %d: overlay record missing", entry.BatchID))
					continue
				}
				var val overlayValue
				if val.decode(raw) != nil {
					continue // already reported above
				}
				if val.LargestBatchID != entry.BatchID {
					errs = append(errs, cacheErrf(c.userID, idx, entry.Key, ErrIndexInconsistency, "batch %d: overlay record has batch %d", entry.BatchID, val.LargestBatchID))
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// DBStats describes the whole database across all users.
type DBStats struct {
	Keys   int
	Size   int64
	Reads  uint64
	Writes uint64
}

func (db *DB) Stats() (DBStats, error) {
	var s DBStats
	stx, err := db.store.BeginTx(false)
	if err != nil {
		return s, fmt.Errorf("overlaycache: begin read: %w", err)
	}
	defer stx.Rollback()
	b, err := overlaysBucketIn(stx)
	if err != nil {
		return s, err
	}
	s.Keys = b.KeyCount()
	s.Size = stx.Size()
	s.Reads = db.ReadCount.Load()
	s.Writes = db.WriteCount.Load()
	return s, nil
}
