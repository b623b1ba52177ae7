package overlaycache

// overlayIndex describes one of the secondary indexes kept next to the
// primary overlay records. Index entries carry no value; everything needed to
// find the primary record is in the entry key.
type overlayIndex struct {
	name string
	tag  keyTag

	entryKey   func(buf []byte, userID string, batchID int, key DocumentKey) []byte
	userPrefix func(buf []byte, userID string) []byte
	decode     func(raw []byte) (indexEntry, error)
}

// indexEntry is the decoded form of any index key.
type indexEntry struct {
	UserID  string
	BatchID int
	Key     DocumentKey
}

var (
	batchIndex = &overlayIndex{
		name:       "batch_idx",
		tag:        tagBatchIndex,
		entryKey:   encodeBatchIndexKey,
		userPrefix: batchIndexUserPrefix,
		decode: func(raw []byte) (indexEntry, error) {
			k, err := decodeBatchIndexKey(raw)
			return indexEntry{k.UserID, k.BatchID, k.Key}, err
		},
	}

	collectionIndex = &overlayIndex{
		name:       "collection_idx",
		tag:        tagCollectionIndex,
		entryKey:   encodeCollectionIndexKey,
		userPrefix: collectionIndexUserPrefix,
		decode: func(raw []byte) (indexEntry, error) {
			k, err := decodeCollectionIndexKey(raw)
			return indexEntry{k.UserID, k.BatchID, k.Key}, err
		},
	}

	collectionGroupIndex = &overlayIndex{
		name:       "group_idx",
		tag:        tagCollectionGroupIndex,
		entryKey:   encodeCollectionGroupIndexKey,
		userPrefix: collectionGroupIndexUserPrefix,
		decode: func(raw []byte) (indexEntry, error) {
			k, err := decodeCollectionGroupIndexKey(raw)
			return indexEntry{k.UserID, k.BatchID, k.Key}, err
		},
	}

	allIndexes = []*overlayIndex{batchIndex, collectionIndex, collectionGroupIndex}
)

func indexByTag(tag keyTag) *overlayIndex {
	for _, idx := range allIndexes {
		if idx.tag == tag {
			return idx
		}
	}
	return nil
}

func (idx *overlayIndex) putEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	wb.Put(idx.entryKey(nil, userID, batchID, key), nil)
}

func (idx *overlayIndex) deleteEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	wb.Delete(idx.entryKey(nil, userID, batchID, key))
}

func putBatchIndexEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	batchIndex.putEntryFor(wb, userID, batchID, key)
}

func deleteBatchIndexEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	batchIndex.deleteEntryFor(wb, userID, batchID, key)
}

func putCollectionIndexEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	collectionIndex.putEntryFor(wb, userID, batchID, key)
}

func deleteCollectionIndexEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	collectionIndex.deleteEntryFor(wb, userID, batchID, key)
}

func putCollectionGroupIndexEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	collectionGroupIndex.putEntryFor(wb, userID, batchID, key)
}

func deleteCollectionGroupIndexEntryFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	collectionGroupIndex.deleteEntryFor(wb, userID, batchID, key)
}

// putIndexEntriesFor queues the entries of every index for an overlay.
func putIndexEntriesFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	putBatchIndexEntryFor(wb, userID, batchID, key)
	putCollectionIndexEntryFor(wb, userID, batchID, key)
	putCollectionGroupIndexEntryFor(wb, userID, batchID, key)
}

// deleteIndexEntriesFor queues removal of the index entries of an overlay
// previously stored at batchID.
func deleteIndexEntriesFor(wb *writeBatch, userID string, batchID int, key DocumentKey) {
	deleteBatchIndexEntryFor(wb, userID, batchID, key)
	deleteCollectionIndexEntryFor(wb, userID, batchID, key)
	deleteCollectionGroupIndexEntryFor(wb, userID, batchID, key)
}
