package overlaycache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
)

const overlaysBucket = "overlays"

// DB owns the storage and the serializer shared by the overlay caches of all
// users. Caches borrow both and must not outlive the DB.
type DB struct {
	store      storage
	bdb        *bbolt.DB
	serializer Serializer
	logger     *slog.Logger
	metrics    *Metrics
	verbose    bool
	strict     bool

	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

type Options struct {
	Logger *slog.Logger

	// Verbose logs every save and removal at debug level.
	Verbose bool

	// IsTesting trades durability for speed and implies Strict.
	IsTesting bool

	// Strict turns index inconsistencies found by listings into errors instead
	// of logging and skipping them.
	Strict bool

	MmapSize   int
	Serializer Serializer
	Metrics    *Metrics
}

// Open opens (creating if needed) a Bolt-backed overlay database.
func Open(path string, opt Options) (*DB, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 64
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("overlaycache: %w", err)
	}
	db, err := newDB(newBoltStorage(bdb), opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	db.bdb = bdb
	return db, nil
}

// OpenMemory returns a DB backed by transient in-memory storage.
func OpenMemory(opt Options) *DB {
	return must(newDB(newMemStorage(), opt))
}

func newDB(store storage, opt Options) (*DB, error) {
	db := &DB{
		store:      store,
		serializer: opt.Serializer,
		logger:     opt.Logger,
		metrics:    opt.Metrics,
		verbose:    opt.Verbose,
		strict:     opt.Strict || opt.IsTesting,
	}
	if db.serializer == nil {
		db.serializer = defaultSerializer
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}

	err := db.update(func(stx storageTx) error {
		_, err := stx.CreateBucket(overlaysBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("overlaycache: preparing storage: %w", err)
	}
	return db, nil
}

// Bolt returns the underlying Bolt database, or nil for in-memory storage.
func (db *DB) Bolt() *bbolt.DB {
	return db.bdb
}

func (db *DB) Close() error {
	err := db.store.Close()
	if err != nil {
		return fmt.Errorf("overlaycache: closing: %w", err)
	}
	return nil
}

// OverlayCache returns the overlay cache of the given user.
func (db *DB) OverlayCache(user User) *DocumentOverlayCache {
	return &DocumentOverlayCache{
		db:     db,
		userID: user.NormalizedID(),
		logger: db.logger.With("user", user.NormalizedID()),
	}
}

// read runs f within a read-only snapshot, releasing it on return.
func (db *DB) read(f func(b storageBucket) error) error {
	stx, err := db.store.BeginTx(false)
	if err != nil {
		return fmt.Errorf("overlaycache: begin read: %w", err)
	}
	defer stx.Rollback()
	db.ReadCount.Add(1)
	b, err := overlaysBucketIn(stx)
	if err != nil {
		return err
	}
	return f(b)
}

// write runs f in a writable transaction and commits it if f succeeds. f
// must not modify the bucket directly; it fills the batch, which is applied
// as a whole right before the commit.
func (db *DB) write(logger *slog.Logger, f func(b storageBucket, wb *writeBatch) error) error {
	var wb writeBatch
	err := db.update(func(stx storageTx) error {
		b, err := overlaysBucketIn(stx)
		if err != nil {
			return err
		}
		if err := f(b, &wb); err != nil {
			return err
		}
		if wb.IsEmpty() {
			return nil
		}
		return wb.apply(b)
	})
	if err != nil {
		return err
	}
	if db.verbose && !wb.IsEmpty() {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "overlay: COMMIT", slog.Int("ops", wb.Len()), slog.Int("puts", wb.puts), slog.Int("deletes", wb.deletes))
	}
	return nil
}

func (db *DB) update(f func(stx storageTx) error) error {
	stx, err := db.store.BeginTx(true)
	if err != nil {
		return fmt.Errorf("overlaycache: begin write: %w", err)
	}
	defer stx.Rollback()
	if err := f(stx); err != nil {
		return err
	}
	if err := stx.Commit(); err != nil {
		return fmt.Errorf("overlaycache: commit: %w", err)
	}
	db.WriteCount.Add(1)
	return nil
}

func overlaysBucketIn(stx storageTx) (storageBucket, error) {
	b := stx.Bucket(overlaysBucket)
	if b == nil {
		return nil, fmt.Errorf("overlaycache: %w: %s", ErrBucketNotFound, overlaysBucket)
	}
	return b, nil
}
