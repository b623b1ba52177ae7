package overlaycache

import (
	"encoding/hex"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func setup(t testing.TB) *DB {
	t.Helper()
	return setupWith(t, Options{IsTesting: true})
}

func setupWith(t testing.TB, opt Options) *DB {
	t.Helper()

	dbFile := must(os.CreateTemp("", "db_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db := must(Open(dbFile.Name(), opt))
	t.Cleanup(func() { db.Close() })
	return db
}

// setupMem returns an in-memory DB along with its storage, for tests that
// need to inject failures or corrupt data.
func setupMem(t testing.TB, opt Options) (*DB, *memStorage) {
	t.Helper()
	store := newMemStorage()
	db := must(newDB(store, opt))
	t.Cleanup(func() { db.Close() })
	return db, store
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func diffEqual[T any](t testing.TB, a, e T) {
	if diff := cmp.Diff(e, a, cmp.AllowUnexported(DocumentKey{})); diff != "" {
		t.Helper()
		t.Errorf("** mismatch (-wanted +got):\n%s", diff)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}

func TestDB_OpenReopen(t *testing.T) {
	dbFile := must(os.CreateTemp("", "db_test_*.db"))
	dbFile.Close()
	defer os.Remove(dbFile.Name())

	db := must(Open(dbFile.Name(), Options{IsTesting: true}))
	c := db.OverlayCache(User{UID: "u"})
	ensure(c.SaveOverlays(7, MutationMap{DocKey("coll/a"): setMutation("v", "1")}))
	if db.Bolt() == nil {
		t.Fatalf("Bolt() = nil, wanted bolt DB")
	}
	ensure(db.Close())

	db = must(Open(dbFile.Name(), Options{IsTesting: true}))
	defer db.Close()
	ov := must(db.OverlayCache(User{UID: "u"}).GetOverlay(DocKey("coll/a")))
	isnonnil(t, ov)
	if ov != nil {
		deepEqual(t, ov.LargestBatchID, 7)
	}
}

func TestDB_OpenMemory(t *testing.T) {
	db := OpenMemory(Options{})
	defer db.Close()
	if db.Bolt() != nil {
		t.Fatalf("Bolt() = %v, wanted nil", db.Bolt())
	}
	c := db.OverlayCache(Unauthenticated)
	ensure(c.SaveOverlays(1, MutationMap{DocKey("coll/a"): setMutation("v", "1")}))
	deepEqual(t, must(c.OverlayCount()), 1)
	if db.ReadCount.Load() == 0 || db.WriteCount.Load() < 2 {
		t.Fatalf("ReadCount = %d, WriteCount = %d, wanted both counted", db.ReadCount.Load(), db.WriteCount.Load())
	}
}
