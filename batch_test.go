package overlaycache

import (
	"testing"
)

func TestWriteBatch_AppliesInOrder(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	defer wtx.Rollback()
	b := must(wtx.CreateBucket("b"))
	ensure(b.Put([]byte{1}, []byte("old")))
	ensure(b.Put([]byte{2}, []byte("gone")))

	var wb writeBatch
	if !wb.IsEmpty() {
		t.Fatalf("IsEmpty() = false on a fresh batch")
	}
	wb.Delete([]byte{1})
	wb.Put([]byte{1}, []byte("new"))
	wb.Put([]byte{3}, nil)
	wb.Delete([]byte{2})
	wb.Delete([]byte{4})
	deepEqual(t, wb.Len(), 5)
	deepEqual(t, wb.puts, 2)
	deepEqual(t, wb.deletes, 3)

	// nothing happens until apply
	deepEqual(t, string(b.Get([]byte{2})), "gone")

	ensure(wb.apply(b))
	deepEqual(t, string(b.Get([]byte{1})), "new")
	if b.Get([]byte{2}) != nil {
		t.Fatalf("deleted key is still present")
	}
	if !keyExists(b, []byte{3}) {
		t.Fatalf("key with empty value is missing")
	}
	deepEqual(t, b.KeyCount(), 2)
}

func TestWriteBatch_ApplyFailure(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	must(wtx.CreateBucket("b"))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	var wb writeBatch
	wb.Put([]byte{1}, []byte("x"))
	if err := wb.apply(nonNil(rtx.Bucket("b"))); err == nil {
		t.Fatalf("apply on read-only bucket err = nil, wanted error")
	}
	deepEqual(t, batchPut.String(), "put")
	deepEqual(t, batchOpKind(9).String(), "op(9)")
}
