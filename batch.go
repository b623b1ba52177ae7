package overlaycache

import "fmt"

type batchOpKind uint8

const (
	batchPut batchOpKind = iota + 1
	batchDelete
)

type batchOp struct {
	kind  batchOpKind
	key   []byte
	value []byte
}

// writeBatch accumulates puts and deletes so that all steps of a logical
// operation reach the storage as one atomic unit. Operations are applied in
// the order they were added; a delete followed by a put of the same key
// leaves the key present.
type writeBatch struct {
	ops     []batchOp
	puts    int
	deletes int
}

func (wb *writeBatch) Put(key, value []byte) {
	if value == nil {
		value = emptyIndexValue
	}
	wb.ops = append(wb.ops, batchOp{batchPut, key, value})
	wb.puts++
}

func (wb *writeBatch) Delete(key []byte) {
	wb.ops = append(wb.ops, batchOp{batchDelete, key, nil})
	wb.deletes++
}

func (wb *writeBatch) Len() int {
	return len(wb.ops)
}

func (wb *writeBatch) IsEmpty() bool {
	return len(wb.ops) == 0
}

func (wb *writeBatch) apply(b storageBucket) error {
	for _, op := range wb.ops {
		var err error
		switch op.kind {
		case batchPut:
			err = b.Put(op.key, op.value)
		case batchDelete:
			err = b.Delete(op.key)
		default:
			panic(fmt.Errorf("invalid batch op %d", op.kind))
		}
		if err != nil {
			return fmt.Errorf("%s %s: %w", op.kind, hexstr(op.key), err)
		}
	}
	return nil
}

func (k batchOpKind) String() string {
	switch k {
	case batchPut:
		return "put"
	case batchDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}
