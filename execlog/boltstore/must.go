package boltstore

import "go.etcd.io/bbolt"

// panicSentinel marks panics raised by must so recoverErr can tell them
// apart from real bugs.
type panicSentinel struct {
	cause error
}

func must(err error) {
	if err != nil {
		panic(panicSentinel{err})
	}
}

// recoverErr is deferred by every exported method; it turns a must panic
// back into *err.
func recoverErr(err *error) {
	switch v := recover().(type) {
	case nil:
	case panicSentinel:
		*err = v.cause
	default:
		panic(v)
	}
}

func bucket(tx *bbolt.Tx, name []byte) *bbolt.Bucket {
	b := tx.Bucket(name)
	if b == nil {
		must(bbolt.ErrBucketNotFound)
	}
	return b
}

func put(b *bbolt.Bucket, k, v []byte) {
	must(b.Put(k, v))
}
