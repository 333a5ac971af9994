// Package lock implements the per-resource lock manager.
//
// Each resource moves between Unlocked and Locked(holder). A caller that
// finds the resource held joins the tail of a FIFO queue and is granted the
// resource, in queue order, when earlier holders release. Acquire is the
// only blocking call in the core; it honours context cancellation and
// deadlines by leaving the queue without disturbing the other waiters. A
// guard that has been granted is never revoked.
//
// AcquireAll takes several resources in the canonical order defined by
// effect.Compare. Because every caller orders its requests the same way no
// wait cycle can form, so there is no deadlock detector.
//
// The table is split into shards keyed by xxhash of the resource id. Only a
// shard's map and queues are guarded by its mutex; holders of different
// resources never contend.
//
// Exclusive mode is the default. ModeShared admits several readers at once,
// but a queued exclusive request blocks every later shared request so
// writers are not starved.
package lock
