// Package sessions manages authenticated sessions scoped to a (user,
// organization) pair. A session snapshots the pair's resolved roles at
// creation; tenancy mutations that change the pair's access invalidate
// its live sessions rather than patching the snapshot.
//
// Expiry is lazy: readers derive EXPIRED from the clock without a
// write, and a periodic sweep persists the transition in bulk.
package sessions
