package ingest

import "sync"

// keyedMutex hands out a *sync.Mutex per string key, creating it
// lazily on first use. Locks are never removed once created — the key
// space here is (series_id, block_number) pairs under active backfill,
// which stays small in practice — so memory grows with the number of
// distinct keys ever locked. Every Lock call briefly takes the map's
// own mutex, repeat keys included.
//
// Unlike singleflight.Group.Do, two calls for the same key both run to
// completion in turn: the second waits for the first to finish, then
// executes its own closure against the result the first left behind.
// That is the serialization the cold path's read-modify-write needs —
// singleflight instead collapses the second call into the first's
// result, silently dropping whatever it would have written.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until key's mutex is held and returns the unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
