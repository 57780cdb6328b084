package rpmver

import "iter"

// Window keeps the newest distinct versions seen, keyed by serialized EVR.
// When more than limit versions are held the oldest one is evicted. A limit
// of zero or less keeps every version.
type Window[T any] struct {
	limit   int
	entries map[string]windowEntry[T]
}

type windowEntry[T any] struct {
	evr   EVR
	value T
}

// NewWindow returns an empty window holding at most limit versions.
func NewWindow[T any](limit int) *Window[T] {
	return &Window[T]{limit: limit, entries: make(map[string]windowEntry[T])}
}

// Upsert stores the value for evr. merge receives the value already held for
// the same serialized version, if any, and returns the one to keep. When the
// window overflows the oldest version is evicted and returned; that may be
// the version just inserted. Among versions that compare equal, the smaller
// serialized key is the older one, so every window picks the same survivor.
func (w *Window[T]) Upsert(evr EVR, merge func(old T, exists bool) T) (evicted T, ok bool) {
	key := evr.Serialize()
	old, exists := w.entries[key]
	w.entries[key] = windowEntry[T]{evr: evr, value: merge(old.value, exists)}

	if w.limit <= 0 || len(w.entries) <= w.limit {
		return evicted, false
	}

	var oldestKey string
	var oldest windowEntry[T]
	first := true
	for k, e := range w.entries {
		if first {
			oldestKey, oldest, first = k, e, false
			continue
		}
		if c := Compare(e.evr, oldest.evr); c < 0 || (c == 0 && k < oldestKey) {
			oldestKey, oldest = k, e
		}
	}
	delete(w.entries, oldestKey)
	return oldest.value, true
}

// Len returns the number of distinct versions held.
func (w *Window[T]) Len() int {
	return len(w.entries)
}

// All yields every held version and its value in no particular order.
func (w *Window[T]) All() iter.Seq2[EVR, T] {
	return func(yield func(EVR, T) bool) {
		for _, e := range w.entries {
			if !yield(e.evr, e.value) {
				return
			}
		}
	}
}
