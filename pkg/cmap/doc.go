// Package cmap provides a sharded concurrent map.
//
// Each shard has its own RWMutex, so unrelated keys rarely contend. The
// device server keeps its live workers in a cmap and the in-memory storage
// engine keeps its records in one.
//
//	m := cmap.New[string, *worker]()
//	m.Set(id, w)
//	w, ok := m.Get(id)
//
// Range, Values and Count lock one shard at a time, so they do not observe
// a single point-in-time view of the whole map.
package cmap
