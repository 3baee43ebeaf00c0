package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/yndnr/iotmesh-go/internal/storage"
	"github.com/yndnr/iotmesh-go/pkg/cmap"
)

// Engine is an in-memory storage.KVEngine.
type Engine struct {
	data   *cmap.Map[string, []byte]
	closed atomic.Bool
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{data: cmap.New[string, []byte]()}
}

// Get retrieves a copy of the value stored under key.
func (e *Engine) Get(_ context.Context, key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	v, ok := e.data.Get(string(key))
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return bytes.Clone(v), nil
}

// Set stores a copy of value under key.
func (e *Engine) Set(_ context.Context, key, value []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Set(string(key), bytes.Clone(value))
	return nil
}

// Delete removes key.
func (e *Engine) Delete(_ context.Context, key []byte) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}
	e.data.Delete(string(key))
	return nil
}

// Scan visits keys with prefix in ascending order.
func (e *Engine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return storage.ErrClosed
	}

	p := string(prefix)
	var keys []string
	e.data.Range(func(k string, _ []byte) bool {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
		return true
	})
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok := e.data.Get(k)
		if !ok {
			continue
		}
		if !fn([]byte(k), bytes.Clone(v)) {
			break
		}
	}
	return nil
}

// GC is a no-op.
func (e *Engine) GC(context.Context) (uint64, error) {
	if e.closed.Load() {
		return 0, storage.ErrClosed
	}
	return 0, nil
}

// Stats returns key count and payload size.
func (e *Engine) Stats(context.Context) (*storage.KVStats, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	var st storage.KVStats
	e.data.Range(func(k string, v []byte) bool {
		st.TotalKeys++
		st.TotalSize += uint64(len(k) + len(v))
		return true
	})
	return &st, nil
}

// Close drops all data.
func (e *Engine) Close() error {
	if e.closed.CompareAndSwap(false, true) {
		e.data.Clear()
	}
	return nil
}
