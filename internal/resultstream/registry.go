// SPDX-License-Identifier: GPL-3.0-or-later

package resultstream

import (
	"fmt"
	"sync"
)

// Registry hands out small integer keys for bound streams, so a bind
// phase's result can carry a handle the execute phase uses to retrieve
// the already-primed stream without re-issuing the query (spec §4.9).
type Registry struct {
	mu      sync.Mutex
	next    int
	streams map[int]*Stream
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[int]*Stream)}
}

// Register assigns a and returns a new key for s.
func (r *Registry) Register(s *Stream) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	key := r.next
	r.streams[key] = s
	return key
}

// Get retrieves the stream registered under key.
func (r *Registry) Get(key int) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[key]
	if !ok {
		return nil, fmt.Errorf("resultstream: no stream registered under key %d", key)
	}
	return s, nil
}

// Release removes key from the registry; it does not close the
// underlying connection, which is the caller's responsibility.
func (r *Registry) Release(key int) {
	r.mu.Lock()
	delete(r.streams, key)
	r.mu.Unlock()
}
