// Package artifact keeps serialized transform results in memory behind
// revocable handles, the way a browser hands out object URLs.
package artifact

import (
	"container/list"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ContentTypePDF tags every artifact this module produces.
const ContentTypePDF = "application/pdf"

// Artifact is a serialized document.
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Store holds the artifacts of all live handles. A Store built with a
// positive capacity evicts its oldest artifact when a new one would exceed it.
type Store struct {
	baseURL  string
	capacity int

	mu    sync.RWMutex
	items map[string]*list.Element
	order *list.List // of entry, oldest first
}

type entry struct {
	id       string
	artifact Artifact
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCapacity bounds the number of live artifacts. Zero means unbounded.
func WithCapacity(n int) StoreOption { return func(s *Store) { s.capacity = n } }

// NewStore returns a Store whose handle URLs are "<baseURL>/<id>".
func NewStore(baseURL string, opts ...StoreOption) *Store {
	s := &Store{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue registers a and returns a handle that stays valid until released or
// evicted.
func (s *Store) Issue(a Artifact) *Handle {
	if a.ContentType == "" {
		a.ContentType = ContentTypePDF
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.items[id] = s.order.PushBack(entry{id: id, artifact: a})
	for s.capacity > 0 && s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(entry).id)
	}
	s.mu.Unlock()

	return &Handle{ID: id, URL: s.baseURL + "/" + id, store: s}
}

// Open returns the artifact behind a live handle id.
func (s *Store) Open(id string) (Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el, ok := s.items[id]
	if !ok {
		return Artifact{}, false
	}
	return el.Value.(entry).artifact, true
}

// Release drops the artifact with the given id. Unknown ids are ignored.
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[id]; ok {
		s.order.Remove(el)
		delete(s.items, id)
	}
}

// Live is the number of unreleased handles.
func (s *Store) Live() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Handle is a revocable reference to a stored artifact.
type Handle struct {
	ID  string
	URL string

	store *Store
	once  sync.Once
}

// Release frees the artifact. It is safe to call more than once and on nil.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.store.Release(h.ID)
	})
}

// Released reports whether the artifact is no longer reachable.
func (h *Handle) Released() bool {
	if h == nil {
		return true
	}
	_, ok := h.store.Open(h.ID)
	return !ok
}

// Bytes returns the artifact data, or false once released.
func (h *Handle) Bytes() ([]byte, bool) {
	if h == nil {
		return nil, false
	}
	a, ok := h.store.Open(h.ID)
	return a.Data, ok
}
