package session

import (
	"sync"

	"github.com/dshills/tabletop/internal/engine/geom"
)

// Selection tracks the selected shapes and the pivot of an ongoing rotation.
// The pivot is cached between rotation steps and must be dropped whenever
// shapes move by other means.
type Selection struct {
	mu     sync.Mutex
	ids    []string
	anchor *geom.Point
}

// Set replaces the selection and drops the rotation pivot.
func (s *Selection) Set(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append([]string(nil), ids...)
	s.anchor = nil
}

// IDs returns the selected shape ids.
func (s *Selection) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// RotationAnchor returns the cached rotation pivot.
func (s *Selection) RotationAnchor() (geom.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anchor == nil {
		return geom.Point{}, false
	}
	return *s.anchor, true
}

func (s *Selection) setRotationAnchor(p geom.Point) {
	s.mu.Lock()
	s.anchor = &p
	s.mu.Unlock()
}

// ResetRotationHelper drops the cached rotation pivot.
func (s *Selection) ResetRotationHelper() {
	s.mu.Lock()
	s.anchor = nil
	s.mu.Unlock()
}
