package selection

import (
	"github.com/ragworks/ragline/internal/pipeline/catalog"
	"github.com/ragworks/ragline/internal/pipeline/models"
)

// Set tracks which catalog sources the user has chosen for processing.
// Membership always references ids present in the bound catalog; toggling
// an unknown id is a harmless no-op.
type Set struct {
	catalog *catalog.Catalog
	chosen  map[string]struct{}
}

// NewSet creates an empty selection over a catalog snapshot.
func NewSet(cat *catalog.Catalog) *Set {
	return &Set{
		catalog: cat,
		chosen:  make(map[string]struct{}),
	}
}

// Toggle flips membership of id. Ids not in the catalog are ignored.
func (s *Set) Toggle(id string) {
	if !s.catalog.Contains(id) {
		return
	}
	if _, ok := s.chosen[id]; ok {
		delete(s.chosen, id)
		return
	}
	s.chosen[id] = struct{}{}
}

// SelectAll replaces the selection with every catalog id.
func (s *Set) SelectAll() {
	s.chosen = make(map[string]struct{}, s.catalog.Len())
	for _, source := range s.catalog.Sources() {
		s.chosen[source.ID] = struct{}{}
	}
}

// Clear empties the selection.
func (s *Set) Clear() {
	s.chosen = make(map[string]struct{})
}

// Contains reports whether id is selected.
func (s *Set) Contains(id string) bool {
	_, ok := s.chosen[id]
	return ok
}

// Len returns the number of selected sources.
func (s *Set) Len() int {
	return len(s.chosen)
}

// IDs returns the selected ids in catalog order.
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.chosen))
	for _, source := range s.catalog.Sources() {
		if _, ok := s.chosen[source.ID]; ok {
			ids = append(ids, source.ID)
		}
	}
	return ids
}

// Sources returns the selected sources in catalog order.
func (s *Set) Sources() []models.ContentSource {
	sources := make([]models.ContentSource, 0, len(s.chosen))
	for _, source := range s.catalog.Sources() {
		if _, ok := s.chosen[source.ID]; ok {
			sources = append(sources, source)
		}
	}
	return sources
}
