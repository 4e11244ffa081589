// Package invalidate maps completed mutations to the logical views that must
// be treated as stale. Invalidation only marks views; refetching is the
// caller's concern.
package invalidate

import (
	"sort"

	"github.com/finboard/finboard/internal/classify"
	"github.com/finboard/finboard/internal/logging"
	"github.com/finboard/finboard/internal/models"
)

// ViewKey names a logical view of the dashboard (a list, an aggregate, a
// chart) that caches server state.
type ViewKey string

// ViewSet is a set of view keys.
type ViewSet map[ViewKey]struct{}

// NewViewSet builds a set from keys.
func NewViewSet(keys ...ViewKey) ViewSet {
	s := make(ViewSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Contains reports set membership.
func (s ViewSet) Contains(k ViewKey) bool {
	_, ok := s[k]
	return ok
}

// Keys returns the sorted keys, for deterministic iteration and logging.
func (s ViewSet) Keys() []ViewKey {
	keys := make([]ViewKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Invalidator resolves mutation kinds and URLs to stale view sets. The
// kind table is static configuration and must be total over the configured
// kinds: every kind maps to a non-empty set. Unclassifiable input falls back
// to invalidating everything; that path is logged and should stay rare.
type Invalidator struct {
	byKind     map[models.MutationKind]ViewSet
	byEntity   map[classify.EntityKind]ViewSet
	allViews   ViewSet
	classifier *classify.Classifier
}

// NewInvalidator creates an Invalidator from per-kind and per-entity view
// tables. The union of all configured views forms the invalidate-everything
// fallback set.
func NewInvalidator(classifier *classify.Classifier,
	byKind map[models.MutationKind]ViewSet,
	byEntity map[classify.EntityKind]ViewSet) *Invalidator {

	all := make(ViewSet)
	for _, set := range byKind {
		for k := range set {
			all[k] = struct{}{}
		}
	}
	for _, set := range byEntity {
		for k := range set {
			all[k] = struct{}{}
		}
	}

	return &Invalidator{
		byKind:     byKind,
		byEntity:   byEntity,
		allViews:   all,
		classifier: classifier,
	}
}

// ForKind returns the views stale after a mutation of the given kind
// completes. Unknown kinds invalidate everything.
func (inv *Invalidator) ForKind(kind models.MutationKind) ViewSet {
	if set, ok := inv.byKind[kind]; ok && len(set) > 0 {
		return set
	}

	logging.Warn("No invalidation rule for mutation kind, invalidating all views",
		logging.Fields{"kind": kind})
	return inv.allViews
}

// ForURL returns the stale views for callers that only hold a URL, such as
// replay from a bare queued record. It resolves the entity kind via the
// classifier's longest-prefix match.
func (inv *Invalidator) ForURL(rawURL string) ViewSet {
	entity, ok := inv.classifier.ExtractEntityKind(rawURL)
	if ok {
		if set, found := inv.byEntity[entity]; found && len(set) > 0 {
			return set
		}
	}

	logging.Warn("No invalidation rule for URL, invalidating all views",
		logging.Fields{"url": rawURL})
	return inv.allViews
}

// AllViews returns the full configured view set.
func (inv *Invalidator) AllViews() ViewSet {
	return inv.allViews
}
