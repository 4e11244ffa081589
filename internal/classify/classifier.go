// Package classify maps HTTP mutations to queueable mutation kinds and back.
//
// Classification is driven by an explicit, ordered rule table instead of
// ad-hoc string matching: the first rule whose method and path shape match
// wins, so overlapping paths resolve deterministically by priority.
package classify

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/models"
)

// PathShape describes what the path portion of a rule matches.
type PathShape string

const (
	// ShapeCollection matches the resource prefix exactly (e.g. POST /transactions).
	ShapeCollection PathShape = "collection"
	// ShapeItem matches the prefix followed by a numeric ID segment
	// (e.g. PATCH /transactions/42).
	ShapeItem PathShape = "item"
	// ShapePrefix matches any path under the prefix.
	ShapePrefix PathShape = "prefix"
)

// Rule maps a method plus a path shape to a mutation kind. Rules are
// evaluated in slice order; the first match wins.
type Rule struct {
	Method string
	Prefix string
	Shape  PathShape
	Kind   models.MutationKind
}

// EntityKind tags the resource family a URL belongs to.
type EntityKind string

// Draft is a classified mutation ready for enqueue.
type Draft struct {
	Kind       models.MutationKind
	TargetURL  string
	HTTPMethod string
	Payload    map[string]interface{}
}

// ReplayRequest is the transport-level projection of a stored mutation.
type ReplayRequest struct {
	URL     string
	Method  string
	Payload map[string]interface{}
}

// Classifier pattern-matches mutation requests against configured rules.
type Classifier struct {
	rules    []Rule
	entities map[string]EntityKind // path prefix -> kind
	prefixes []string              // entity prefixes, longest first
}

// NewClassifier creates a Classifier from an ordered rule table and a map of
// resource path prefixes to entity kinds.
func NewClassifier(rules []Rule, entities map[string]EntityKind) *Classifier {
	prefixes := make([]string, 0, len(entities))
	for p := range entities {
		prefixes = append(prefixes, p)
	}
	// Longest prefix first so sub-resources beat their parent resource.
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &Classifier{
		rules:    rules,
		entities: entities,
		prefixes: prefixes,
	}
}

// Classify returns the mutation kind for a method and URL, or false when no
// rule matches.
func (c *Classifier) Classify(method, rawURL string) (models.MutationKind, bool) {
	path := urlPath(rawURL)

	for _, rule := range c.rules {
		if !strings.EqualFold(rule.Method, method) {
			continue
		}
		if rule.matchesPath(path) {
			return rule.Kind, true
		}
	}
	return "", false
}

func (r Rule) matchesPath(path string) bool {
	prefix := strings.TrimSuffix(r.Prefix, "/")
	switch r.Shape {
	case ShapeCollection:
		return path == prefix
	case ShapeItem:
		rest, ok := strings.CutPrefix(path, prefix+"/")
		if !ok {
			return false
		}
		_, err := strconv.ParseInt(rest, 10, 64)
		return err == nil
	case ShapePrefix:
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	default:
		return false
	}
}

// Serialize builds a queueable draft from a mutation request. Fails with
// UNCLASSIFIED_MUTATION when no rule recognizes the method and URL; nothing
// unclassifiable is ever persisted.
func (c *Classifier) Serialize(method, rawURL string, payload map[string]interface{}) (*Draft, error) {
	kind, ok := c.Classify(method, rawURL)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrUnclassifiedMutation,
			"no classification rule for %s %s", method, rawURL)
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}

	return &Draft{
		Kind:       kind,
		TargetURL:  rawURL,
		HTTPMethod: strings.ToUpper(method),
		Payload:    payload,
	}, nil
}

// Deserialize projects a stored mutation back to the request the transport
// must replay. It is the exact inverse of what was stored; no additional
// interpretation happens here.
func (c *Classifier) Deserialize(rec *models.QueuedMutation) (*ReplayRequest, error) {
	payload, err := rec.PayloadMap()
	if err != nil {
		return nil, err
	}

	return &ReplayRequest{
		URL:     rec.TargetURL,
		Method:  rec.HTTPMethod,
		Payload: payload,
	}, nil
}

// ExtractEntityID extracts a trailing numeric path segment from a URL.
func (c *Classifier) ExtractEntityID(rawURL string) (int64, bool) {
	path := urlPath(rawURL)
	idx := strings.LastIndex(path, "/")
	if idx < 0 || idx == len(path)-1 {
		return 0, false
	}
	id, err := strconv.ParseInt(path[idx+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ExtractEntityKind resolves the entity kind for a URL by longest-prefix
// match over the configured resource prefixes.
func (c *Classifier) ExtractEntityKind(rawURL string) (EntityKind, bool) {
	path := urlPath(rawURL)

	for _, prefix := range c.prefixes {
		p := strings.TrimSuffix(prefix, "/")
		if path == p || strings.HasPrefix(path, p+"/") {
			return c.entities[prefix], true
		}
	}
	return "", false
}

// urlPath strips scheme, host, query and trailing slash from a URL.
func urlPath(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// MarshalPayload encodes a draft payload for storage. An empty payload is
// stored as an empty JSON object.
func (d *Draft) MarshalPayload() (json.RawMessage, error) {
	if len(d.Payload) == 0 {
		return json.RawMessage("{}"), nil
	}
	data, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}
