package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/finboard/finboard/internal/classify"
	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/invalidate"
	"github.com/finboard/finboard/internal/models"
)

// RuleSpec is one classification rule as written in the rules file. Order
// in the file is priority order.
type RuleSpec struct {
	Method string `yaml:"method"`
	Prefix string `yaml:"prefix"`
	Shape  string `yaml:"shape"`
	Kind   string `yaml:"kind"`
}

// ViewsSpec maps mutation kinds and entity kinds to the cached views they
// invalidate.
type ViewsSpec struct {
	ByKind   map[string][]string `yaml:"by_kind"`
	ByEntity map[string][]string `yaml:"by_entity"`
}

// Rules is the parsed rules file: the classification table, the entity
// prefix map, and the invalidation view tables.
type Rules struct {
	Rules    []RuleSpec        `yaml:"rules"`
	Entities map[string]string `yaml:"entities"`
	Views    ViewsSpec         `yaml:"views"`
}

var validShapes = map[string]classify.PathShape{
	"collection": classify.ShapeCollection,
	"item":       classify.ShapeItem,
	"prefix":     classify.ShapePrefix,
}

// LoadRules reads and validates a rules file. An empty path selects the
// built-in defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidConfig, "failed to read rules file", err)
	}

	rules := &Rules{}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidConfig, "failed to parse rules file", err)
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

// Validate checks the rule table for holes that would only surface as
// runtime classification failures.
func (r *Rules) Validate() error {
	if len(r.Rules) == 0 {
		return apperrors.New(apperrors.ErrInvalidConfig, "rules file defines no classification rules")
	}
	for i, rule := range r.Rules {
		if rule.Method == "" || rule.Prefix == "" || rule.Kind == "" {
			return apperrors.Newf(apperrors.ErrInvalidConfig,
				"rule %d is missing method, prefix or kind", i)
		}
		if _, ok := validShapes[rule.Shape]; !ok {
			return apperrors.Newf(apperrors.ErrInvalidConfig,
				"rule %d has unknown shape %q", i, rule.Shape)
		}
	}
	for kind, views := range r.Views.ByKind {
		if len(views) == 0 {
			return apperrors.Newf(apperrors.ErrInvalidConfig,
				"kind %q maps to no views", kind)
		}
	}
	return nil
}

// Classifier builds the classifier from the parsed rules.
func (r *Rules) Classifier() *classify.Classifier {
	rules := make([]classify.Rule, len(r.Rules))
	for i, spec := range r.Rules {
		rules[i] = classify.Rule{
			Method: spec.Method,
			Prefix: spec.Prefix,
			Shape:  validShapes[spec.Shape],
			Kind:   models.MutationKind(spec.Kind),
		}
	}

	entities := make(map[string]classify.EntityKind, len(r.Entities))
	for prefix, kind := range r.Entities {
		entities[prefix] = classify.EntityKind(kind)
	}

	return classify.NewClassifier(rules, entities)
}

// Invalidator builds the cache invalidator from the parsed view tables.
func (r *Rules) Invalidator(classifier *classify.Classifier) *invalidate.Invalidator {
	byKind := make(map[models.MutationKind]invalidate.ViewSet, len(r.Views.ByKind))
	for kind, views := range r.Views.ByKind {
		byKind[models.MutationKind(kind)] = toViewSet(views)
	}

	byEntity := make(map[classify.EntityKind]invalidate.ViewSet, len(r.Views.ByEntity))
	for kind, views := range r.Views.ByEntity {
		byEntity[classify.EntityKind(kind)] = toViewSet(views)
	}

	return invalidate.NewInvalidator(classifier, byKind, byEntity)
}

func toViewSet(views []string) invalidate.ViewSet {
	keys := make([]invalidate.ViewKey, len(views))
	for i, v := range views {
		keys[i] = invalidate.ViewKey(v)
	}
	return invalidate.NewViewSet(keys...)
}

// DefaultRules covers the stock dashboard resources: transactions, budgets
// and recurring transactions. Recurring rules precede transaction rules so
// the more specific path wins.
func DefaultRules() *Rules {
	return &Rules{
		Rules: []RuleSpec{
			{Method: "POST", Prefix: "/transactions/recurring", Shape: "collection", Kind: "recurring.create"},
			{Method: "PATCH", Prefix: "/transactions/recurring", Shape: "item", Kind: "recurring.update"},
			{Method: "DELETE", Prefix: "/transactions/recurring", Shape: "item", Kind: "recurring.delete"},
			{Method: "POST", Prefix: "/transactions", Shape: "collection", Kind: "transaction.create"},
			{Method: "PATCH", Prefix: "/transactions", Shape: "item", Kind: "transaction.update"},
			{Method: "DELETE", Prefix: "/transactions", Shape: "item", Kind: "transaction.delete"},
			{Method: "POST", Prefix: "/budgets", Shape: "collection", Kind: "budget.create"},
			{Method: "PATCH", Prefix: "/budgets", Shape: "item", Kind: "budget.update"},
			{Method: "DELETE", Prefix: "/budgets", Shape: "item", Kind: "budget.delete"},
		},
		Entities: map[string]string{
			"/transactions/recurring": "recurring",
			"/transactions":           "transaction",
			"/budgets":                "budget",
		},
		Views: ViewsSpec{
			ByKind: map[string][]string{
				"recurring.create":   {"recurring.list", "transactions.list", "dashboard.summary"},
				"recurring.update":   {"recurring.list", "transactions.list", "dashboard.summary"},
				"recurring.delete":   {"recurring.list", "transactions.list", "dashboard.summary"},
				"transaction.create": {"transactions.list", "dashboard.summary", "reports.monthly"},
				"transaction.update": {"transactions.list", "dashboard.summary", "reports.monthly"},
				"transaction.delete": {"transactions.list", "dashboard.summary", "reports.monthly"},
				"budget.create":      {"budgets.list", "dashboard.summary"},
				"budget.update":      {"budgets.list", "dashboard.summary"},
				"budget.delete":      {"budgets.list", "dashboard.summary"},
			},
			ByEntity: map[string][]string{
				"recurring":   {"recurring.list", "transactions.list", "dashboard.summary"},
				"transaction": {"transactions.list", "dashboard.summary", "reports.monthly"},
				"budget":      {"budgets.list", "dashboard.summary"},
			},
		},
	}
}
