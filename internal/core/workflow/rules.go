// Package workflow holds the static document lifecycle rule table.
package workflow

import (
	"errors"
	"fmt"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type transitionKey struct {
	from domain.DocumentStatus
	to   domain.DocumentStatus
}

// RuleTable is an immutable, validated set of transition rules. It is safe
// for concurrent use.
type RuleTable struct {
	rules  []domain.TransitionRule
	byPair map[transitionKey]domain.TransitionRule
	byFrom map[domain.DocumentStatus][]domain.TransitionRule
}

// NewRuleTable validates rules and indexes them by source status. Rule order
// is preserved within each source status.
func NewRuleTable(rules []domain.TransitionRule) (*RuleTable, error) {
	table := &RuleTable{
		rules:  make([]domain.TransitionRule, 0, len(rules)),
		byPair: make(map[transitionKey]domain.TransitionRule, len(rules)),
		byFrom: make(map[domain.DocumentStatus][]domain.TransitionRule),
	}

	var errs []error
	for i, rule := range rules {
		rule = cloneRule(rule)
		if err := validateRule(rule); err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s -> %s): %w", i, rule.From, rule.To, err))
			continue
		}
		key := transitionKey{from: rule.From, to: rule.To}
		if _, exists := table.byPair[key]; exists {
			errs = append(errs, fmt.Errorf("rule %d (%s -> %s): duplicate transition", i, rule.From, rule.To))
			continue
		}
		table.byPair[key] = rule
		table.byFrom[rule.From] = append(table.byFrom[rule.From], rule)
		table.rules = append(table.rules, rule)
	}
	if len(errs) == 0 {
		errs = append(errs, table.validateGraph()...)
	}
	if len(errs) > 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "build rule table", errors.Join(errs...))
	}
	return table, nil
}

// MustDefault returns the built-in table and panics if it is inconsistent.
func MustDefault() *RuleTable {
	table, err := NewRuleTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return table
}

// RulesFrom returns the rules leaving status. Unknown and terminal statuses
// yield an empty slice.
func (t *RuleTable) RulesFrom(status domain.DocumentStatus) []domain.TransitionRule {
	src := t.byFrom[status]
	out := make([]domain.TransitionRule, 0, len(src))
	for _, rule := range src {
		out = append(out, cloneRule(rule))
	}
	return out
}

// RuleFor returns the rule for the from -> to pair, if one is defined.
func (t *RuleTable) RuleFor(from, to domain.DocumentStatus) (domain.TransitionRule, bool) {
	rule, ok := t.byPair[transitionKey{from: from, to: to}]
	if !ok {
		return domain.TransitionRule{}, false
	}
	return cloneRule(rule), true
}

// Rules returns a copy of every rule in table order.
func (t *RuleTable) Rules() []domain.TransitionRule {
	out := make([]domain.TransitionRule, 0, len(t.rules))
	for _, rule := range t.rules {
		out = append(out, cloneRule(rule))
	}
	return out
}

func validateRule(rule domain.TransitionRule) error {
	if !rule.From.Valid() {
		return fmt.Errorf("unknown source status %q", rule.From)
	}
	if !rule.To.Valid() {
		return fmt.Errorf("unknown target status %q", rule.To)
	}
	if rule.From == rule.To {
		return errors.New("self transition")
	}
	if len(rule.RequiredRoles) == 0 && len(rule.RequiredCapabilities) == 0 {
		return errors.New("rule requires neither roles nor capabilities")
	}
	for _, role := range rule.RequiredRoles {
		if role == "" {
			return errors.New("empty role name")
		}
	}
	for _, c := range rule.RequiredCapabilities {
		if !c.Valid() {
			return fmt.Errorf("unknown capability %q", c)
		}
	}
	return nil
}

func (t *RuleTable) validateGraph() []error {
	var errs []error
	for _, status := range domain.AllStatuses() {
		out := t.byFrom[status]
		switch {
		case status.Terminal():
			if len(out) > 0 {
				errs = append(errs, fmt.Errorf("terminal status %s has outgoing rules", status))
			}
		case status == domain.StatusArchived:
			if len(out) != 1 || out[0].To != domain.StatusDraft {
				errs = append(errs, fmt.Errorf("%s must only lead to %s", status, domain.StatusDraft))
			}
		default:
			if len(out) == 0 {
				errs = append(errs, fmt.Errorf("non-terminal status %s has no outgoing rules", status))
			}
			if _, ok := t.byPair[transitionKey{from: status, to: domain.StatusArchived}]; !ok {
				errs = append(errs, fmt.Errorf("%s cannot be archived", status))
			}
		}
	}
	for key := range t.byPair {
		if key.to == domain.StatusExpired && key.from != domain.StatusPublished {
			errs = append(errs, fmt.Errorf("%s is reachable only from %s, not %s", domain.StatusExpired, domain.StatusPublished, key.from))
		}
	}
	return errs
}

func cloneRule(rule domain.TransitionRule) domain.TransitionRule {
	rule.RequiredRoles = append([]domain.RoleName(nil), rule.RequiredRoles...)
	rule.RequiredCapabilities = append([]domain.Capability(nil), rule.RequiredCapabilities...)
	return rule
}
