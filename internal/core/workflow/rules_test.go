package workflow

import (
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
)

func TestDefaultRuleTableIsValid(t *testing.T) {
	table, err := NewRuleTable(DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleTable() error = %v", err)
	}
	if len(table.Rules()) != len(DefaultRules()) {
		t.Fatalf("expected %d rules, got %d", len(DefaultRules()), len(table.Rules()))
	}
}

func TestEveryNonTerminalStatusHasOutgoingRules(t *testing.T) {
	table := MustDefault()
	for _, status := range domain.AllStatuses() {
		rules := table.RulesFrom(status)
		if status == domain.StatusExpired {
			if len(rules) != 0 {
				t.Fatalf("expected no rules from EXPIRED, got %d", len(rules))
			}
			continue
		}
		if len(rules) == 0 {
			t.Fatalf("expected outgoing rules from %s", status)
		}
	}
}

func TestArchivedOnlyLeadsToDraft(t *testing.T) {
	rules := MustDefault().RulesFrom(domain.StatusArchived)
	if len(rules) != 1 || rules[0].To != domain.StatusDraft {
		t.Fatalf("expected ARCHIVED -> DRAFT only, got %+v", rules)
	}
}

func TestArchivedReachableFromEveryNonTerminalState(t *testing.T) {
	table := MustDefault()
	for _, status := range domain.AllStatuses() {
		if status.Terminal() || status == domain.StatusArchived {
			continue
		}
		if _, ok := table.RuleFor(status, domain.StatusArchived); !ok {
			t.Fatalf("expected %s -> ARCHIVED rule", status)
		}
	}
}

func TestExpiredReachableOnlyFromPublished(t *testing.T) {
	table := MustDefault()
	for _, rule := range table.Rules() {
		if rule.To == domain.StatusExpired && rule.From != domain.StatusPublished {
			t.Fatalf("unexpected rule into EXPIRED from %s", rule.From)
		}
	}
	if _, ok := table.RuleFor(domain.StatusPublished, domain.StatusExpired); !ok {
		t.Fatalf("expected PUBLISHED -> EXPIRED rule")
	}
}

func TestRuleForUnknownPair(t *testing.T) {
	if _, ok := MustDefault().RuleFor(domain.StatusDraft, domain.StatusPublished); ok {
		t.Fatalf("expected no DRAFT -> PUBLISHED rule")
	}
	if rules := MustDefault().RulesFrom(domain.DocumentStatus("BOGUS")); len(rules) != 0 {
		t.Fatalf("expected no rules from unknown status")
	}
}

func TestNewRuleTableRejectsInvalidRules(t *testing.T) {
	base := DefaultRules()

	cases := []struct {
		name   string
		mutate func([]domain.TransitionRule) []domain.TransitionRule
	}{
		{
			name: "empty requirements",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				rules[0].RequiredRoles = nil
				rules[0].RequiredCapabilities = nil
				return rules
			},
		},
		{
			name: "duplicate pair",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				return append(rules, rules[0])
			},
		},
		{
			name: "unknown capability",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				rules[0].RequiredCapabilities = []domain.Capability{"DOCUMENTS:WRITE"}
				return rules
			},
		},
		{
			name: "outgoing from expired",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				return append(rules, domain.TransitionRule{
					From:          domain.StatusExpired,
					To:            domain.StatusDraft,
					RequiredRoles: []domain.RoleName{domain.RoleAdmin},
				})
			},
		},
		{
			name: "expired from approved",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				return append(rules, domain.TransitionRule{
					From:          domain.StatusApproved,
					To:            domain.StatusExpired,
					RequiredRoles: []domain.RoleName{domain.RoleAdmin},
				})
			},
		},
		{
			name: "archived exits elsewhere",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				return append(rules, domain.TransitionRule{
					From:          domain.StatusArchived,
					To:            domain.StatusPublished,
					RequiredRoles: []domain.RoleName{domain.RoleAdmin},
				})
			},
		},
		{
			name: "missing archive rule",
			mutate: func(rules []domain.TransitionRule) []domain.TransitionRule {
				out := rules[:0]
				for _, rule := range rules {
					if rule.From == domain.StatusApproved && rule.To == domain.StatusArchived {
						continue
					}
					out = append(out, rule)
				}
				return out
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rules := make([]domain.TransitionRule, len(base))
			copy(rules, base)
			_, err := NewRuleTable(tc.mutate(rules))
			if !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRulesFromReturnsCopies(t *testing.T) {
	table := MustDefault()
	rules := table.RulesFrom(domain.StatusDraft)
	rules[0].RequiredRoles[0] = "intruder"

	again := table.RulesFrom(domain.StatusDraft)
	if again[0].RequiredRoles[0] == "intruder" {
		t.Fatalf("RulesFrom leaked internal state")
	}
}
