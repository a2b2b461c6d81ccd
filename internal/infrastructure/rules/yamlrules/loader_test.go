package yamlrules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	table, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(table.Rules()) != len(workflow.DefaultRules()) {
		t.Fatalf("expected %d default rules, got %d", len(workflow.DefaultRules()), len(table.Rules()))
	}
}

func TestLoadCustomisedFile(t *testing.T) {
	rules := workflow.DefaultRules()
	for i := range rules {
		if rules[i].From == domain.StatusDraft && rules[i].To == domain.StatusPendingReview {
			rules[i].RequiredRoles = []domain.RoleName{" Author "}
		}
	}
	data, err := Marshal(rules)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	rule, ok := table.RuleFor(domain.StatusDraft, domain.StatusPendingReview)
	if !ok {
		t.Fatalf("expected submit rule")
	}
	if len(rule.RequiredRoles) != 1 || rule.RequiredRoles[0] != domain.RoleName("author") {
		t.Fatalf("expected normalized author role, got %v", rule.RequiredRoles)
	}
}

func TestParseRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"no rules":        "rules: []\n",
		"unknown field":   "rules:\n  - from: DRAFT\n    to: ARCHIVED\n    roles: [admin]\n    approvers: [x]\n",
		"bad status":      "rules:\n  - from: DRAFT\n    to: SHREDDED\n    roles: [admin]\n",
		"no requirements": "rules:\n  - from: DRAFT\n    to: ARCHIVED\n",
		"broken graph":    "rules:\n  - from: DRAFT\n    to: ARCHIVED\n    roles: [admin]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestParseAcceptsLowercaseStatuses(t *testing.T) {
	data, err := Marshal(workflow.DefaultRules())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	lowered := strings.ReplaceAll(string(data), "from: DRAFT", "from: draft")
	table, err := Parse([]byte(lowered))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(table.RulesFrom(domain.StatusDraft)) == 0 {
		t.Fatalf("expected rules from DRAFT after normalization")
	}
}
