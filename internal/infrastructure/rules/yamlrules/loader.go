package yamlrules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

// File is the on-disk layout of a rules file:
//
//	rules:
//	  - from: DRAFT
//	    to: PENDING_REVIEW
//	    roles: [manager, editor]
//	    capabilities: [DOCUMENT_SUBMIT]
//	    description: Submit for review
type File struct {
	Rules []domain.TransitionRule `yaml:"rules"`
}

// Load reads path and builds a validated rule table. An empty path yields the
// built-in table.
func Load(path string) (*workflow.RuleTable, error) {
	if strings.TrimSpace(path) == "" {
		return workflow.NewRuleTable(workflow.DefaultRules())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return table, nil
}

func Parse(data []byte) (*workflow.RuleTable, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", errors.New("rules file is empty"))
		}
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", err)
	}
	if len(file.Rules) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse rules", errors.New("no rules defined"))
	}
	return workflow.NewRuleTable(normalizeRules(file.Rules))
}

// Marshal renders rules in the same layout Parse accepts.
func Marshal(rules []domain.TransitionRule) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(File{Rules: rules}); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeRules(rules []domain.TransitionRule) []domain.TransitionRule {
	out := make([]domain.TransitionRule, 0, len(rules))
	for _, rule := range rules {
		rule.From = domain.DocumentStatus(strings.ToUpper(strings.TrimSpace(string(rule.From))))
		rule.To = domain.DocumentStatus(strings.ToUpper(strings.TrimSpace(string(rule.To))))
		roles := make([]domain.RoleName, 0, len(rule.RequiredRoles))
		for _, role := range rule.RequiredRoles {
			roles = append(roles, domain.NormalizeRole(string(role)))
		}
		rule.RequiredRoles = roles
		caps := make([]domain.Capability, 0, len(rule.RequiredCapabilities))
		for _, c := range rule.RequiredCapabilities {
			caps = append(caps, domain.Capability(strings.ToUpper(strings.TrimSpace(string(c)))))
		}
		rule.RequiredCapabilities = caps
		rule.Description = strings.TrimSpace(rule.Description)
		out = append(out, rule)
	}
	return out
}
