package usecase

import (
	"context"
	"fmt"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

// TransitionAuthorizer decides whether an actor may move a document along a
// rule. A rule passes when the actor holds ANY required role OR ANY required
// capability; the super capability passes every defined rule.
type TransitionAuthorizer struct {
	rules    *workflow.RuleTable
	resolver AccessResolver
}

func NewTransitionAuthorizer(rules *workflow.RuleTable, resolver AccessResolver) *TransitionAuthorizer {
	return &TransitionAuthorizer{
		rules:    rules,
		resolver: resolver,
	}
}

func (a *TransitionAuthorizer) Authorize(
	ctx context.Context,
	doc *domain.Document,
	to domain.DocumentStatus,
	actorID string,
) (domain.Decision, error) {
	if doc == nil {
		return domain.Decision{}, domain.WrapError(domain.ErrInvalidInput, "authorize transition", fmt.Errorf("document is nil"))
	}
	rule, ok := a.rules.RuleFor(doc.Status, to)
	if !ok {
		return domain.Denied(domain.ReasonNoRule), nil
	}

	access, err := a.resolver.Resolve(ctx, actorID)
	if err != nil {
		return domain.Decision{}, err
	}
	return evaluateRule(rule, access), nil
}

// AllowedTransitions lists the rules from the document's current status the
// actor satisfies. Unknown or terminal statuses yield an empty list.
func (a *TransitionAuthorizer) AllowedTransitions(
	ctx context.Context,
	doc *domain.Document,
	actorID string,
) ([]domain.TransitionRule, error) {
	out := []domain.TransitionRule{}
	if doc == nil {
		return out, nil
	}
	candidates := a.rules.RulesFrom(doc.Status)
	if len(candidates) == 0 {
		return out, nil
	}

	access, err := a.resolver.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	for _, rule := range candidates {
		if evaluateRule(rule, access).Allowed {
			out = append(out, rule)
		}
	}
	return out, nil
}

// Require gates non-workflow operations on a single capability.
func (a *TransitionAuthorizer) Require(ctx context.Context, actorID string, capability domain.Capability) error {
	access, err := a.resolver.Resolve(ctx, actorID)
	if err != nil {
		return err
	}
	if access.IsSuper() || access.HasCapability(capability) {
		return nil
	}
	return domain.WrapError(domain.ErrForbidden, "require capability", fmt.Errorf("actor %q lacks %s", actorID, capability))
}

// Access returns the actor's effective roles and capabilities.
func (a *TransitionAuthorizer) Access(ctx context.Context, actorID string) (domain.EffectiveAccess, error) {
	return a.resolver.Resolve(ctx, actorID)
}

// Rules returns the active rule table.
func (a *TransitionAuthorizer) Rules() []domain.TransitionRule {
	return a.rules.Rules()
}

func evaluateRule(rule domain.TransitionRule, access domain.EffectiveAccess) domain.Decision {
	matched := rule
	if access.IsSuper() {
		return domain.Decision{Allowed: true, Reason: domain.ReasonSuperCapability, Rule: &matched}
	}
	for _, role := range rule.RequiredRoles {
		if access.HasRole(role) {
			return domain.Decision{Allowed: true, Reason: domain.ReasonRole + " " + string(role), Rule: &matched}
		}
	}
	for _, c := range rule.RequiredCapabilities {
		if access.HasCapability(c) {
			return domain.Decision{Allowed: true, Reason: domain.ReasonCapability + " " + string(c), Rule: &matched}
		}
	}
	return domain.Decision{Allowed: false, Reason: domain.ReasonInsufficient, Rule: &matched}
}
