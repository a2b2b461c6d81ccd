package usecase

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/workflow"
)

type staticResolverFake struct {
	access domain.EffectiveAccess
	err    error
}

func (f staticResolverFake) Resolve(context.Context, string) (domain.EffectiveAccess, error) {
	return f.access, f.err
}

func accessWith(roles []domain.RoleName, caps []domain.Capability) staticResolverFake {
	return staticResolverFake{access: domain.NewEffectiveAccess("u-1", roles, caps, time.Now())}
}

func TestAuthorizeUsesAnyRoleOrAnyCapability(t *testing.T) {
	doc := testDocument("doc-1", domain.StatusPendingApproval)
	table := workflow.MustDefault()

	cases := []struct {
		name    string
		access  staticResolverFake
		allowed bool
	}{
		{name: "role only", access: accessWith([]domain.RoleName{domain.RoleApprover}, nil), allowed: true},
		{name: "capability only", access: accessWith(nil, []domain.Capability{domain.CapDocumentApprove}), allowed: true},
		{name: "role and capability", access: accessWith([]domain.RoleName{domain.RoleManager}, []domain.Capability{domain.CapDocumentApprove}), allowed: true},
		{name: "unrelated role and capability", access: accessWith([]domain.RoleName{domain.RoleEditor}, []domain.Capability{domain.CapDocumentSubmit}), allowed: false},
		{name: "super capability", access: accessWith(nil, []domain.Capability{domain.CapAdminAccess}), allowed: true},
		{name: "empty access", access: accessWith(nil, nil), allowed: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authz := NewTransitionAuthorizer(table, tc.access)
			decision, err := authz.Authorize(context.Background(), doc, domain.StatusApproved, "u-1")
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if decision.Allowed != tc.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tc.allowed, decision)
			}
		})
	}
}

func TestAuthorizeWithoutRuleDeniesEvenSuperCapability(t *testing.T) {
	authz := NewTransitionAuthorizer(workflow.MustDefault(), accessWith(nil, []domain.Capability{domain.CapAdminAccess}))

	decision, err := authz.Authorize(context.Background(), testDocument("doc-1", domain.StatusDraft), domain.StatusPublished, "u-1")
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if decision.Allowed || decision.Reason != domain.ReasonNoRule {
		t.Fatalf("expected denial with %q, got %+v", domain.ReasonNoRule, decision)
	}
}

func TestAuthorizeFailsClosedOnResolverError(t *testing.T) {
	authz := NewTransitionAuthorizer(workflow.MustDefault(), staticResolverFake{err: errors.New("identity down")})

	decision, err := authz.Authorize(context.Background(), testDocument("doc-1", domain.StatusDraft), domain.StatusPendingReview, "u-1")
	if err == nil {
		t.Fatalf("expected resolver error")
	}
	if decision.Allowed {
		t.Fatalf("resolver failure must not allow")
	}
}

func TestAllowedTransitionsEmptyForTerminalOrUnknownStatus(t *testing.T) {
	authz := NewTransitionAuthorizer(workflow.MustDefault(), accessWith(nil, []domain.Capability{domain.CapAdminAccess}))

	for _, status := range []domain.DocumentStatus{domain.StatusExpired, "LOST"} {
		rules, err := authz.AllowedTransitions(context.Background(), testDocument("doc-1", status), "u-1")
		if err != nil {
			t.Fatalf("AllowedTransitions(%s) error = %v", status, err)
		}
		if rules == nil || len(rules) != 0 {
			t.Fatalf("expected empty non-nil list for %s, got %#v", status, rules)
		}
	}
}

func TestAllowedTransitionsSuperCapabilitySeesEveryRule(t *testing.T) {
	table := workflow.MustDefault()
	authz := NewTransitionAuthorizer(table, accessWith(nil, []domain.Capability{domain.CapAdminAccess}))

	rules, err := authz.AllowedTransitions(context.Background(), testDocument("doc-1", domain.StatusPendingReview), "u-1")
	if err != nil {
		t.Fatalf("AllowedTransitions() error = %v", err)
	}
	if len(rules) != len(table.RulesFrom(domain.StatusPendingReview)) {
		t.Fatalf("expected every rule from PENDING_REVIEW, got %+v", rules)
	}
}

func TestRequireCapability(t *testing.T) {
	authz := NewTransitionAuthorizer(workflow.MustDefault(), accessWith(nil, []domain.Capability{domain.CapAuditRead}))
	if err := authz.Require(context.Background(), "u-1", domain.CapAuditRead); err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	if err := authz.Require(context.Background(), "u-1", domain.CapRoleManage); !domain.IsKind(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestEmptyAccessAllowsNothingFromAnyStatus(t *testing.T) {
	authz := NewTransitionAuthorizer(workflow.MustDefault(), accessWith(nil, nil))

	for _, from := range domain.AllStatuses() {
		doc := testDocument("doc-1", from)
		allowed, err := authz.AllowedTransitions(context.Background(), doc, "u-1")
		if err != nil {
			t.Fatalf("AllowedTransitions(%s) error = %v", from, err)
		}
		if len(allowed) != 0 {
			t.Fatalf("expected no transitions from %s with empty access, got %+v", from, allowed)
		}
		for _, to := range domain.AllStatuses() {
			decision, err := authz.Authorize(context.Background(), doc, to, "u-1")
			if err != nil {
				t.Fatalf("Authorize(%s -> %s) error = %v", from, to, err)
			}
			if decision.Allowed {
				t.Fatalf("expected %s -> %s to be denied with empty access", from, to)
			}
		}
	}
}

func TestRepeatedDenialIsIdenticalAcrossCacheMissAndHit(t *testing.T) {
	identity := newIdentityFake()
	identity.grant("u-viewer", domain.RoleViewer)
	observer := &observerFake{}
	resolver := NewCapabilityResolver(identity, time.Hour, observer)
	authz := NewTransitionAuthorizer(workflow.MustDefault(), resolver)
	doc := testDocument("doc-1", domain.StatusPendingApproval)

	first, err := authz.Authorize(context.Background(), doc, domain.StatusApproved, "u-viewer")
	if err != nil {
		t.Fatalf("first Authorize() error = %v", err)
	}
	second, err := authz.Authorize(context.Background(), doc, domain.StatusApproved, "u-viewer")
	if err != nil {
		t.Fatalf("second Authorize() error = %v", err)
	}

	if first.Allowed {
		t.Fatalf("expected viewer to be denied, got %+v", first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical decisions, got %+v and %+v", first, second)
	}
	if observer.cacheMisses != 1 || observer.cacheHits != 1 {
		t.Fatalf("expected one miss then one hit, got %d/%d", observer.cacheMisses, observer.cacheHits)
	}
}
