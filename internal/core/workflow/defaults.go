package workflow

import "github.com/kirillkom/docflow/internal/core/domain"

// DefaultRules returns the built-in lifecycle.
func DefaultRules() []domain.TransitionRule {
	rules := []domain.TransitionRule{
		{
			From:                 domain.StatusDraft,
			To:                   domain.StatusPendingReview,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleEditor},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentSubmit},
			Description:          "Submit for review",
		},
		{
			From:                 domain.StatusPendingReview,
			To:                   domain.StatusPendingApproval,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleReviewer},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentReview},
			Description:          "Forward for approval",
		},
		{
			From:                 domain.StatusPendingReview,
			To:                   domain.StatusRejected,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleReviewer},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentReview},
			Description:          "Reject during review",
		},
		{
			From:                 domain.StatusPendingReview,
			To:                   domain.StatusDraft,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleReviewer},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentReview},
			Description:          "Return to author",
		},
		{
			From:                 domain.StatusPendingApproval,
			To:                   domain.StatusApproved,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleApprover},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentApprove},
			Description:          "Approve",
		},
		{
			From:                 domain.StatusPendingApproval,
			To:                   domain.StatusRejected,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleApprover},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentApprove},
			Description:          "Reject during approval",
		},
		{
			From:                 domain.StatusApproved,
			To:                   domain.StatusPublished,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RolePublisher},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentPublish},
			Description:          "Publish",
		},
		{
			From:                 domain.StatusPublished,
			To:                   domain.StatusExpired,
			RequiredRoles:        []domain.RoleName{domain.RolePublisher},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentPublish, domain.CapDocumentExpire},
			Description:          "Expire",
		},
		{
			From:                 domain.StatusRejected,
			To:                   domain.StatusDraft,
			RequiredRoles:        []domain.RoleName{domain.RoleManager, domain.RoleEditor},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentEdit},
			Description:          "Rework rejected document",
		},
		{
			From:                 domain.StatusArchived,
			To:                   domain.StatusDraft,
			RequiredRoles:        []domain.RoleName{domain.RoleAdmin},
			RequiredCapabilities: []domain.Capability{domain.CapAdminAccess},
			Description:          "Restore from archive",
		},
	}

	for _, from := range []domain.DocumentStatus{
		domain.StatusDraft,
		domain.StatusPendingReview,
		domain.StatusPendingApproval,
		domain.StatusApproved,
		domain.StatusPublished,
		domain.StatusRejected,
	} {
		rules = append(rules, domain.TransitionRule{
			From:                 from,
			To:                   domain.StatusArchived,
			RequiredRoles:        []domain.RoleName{domain.RoleManager},
			RequiredCapabilities: []domain.Capability{domain.CapDocumentArchive},
			Description:          "Archive",
		})
	}
	return rules
}

// DefaultRoleCapabilities is the seed role -> capability mapping used by the
// schema bootstrap and the in-memory identity store.
func DefaultRoleCapabilities() map[domain.RoleName][]domain.Capability {
	return map[domain.RoleName][]domain.Capability{
		domain.RoleAdmin: {domain.CapAdminAccess},
		domain.RoleManager: {
			domain.CapDocumentRead, domain.CapDocumentCreate, domain.CapDocumentEdit,
			domain.CapDocumentSubmit, domain.CapDocumentReview, domain.CapDocumentApprove,
			domain.CapDocumentPublish, domain.CapDocumentArchive, domain.CapDocumentImport,
			domain.CapAuditRead,
		},
		domain.RoleEditor:    {domain.CapDocumentRead, domain.CapDocumentCreate, domain.CapDocumentEdit, domain.CapDocumentSubmit},
		domain.RoleReviewer:  {domain.CapDocumentRead, domain.CapDocumentReview},
		domain.RoleApprover:  {domain.CapDocumentRead, domain.CapDocumentApprove},
		domain.RolePublisher: {domain.CapDocumentRead, domain.CapDocumentPublish},
		domain.RoleViewer:    {domain.CapDocumentRead},
		domain.RoleSystem:    {domain.CapDocumentRead, domain.CapDocumentExpire},
	}
}
