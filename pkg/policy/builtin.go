package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		noCredentialDeletionPolicy(),
		namespaceWipePolicy(),
		largeDeletePolicy(),
		unconditionalNotificationPolicy(),
	}
}

// noCredentialDeletionPolicy blocks diffs deleting a credential. Sources
// depending on a deleted credential stop ingesting data.
func noCredentialDeletionPolicy() Policy {
	return Policy{
		Name:        "no-credential-deletion",
		Description: "Blocks deletion of credentials",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "credentials"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package validio.policies.credentials

import rego.v1

deny contains violation if {
	some r in input.diff.delete
	r.kind == "credential"
	violation := {
		"message": sprintf("credential %q would be deleted", [r.name]),
		"severity": "error",
		"resource": sprintf("credential/%s", [r.name]),
	}
}
`,
	}
}

// namespaceWipePolicy blocks diffs deleting every resource of a namespace,
// typically caused by an empty or wrong manifest.
func namespaceWipePolicy() Policy {
	return Policy{
		Name:        "namespace-wipe",
		Description: "Blocks diffs deleting every existing resource of the namespace",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package validio.policies.wipe

import rego.v1

deny contains violation if {
	input.diff.actual_total > 0
	count(input.diff.delete) == input.diff.actual_total
	violation := {
		"message": sprintf("all %d resources of namespace %q would be deleted", [input.diff.actual_total, input.diff.namespace]),
		"severity": "error",
	}
}
`,
	}
}

// largeDeletePolicy warns when a diff deletes more resources than the limit.
func largeDeletePolicy() Policy {
	return Policy{
		Name:        "large-delete",
		Description: "Warns when more resources than the configured limit would be deleted",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package validio.policies.large_delete

import rego.v1

deny contains violation if {
	n := count(input.diff.delete)
	n > input.limits.max_deletes
	violation := {
		"message": sprintf("%d resources would be deleted, more than %d", [n, input.limits.max_deletes]),
		"severity": "warning",
	}
}
`,
	}
}

// unconditionalNotificationPolicy warns about created notification rules
// of a namespace without any source, which match every incident.
func unconditionalNotificationPolicy() Policy {
	return Policy{
		Name:        "unconditional-notification-rule",
		Description: "Warns about new notification rules in a namespace without sources",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"notifications"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package validio.policies.notifications

import rego.v1

deny contains violation if {
	some r in input.diff.create
	r.kind == "notification_rule"
	not input.diff.actual.source
	not has_created_source
	violation := {
		"message": sprintf("notification rule %q is created in a namespace without sources", [r.name]),
		"severity": "info",
		"resource": sprintf("notification_rule/%s", [r.name]),
	}
}

has_created_source if {
	some r in input.diff.create
	r.kind == "source"
}
`,
	}
}
