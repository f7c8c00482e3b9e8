// Package authz holds the role model and the authorization policy applied
// before any resource access.
package authz

// Operation is the kind of access requested.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
)

// Resource is the kind of resource an operation targets.
type Resource string

const (
	ResourceEvent          Resource = "event"
	ResourceAlert          Resource = "alert"
	ResourceAnalystAccount Resource = "analyst_account"
	ResourceAccount        Resource = "account"
	ResourceDemo           Resource = "demo"
)

// Decision is the outcome of a policy check.
type Decision int

const (
	Allow Decision = iota
	DenyUnauthenticated
	DenyForbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "unauthenticated"
	case DenyForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Requirement is the capability a caller needs for a (resource, operation) pair.
type Requirement int

const (
	RequireAuthenticated Requirement = iota + 1
	RequireAdmin
)

type rule struct {
	resource  Resource
	operation Operation
}

// policy is the complete access table. Pairs missing from it are forbidden
// for everyone.
var policy = map[rule]Requirement{
	{ResourceEvent, OpCreate}:          RequireAuthenticated,
	{ResourceEvent, OpRead}:            RequireAdmin,
	{ResourceAlert, OpRead}:            RequireAuthenticated,
	{ResourceAlert, OpUpdate}:          RequireAdmin,
	{ResourceAnalystAccount, OpCreate}: RequireAdmin,
	{ResourceAccount, OpRead}:          RequireAdmin,
	{ResourceAccount, OpUpdate}:        RequireAdmin,
	{ResourceDemo, OpCreate}:           RequireAdmin,
}

// RequirementFor returns the requirement registered for the pair, if any.
func RequirementFor(op Operation, res Resource) (Requirement, bool) {
	req, ok := policy[rule{resource: res, operation: op}]
	return req, ok
}

// Decide maps (identity, operation, resource) to a decision. A nil identity
// is an unauthenticated caller and is denied every operation.
func Decide(id *Identity, op Operation, res Resource) Decision {
	if id == nil {
		return DenyUnauthenticated
	}

	req, ok := RequirementFor(op, res)
	if !ok {
		return DenyForbidden
	}

	switch req {
	case RequireAuthenticated:
		return Allow
	case RequireAdmin:
		if HasAdminCapability(*id) {
			return Allow
		}
	}
	return DenyForbidden
}
