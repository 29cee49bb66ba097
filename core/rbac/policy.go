package rbac

import (
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Permission string

const (
	PermIncidentsRead Permission = "incidents.read"
	PermLogsRead      Permission = "logs.read"
	PermMetricsRead   Permission = "metrics.read"
)

const (
	RoleOperator = "operator"

	// SubjectInternal is the principal behind a valid X-API-Key.
	SubjectInternal = "internal"
	// SubjectAnonymous is used when no internal key is configured.
	SubjectAnonymous = "anonymous"
)

const modelText = `
[request_definition]
r = sub, perm

[policy_definition]
p = sub, perm

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.perm == p.perm
`

var defaultRolePermissions = map[string][]Permission{
	RoleOperator: {PermIncidentsRead, PermLogsRead, PermMetricsRead},
}

// Policy wraps a casbin enforcer holding role permissions and subject roles.
type Policy struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

// NewPolicy builds the default policy. With open set, the anonymous subject
// gets the operator role too, which is how a deployment without an internal
// key behaves.
func NewPolicy(open bool) (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	p := &Policy{enforcer: e}
	for role, perms := range defaultRolePermissions {
		for _, perm := range perms {
			if _, err := e.AddPolicy(role, string(perm)); err != nil {
				return nil, err
			}
		}
	}
	if err := p.AssignRole(SubjectInternal, RoleOperator); err != nil {
		return nil, err
	}
	if open {
		if err := p.AssignRole(SubjectAnonymous, RoleOperator); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Policy) AssignRole(subject, role string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func (p *Policy) Allowed(subject string, perm Permission) bool {
	if p == nil || subject == "" {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	ok, err := p.enforcer.Enforce(subject, string(perm))
	return err == nil && ok
}
