package rbac

import "testing"

func TestPolicyClosedByDefault(t *testing.T) {
	p, err := NewPolicy(false)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	for _, perm := range []Permission{PermIncidentsRead, PermLogsRead, PermMetricsRead} {
		if !p.Allowed(SubjectInternal, perm) {
			t.Fatalf("internal subject must have %s", perm)
		}
		if p.Allowed(SubjectAnonymous, perm) {
			t.Fatalf("anonymous subject must not have %s", perm)
		}
	}
	if p.Allowed(SubjectInternal, Permission("incidents.write")) {
		t.Fatalf("unknown permission must be denied")
	}
	if p.Allowed("", PermIncidentsRead) {
		t.Fatalf("empty subject must be denied")
	}
}

func TestPolicyOpenGrantsAnonymous(t *testing.T) {
	p, err := NewPolicy(true)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if !p.Allowed(SubjectAnonymous, PermIncidentsRead) {
		t.Fatalf("open policy must allow anonymous reads")
	}
}

func TestNilPolicyDenies(t *testing.T) {
	var p *Policy
	if p.Allowed(SubjectInternal, PermIncidentsRead) {
		t.Fatalf("nil policy must deny")
	}
}
