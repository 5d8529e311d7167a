package snapdiff

import (
	"testing"

	"github.com/grantline/grantline/internal/types"
)

func TestComputeUsersAddedRemovedModified(t *testing.T) {
	oldSnap := types.RawSnapshot{
		"users": {
			{"name": "alice", "host_ip": []any{"::/0"}},
			{"name": "bob"},
		},
	}
	newSnap := types.RawSnapshot{
		"users": {
			{"name": "alice", "host_ip": []any{"10.0.0.0/8"}},
			{"name": "carol"},
		},
	}

	d := Compute(oldSnap, newSnap)["users"]
	if d.AddedCount != 1 || d.Added[0]["name"] != "carol" {
		t.Errorf("added = %+v", d.Added)
	}
	if d.RemovedCount != 1 || d.Removed[0]["name"] != "bob" {
		t.Errorf("removed = %+v", d.Removed)
	}
	if d.ModifiedCount != 1 {
		t.Fatalf("modified = %+v", d.Modified)
	}
	mod := d.Modified[0]
	if mod.Key != "alice" {
		t.Errorf("modified key = %q", mod.Key)
	}
	if mod.Before["name"] != "alice" || mod.After["name"] != "alice" {
		t.Errorf("modified pair = %+v", mod)
	}
}

func TestComputeGrantsCompositeKey(t *testing.T) {
	oldSnap := types.RawSnapshot{
		"grants": {
			{"user_name": "alice", "access_type": "SELECT", "database": "analytics"},
		},
	}
	newSnap := types.RawSnapshot{
		"grants": {
			{"user_name": "alice", "access_type": "SELECT", "database": "analytics"},
			{"user_name": "alice", "access_type": "SELECT", "database": "staging"},
		},
	}

	d := Compute(oldSnap, newSnap)["grants"]
	if d.AddedCount != 1 || d.Added[0]["database"] != "staging" {
		t.Errorf("added = %+v", d.Added)
	}
	if d.RemovedCount != 0 || d.ModifiedCount != 0 {
		t.Errorf("diff = %+v", d)
	}
}

func TestComputeIdenticalSnapshots(t *testing.T) {
	snap := types.RawSnapshot{
		"users":       {{"name": "alice"}},
		"roles":       {{"name": "analyst"}},
		"role_grants": {{"user_name": "alice", "granted_role_name": "analyst"}},
		"grants":      {{"role_name": "analyst", "access_type": "SELECT", "database": "analytics"}},
	}
	result := Compute(snap, snap)
	for fam, d := range result {
		if d.AddedCount != 0 || d.RemovedCount != 0 || d.ModifiedCount != 0 {
			t.Errorf("family %s not empty: %+v", fam, d)
		}
	}
}

func TestComputeAllFamiliesPresent(t *testing.T) {
	result := Compute(types.RawSnapshot{}, types.RawSnapshot{})
	for _, fam := range []string{"users", "roles", "role_grants", "grants"} {
		d, ok := result[fam]
		if !ok {
			t.Fatalf("family %s missing", fam)
		}
		if d.Added == nil || d.Removed == nil || d.Modified == nil {
			t.Errorf("family %s has nil slices: %+v", fam, d)
		}
	}
}

func TestComputeRoleGrantKeyDistinguishesHolder(t *testing.T) {
	oldSnap := types.RawSnapshot{
		"role_grants": {{"user_name": "alice", "granted_role_name": "analyst"}},
	}
	newSnap := types.RawSnapshot{
		"role_grants": {{"role_name": "writer", "granted_role_name": "analyst"}},
	}
	d := Compute(oldSnap, newSnap)["role_grants"]
	if d.AddedCount != 1 || d.RemovedCount != 1 {
		t.Errorf("distinct holders collapsed: %+v", d)
	}
}
