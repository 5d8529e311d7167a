// Package snapdiff compares two raw RBAC snapshots and reports added,
// removed, and modified entities per family.
package snapdiff

import (
	"encoding/json"
	"fmt"

	"github.com/grantline/grantline/internal/types"
)

// FamilyDiff is the per-family comparison result. Added and Removed hold
// full entity rows; Modified holds before/after pairs.
type FamilyDiff struct {
	Added    []map[string]any `json:"added"`
	Removed  []map[string]any `json:"removed"`
	Modified []Modification   `json:"modified"`

	AddedCount    int `json:"added_count"`
	RemovedCount  int `json:"removed_count"`
	ModifiedCount int `json:"modified_count"`
}

// Modification is one entity present in both snapshots with different
// content.
type Modification struct {
	Key    string         `json:"key"`
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
}

// Result maps family name to its diff.
type Result map[string]FamilyDiff

// family pairs a snapshot key with the identity function for its rows.
type family struct {
	name string
	key  func(row map[string]any) string
}

// families is the fixed comparison set. Keys combine the fields that
// identify an entity within its family; rows in one snapshot sharing a
// key are treated as one entity.
var families = []family{
	{"users", func(r map[string]any) string { return str(r["name"]) }},
	{"roles", func(r map[string]any) string { return str(r["name"]) }},
	{"role_grants", func(r map[string]any) string {
		return fmt.Sprintf("%s|%s|%s", str(r["user_name"]), str(r["role_name"]), str(r["granted_role_name"]))
	}},
	{"grants", func(r map[string]any) string {
		return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
			str(r["user_name"]), str(r["role_name"]), str(r["access_type"]),
			str(r["database"]), str(r["table"]), str(r["column"]))
	}},
}

// Compute diffs two snapshots. Output ordering follows row order of the
// new snapshot for additions and modifications, and of the old snapshot
// for removals, so results are deterministic.
func Compute(oldSnap, newSnap types.RawSnapshot) Result {
	result := Result{}
	for _, fam := range families {
		result[fam.name] = diffFamily(oldSnap[fam.name], newSnap[fam.name], fam.key)
	}
	return result
}

func diffFamily(oldRows, newRows []map[string]any, key func(map[string]any) string) FamilyDiff {
	oldByKey := indexRows(oldRows, key)
	newByKey := indexRows(newRows, key)

	d := FamilyDiff{
		Added:    []map[string]any{},
		Removed:  []map[string]any{},
		Modified: []Modification{},
	}

	seen := map[string]bool{}
	for _, row := range newRows {
		k := key(row)
		if seen[k] {
			continue
		}
		seen[k] = true
		before, existed := oldByKey[k]
		if !existed {
			d.Added = append(d.Added, row)
			continue
		}
		if canonical(before) != canonical(row) {
			d.Modified = append(d.Modified, Modification{Key: k, Before: before, After: row})
		}
	}

	seen = map[string]bool{}
	for _, row := range oldRows {
		k := key(row)
		if seen[k] {
			continue
		}
		seen[k] = true
		if _, exists := newByKey[k]; !exists {
			d.Removed = append(d.Removed, row)
		}
	}

	d.AddedCount = len(d.Added)
	d.RemovedCount = len(d.Removed)
	d.ModifiedCount = len(d.Modified)
	return d
}

func indexRows(rows []map[string]any, key func(map[string]any) string) map[string]map[string]any {
	idx := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		k := key(row)
		if _, dup := idx[k]; !dup {
			idx[k] = row
		}
	}
	return idx
}

// canonical renders a row for content comparison. encoding/json sorts
// map keys, so equal rows always produce equal strings.
func canonical(row map[string]any) string {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(b)
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
