// Package rbacgraph resolves effective privileges from a raw RBAC
// snapshot. A Graph is built per resolve call and holds no shared state;
// all walks run in memory.
package rbacgraph

import (
	"sort"
	"strings"

	"github.com/grantline/grantline/internal/types"
)

// RoleEdge is one granted-role edge of the graph.
type RoleEdge struct {
	GrantedRoleName string
	IsDefault       bool
	WithAdminOption bool
}

// Privilege is one positive grant or partial revoke. Empty scope fields
// denote wildcards.
type Privilege struct {
	AccessType      string `json:"access_type"`
	Database        string `json:"database,omitempty"`
	Table           string `json:"table,omitempty"`
	Column          string `json:"column,omitempty"`
	IsPartialRevoke bool   `json:"is_partial_revoke"`
	GrantOption     bool   `json:"grant_option"`
}

// ResolvedRole is a role reachable from a seed user or role, with the
// full derivation path starting at the seed.
type ResolvedRole struct {
	RoleName  string   `json:"role_name"`
	IsDirect  bool     `json:"is_direct"`
	IsDefault bool     `json:"is_default"`
	Path      []string `json:"path"`
}

// EffectivePrivilege is a grant attributed to a user after role
// resolution, with its source and derivation path.
type EffectivePrivilege struct {
	Privilege
	Source     string   `json:"source"` // direct | role
	SourceName string   `json:"source_name"`
	Path       []string `json:"path"`
}

// Member is a direct holder of a role.
type Member struct {
	Name string `json:"name"`
	Type string `json:"type"` // user | role
}

// ObjectEntry is one user's aggregated access to a database object.
type ObjectEntry struct {
	Name        string   `json:"name"`
	EntityType  string   `json:"entity_type"`
	AccessTypes []string `json:"access_types"`
	Source      string   `json:"source"`
}

// Graph is the adjacency view of one snapshot. Name slices preserve the
// snapshot's row order so iteration is deterministic.
type Graph struct {
	userNames []string
	roleNames []string
	users     map[string]map[string]any
	roles     map[string]map[string]any

	userRoles   map[string][]RoleEdge
	roleParents map[string][]RoleEdge
	userGrants  map[string][]Privilege
	roleGrants  map[string][]Privilege

	settingsProfiles []map[string]any
	settingsElements []map[string]any
	quotas           []map[string]any
}

// New builds the graph from a raw snapshot payload.
func New(raw types.RawSnapshot) *Graph {
	g := &Graph{
		users:       make(map[string]map[string]any),
		roles:       make(map[string]map[string]any),
		userRoles:   make(map[string][]RoleEdge),
		roleParents: make(map[string][]RoleEdge),
		userGrants:  make(map[string][]Privilege),
		roleGrants:  make(map[string][]Privilege),
	}

	for _, u := range raw["users"] {
		name := asString(u["name"])
		if name == "" {
			continue
		}
		if _, seen := g.users[name]; !seen {
			g.userNames = append(g.userNames, name)
		}
		g.users[name] = u
	}
	for _, r := range raw["roles"] {
		name := asString(r["name"])
		if name == "" {
			continue
		}
		if _, seen := g.roles[name]; !seen {
			g.roleNames = append(g.roleNames, name)
		}
		g.roles[name] = r
	}

	for _, rg := range raw["role_grants"] {
		edge := RoleEdge{
			GrantedRoleName: asString(rg["granted_role_name"]),
			IsDefault:       asBool(rg["granted_role_is_default"]),
			WithAdminOption: asBool(rg["with_admin_option"]),
		}
		if user := asString(rg["user_name"]); user != "" {
			g.userRoles[user] = append(g.userRoles[user], edge)
		} else if role := asString(rg["role_name"]); role != "" {
			g.roleParents[role] = append(g.roleParents[role], edge)
		}
	}

	for _, gr := range raw["grants"] {
		priv := Privilege{
			AccessType:      asString(gr["access_type"]),
			Database:        asString(gr["database"]),
			Table:           asString(gr["table"]),
			Column:          asString(gr["column"]),
			IsPartialRevoke: asBool(gr["is_partial_revoke"]),
			GrantOption:     asBool(gr["grant_option"]),
		}
		if user := asString(gr["user_name"]); user != "" {
			g.userGrants[user] = append(g.userGrants[user], priv)
		} else if role := asString(gr["role_name"]); role != "" {
			g.roleGrants[role] = append(g.roleGrants[role], priv)
		}
	}

	g.settingsProfiles = raw["settings_profiles"]
	g.settingsElements = raw["settings_elements"]
	g.quotas = raw["quotas"]
	return g
}

// UserNames returns user names in snapshot order.
func (g *Graph) UserNames() []string { return g.userNames }

// RoleNames returns role names in snapshot order.
func (g *Graph) RoleNames() []string { return g.roleNames }

// UserInfo returns the raw system.users row for a user.
func (g *Graph) UserInfo(name string) (map[string]any, bool) {
	u, ok := g.users[name]
	return u, ok
}

// RoleInfo returns the raw system.roles row for a role.
func (g *Graph) RoleInfo(name string) (map[string]any, bool) {
	r, ok := g.roles[name]
	return r, ok
}

// UserDirectGrants returns the user's direct positive grants.
func (g *Graph) UserDirectGrants(name string) []Privilege {
	var out []Privilege
	for _, p := range g.userGrants[name] {
		if !p.IsPartialRevoke {
			out = append(out, p)
		}
	}
	return out
}

// RoleDirectGrants returns the role's direct positive grants.
func (g *Graph) RoleDirectGrants(name string) []Privilege {
	var out []Privilege
	for _, p := range g.roleGrants[name] {
		if !p.IsPartialRevoke {
			out = append(out, p)
		}
	}
	return out
}

// ResolveUserRoles walks all roles reachable from a user. ClickHouse
// permits cycles in role inheritance, so a visited set breaks them; a
// role already visited is skipped silently.
func (g *Graph) ResolveUserRoles(userName string) []ResolvedRole {
	result := []ResolvedRole{}
	visited := map[string]bool{}

	var walk func(roleName string, path []string, isDirect, isDefault bool)
	walk = func(roleName string, path []string, isDirect, isDefault bool) {
		if visited[roleName] {
			return
		}
		visited[roleName] = true
		result = append(result, ResolvedRole{
			RoleName:  roleName,
			IsDirect:  isDirect,
			IsDefault: isDefault,
			Path:      path,
		})
		for _, parent := range g.roleParents[roleName] {
			walk(parent.GrantedRoleName, appendPath(path, parent.GrantedRoleName), false, false)
		}
	}

	for _, edge := range g.userRoles[userName] {
		walk(edge.GrantedRoleName, []string{userName, edge.GrantedRoleName}, true, edge.IsDefault)
	}
	return result
}

// ResolveRoleParents walks all roles inherited by a role.
func (g *Graph) ResolveRoleParents(roleName string) []ResolvedRole {
	result := []ResolvedRole{}
	visited := map[string]bool{}

	var walk func(rn string, path []string)
	walk = func(rn string, path []string) {
		if visited[rn] {
			return
		}
		visited[rn] = true
		result = append(result, ResolvedRole{RoleName: rn, Path: path})
		for _, parent := range g.roleParents[rn] {
			walk(parent.GrantedRoleName, appendPath(path, parent.GrantedRoleName))
		}
	}

	for _, parent := range g.roleParents[roleName] {
		walk(parent.GrantedRoleName, []string{roleName, parent.GrantedRoleName})
	}
	return result
}

// EffectivePrivileges computes a user's grants after role resolution and
// partial-revoke subtraction. A grant is suppressed when a revoke with the
// same access type covers its scope.
func (g *Graph) EffectivePrivileges(userName string) []EffectivePrivilege {
	allRoles := g.ResolveUserRoles(userName)

	var all []EffectivePrivilege
	for _, p := range g.userGrants[userName] {
		all = append(all, EffectivePrivilege{
			Privilege:  p,
			Source:     "direct",
			SourceName: userName,
			Path:       []string{userName},
		})
	}
	for _, role := range allRoles {
		for _, p := range g.roleGrants[role.RoleName] {
			all = append(all, EffectivePrivilege{
				Privilege:  p,
				Source:     "role",
				SourceName: role.RoleName,
				Path:       role.Path,
			})
		}
	}

	var revokes, grants []EffectivePrivilege
	for _, p := range all {
		if p.IsPartialRevoke {
			revokes = append(revokes, p)
		} else {
			grants = append(grants, p)
		}
	}

	effective := []EffectivePrivilege{}
	for _, grant := range grants {
		suppressed := false
		for _, revoke := range revokes {
			if revoke.AccessType == grant.AccessType && scopeCovers(revoke.Privilege, grant.Privilege) {
				suppressed = true
				break
			}
		}
		if !suppressed {
			effective = append(effective, grant)
		}
	}
	return effective
}

// RoleGrantsResolved returns a role's direct grants in explanation form.
func (g *Graph) RoleGrantsResolved(roleName string) []EffectivePrivilege {
	out := []EffectivePrivilege{}
	for _, p := range g.roleGrants[roleName] {
		out = append(out, EffectivePrivilege{
			Privilege:  p,
			Source:     "direct",
			SourceName: roleName,
		})
	}
	return out
}

// RoleMembers lists direct holders of a role, users first.
func (g *Graph) RoleMembers(roleName string) []Member {
	members := []Member{}
	for _, uname := range g.userNames {
		for _, edge := range g.userRoles[uname] {
			if edge.GrantedRoleName == roleName {
				members = append(members, Member{Name: uname, Type: "user"})
				break
			}
		}
	}
	for _, rname := range g.roleNames {
		for _, edge := range g.roleParents[rname] {
			if edge.GrantedRoleName == roleName {
				members = append(members, Member{Name: rname, Type: "role"})
				break
			}
		}
	}
	return members
}

// ObjectAccess enumerates users with effective access to database[.table],
// aggregated per user. table empty means database-level.
func (g *Graph) ObjectAccess(database, table string) []ObjectEntry {
	entries := []ObjectEntry{}
	for _, uname := range g.userNames {
		var matching []EffectivePrivilege
		for _, p := range g.EffectivePrivileges(uname) {
			if privMatchesObject(p.Privilege, database, table) {
				matching = append(matching, p)
			}
		}
		if len(matching) == 0 {
			continue
		}
		accessTypes := map[string]bool{}
		sources := map[string]bool{}
		for _, p := range matching {
			accessTypes[p.AccessType] = true
			sources[p.SourceName] = true
		}
		entries = append(entries, ObjectEntry{
			Name:        uname,
			EntityType:  "user",
			AccessTypes: sortedSetKeys(accessTypes),
			Source:      strings.Join(sortedSetKeys(sources), ", "),
		})
	}
	return entries
}

// UserSettingsProfiles returns profiles applying to the user, either via
// apply_to_all or an explicit apply_to_list entry.
func (g *Graph) UserSettingsProfiles(userName string) []map[string]any {
	result := []map[string]any{}
	for _, sp := range g.settingsProfiles {
		if asBool(sp["apply_to_all"]) {
			result = append(result, sp)
			continue
		}
		if list, ok := sp["apply_to_list"].([]any); ok {
			for _, v := range list {
				if asString(v) == userName {
					result = append(result, sp)
					break
				}
			}
		}
	}
	return result
}

// scopeCovers reports whether the revoke negates the grant: for each of
// database, table, and column, the revoke field is either a wildcard
// (empty) or equal to the grant's.
func scopeCovers(revoke, grant Privilege) bool {
	if revoke.Database != "" && revoke.Database != grant.Database {
		return false
	}
	if revoke.Table != "" && revoke.Table != grant.Table {
		return false
	}
	if revoke.Column != "" && revoke.Column != grant.Column {
		return false
	}
	return true
}

// privMatchesObject reports whether a privilege applies to
// database[.table]: empty privilege fields are wildcards.
func privMatchesObject(p Privilege, database, table string) bool {
	if p.Database == "" {
		return true
	}
	if p.Database != database {
		return false
	}
	if p.Table == "" {
		return true
	}
	if table != "" && p.Table != table {
		return false
	}
	return true
}

// appendPath copies before extending so sibling branches never alias the
// same backing array.
func appendPath(path []string, next string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, next)
}

func sortedSetKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		return b == "1" || b == "true"
	}
	return false
}
