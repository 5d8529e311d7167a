package collector

import (
	"encoding/json"

	"github.com/grantline/grantline/internal/types"
)

// Normalize flattens a raw snapshot into typed entity rows. List-valued
// columns are kept as JSON strings; the graph resolver works off the raw
// payload, these rows feed counts and reporting queries.
func Normalize(raw types.RawSnapshot) ([]*types.SnapshotUser, []*types.SnapshotRole, []*types.SnapshotRoleGrant, []*types.SnapshotPrivilege) {
	var users []*types.SnapshotUser
	for _, row := range raw["users"] {
		users = append(users, &types.SnapshotUser{
			Name:             str(row["name"]),
			CHID:             str(row["id"]),
			Storage:          str(row["storage"]),
			AuthType:         str(row["auth_type"]),
			HostIP:           jsonList(row["host_ip"]),
			HostNames:        jsonList(row["host_names"]),
			DefaultRolesAll:  truthy(row["default_roles_all"]),
			DefaultRolesList: jsonList(row["default_roles_list"]),
			GranteesAny:      truthy(row["grantees_any"]),
			GranteesList:     jsonList(row["grantees_list"]),
		})
	}

	var roles []*types.SnapshotRole
	for _, row := range raw["roles"] {
		roles = append(roles, &types.SnapshotRole{
			Name:    str(row["name"]),
			CHID:    str(row["id"]),
			Storage: str(row["storage"]),
		})
	}

	var roleGrants []*types.SnapshotRoleGrant
	for _, row := range raw["role_grants"] {
		roleGrants = append(roleGrants, &types.SnapshotRoleGrant{
			UserName:        str(row["user_name"]),
			RoleName:        str(row["role_name"]),
			GrantedRoleName: str(row["granted_role_name"]),
			IsDefault:       truthy(row["granted_role_is_default"]),
			WithAdminOption: truthy(row["with_admin_option"]),
		})
	}

	var privileges []*types.SnapshotPrivilege
	for _, row := range raw["grants"] {
		privileges = append(privileges, &types.SnapshotPrivilege{
			UserName:        str(row["user_name"]),
			RoleName:        str(row["role_name"]),
			AccessType:      str(row["access_type"]),
			Database:        str(row["database"]),
			Table:           str(row["table"]),
			Column:          str(row["column"]),
			IsPartialRevoke: truthy(row["is_partial_revoke"]),
			GrantOption:     truthy(row["grant_option"]),
		})
	}

	return users, roles, roleGrants, privileges
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truthy handles JSONEachRow booleans, which arrive as 0/1 numbers on
// older servers and as true/false on newer ones.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b == "1" || b == "true"
	}
	return false
}

// jsonList renders a list-valued column as a JSON array string. Empty
// and missing values render as "".
func jsonList(v any) string {
	if v == nil {
		return ""
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	b, err := json.Marshal(list)
	if err != nil {
		return ""
	}
	return string(b)
}
