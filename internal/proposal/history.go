package proposal

import (
	"fmt"
	"strings"

	"github.com/grantline/grantline/internal/sqlgen"
)

// historyEntity maps a successful operation to the entity it touched.
// The name is human-readable and unquoted; it feeds the per-cluster
// change log, not SQL.
func historyEntity(opType string, params map[string]any) (entityType, entityName string, ok bool) {
	get := func(key string) string {
		if s, isStr := params[key].(string); isStr {
			return s
		}
		return ""
	}

	switch opType {
	case "create_user", "alter_user_password", "drop_user", "set_default_roles":
		return "user", get("username"), true
	case "create_role", "drop_role":
		return "role", get("role_name"), true
	case "grant_role", "revoke_role":
		return "role_assignment", get("role_name") + " -> " + get("target_name"), true
	case "grant_privilege", "revoke_privilege":
		priv := strings.ToUpper(get("privilege"))
		scope := sqlgen.ScopeText(get("database"), get("table"))
		return "privilege", fmt.Sprintf("%s on %s", priv, scope), true
	case "create_settings_profile", "alter_settings_profile", "drop_settings_profile":
		return "settings_profile", get("name"), true
	case "assign_settings_profile":
		return "profile_assignment", get("profile_name") + " -> " + get("target_name"), true
	case "create_quota", "alter_quota", "drop_quota":
		return "quota", get("name"), true
	case "assign_quota":
		return "quota_assignment", get("quota_name") + " -> " + get("target_name"), true
	case "create_row_policy", "alter_row_policy", "drop_row_policy":
		return "row_policy", get("name"), true
	}
	return "", "", false
}
