package sqlgen

import "strings"

// Statement is the output of one builder: forward DDL plus its inverse.
// An empty Compensation means the operation is not reversible; the engine
// never auto-undoes, compensation SQL is surfaced for manual use.
type Statement struct {
	SQL          string
	Compensation string
	// Broad is set when the statement grants a broad privilege and the
	// proposal should be flagged as elevated.
	Broad bool
}

type builderFunc func(p Params, mask bool) (Statement, error)

var builders = map[string]builderFunc{
	"create_user":             buildCreateUser,
	"alter_user_password":     buildAlterUserPassword,
	"drop_user":               buildDropUser,
	"create_role":             buildCreateRole,
	"drop_role":               buildDropRole,
	"grant_role":              buildGrantRole,
	"revoke_role":             buildRevokeRole,
	"set_default_roles":       buildSetDefaultRoles,
	"grant_privilege":         buildGrantPrivilege,
	"revoke_privilege":        buildRevokePrivilege,
	"create_settings_profile": buildCreateSettingsProfile,
	"alter_settings_profile":  buildAlterSettingsProfile,
	"drop_settings_profile":   buildDropSettingsProfile,
	"assign_settings_profile": buildAssignSettingsProfile,
	"create_quota":            buildCreateQuota,
	"alter_quota":             buildAlterQuota,
	"drop_quota":              buildDropQuota,
	"assign_quota":            buildAssignQuota,
	"create_row_policy":       buildCreateRowPolicy,
	"alter_row_policy":        buildAlterRowPolicy,
	"drop_row_policy":         buildDropRowPolicy,
}

// KnownOperation reports whether opType has a registered builder.
func KnownOperation(opType string) bool {
	_, ok := builders[opType]
	return ok
}

// Build generates the execution statement for an operation. It is strict:
// the executor re-builds DDL from params and never trusts stored SQL.
func Build(opType string, p Params) (Statement, error) {
	return dispatch(opType, p, false)
}

// BuildPreview generates the display statement for an operation with
// passwords masked. Preview and execution share identifier, privilege,
// and interval rules, so params accepted here are accepted by Build.
func BuildPreview(opType string, p Params) (Statement, error) {
	return dispatch(opType, p, true)
}

func dispatch(opType string, p Params, mask bool) (Statement, error) {
	b, ok := builders[opType]
	if !ok {
		return Statement{}, templateErrorf("Unknown operation type: %s", opType)
	}
	return b(p, mask)
}

// ----- Users -----------------------------------------------

func buildCreateUser(p Params, mask bool) (Statement, error) {
	if err := p.require("username", "password"); err != nil {
		return Statement{}, err
	}
	user, err := QuoteIdentifier(p.str("username"))
	if err != nil {
		return Statement{}, err
	}
	pwd := "***"
	if !mask {
		pwd = EscapeString(p.str("password"))
	}
	var sb strings.Builder
	sb.WriteString("CREATE USER " + user + " IDENTIFIED WITH sha256_password BY '" + pwd + "'")

	if hosts := p.strList("host_ip"); len(hosts) > 0 {
		quoted := make([]string, len(hosts))
		for i, h := range hosts {
			quoted[i] = "'" + EscapeString(h) + "'"
		}
		sb.WriteString(" HOST IP " + strings.Join(quoted, ", "))
	}
	if roles := p.strList("default_roles"); len(roles) > 0 {
		quoted := make([]string, len(roles))
		for i, r := range roles {
			if quoted[i], err = QuoteIdentifier(r); err != nil {
				return Statement{}, err
			}
		}
		sb.WriteString(" DEFAULT ROLE " + strings.Join(quoted, ", "))
	}
	return Statement{SQL: sb.String(), Compensation: "DROP USER IF EXISTS " + user}, nil
}

func buildAlterUserPassword(p Params, mask bool) (Statement, error) {
	if err := p.require("username", "password"); err != nil {
		return Statement{}, err
	}
	user, err := QuoteIdentifier(p.str("username"))
	if err != nil {
		return Statement{}, err
	}
	pwd := "***"
	if !mask {
		pwd = EscapeString(p.str("password"))
	}
	// A password change cannot be reversed.
	return Statement{SQL: "ALTER USER " + user + " IDENTIFIED WITH sha256_password BY '" + pwd + "'"}, nil
}

func buildDropUser(p Params, _ bool) (Statement, error) {
	if err := p.require("username"); err != nil {
		return Statement{}, err
	}
	user, err := QuoteIdentifier(p.str("username"))
	if err != nil {
		return Statement{}, err
	}
	// Not reversible: the original password hash is gone.
	return Statement{SQL: "DROP USER IF EXISTS " + user}, nil
}

// ----- Roles -----------------------------------------------

func buildCreateRole(p Params, _ bool) (Statement, error) {
	if err := p.require("role_name"); err != nil {
		return Statement{}, err
	}
	role, err := QuoteIdentifier(p.str("role_name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "CREATE ROLE " + role, Compensation: "DROP ROLE IF EXISTS " + role}, nil
}

func buildDropRole(p Params, _ bool) (Statement, error) {
	if err := p.require("role_name"); err != nil {
		return Statement{}, err
	}
	role, err := QuoteIdentifier(p.str("role_name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DROP ROLE IF EXISTS " + role}, nil
}

func buildGrantRole(p Params, _ bool) (Statement, error) {
	if err := p.require("role_name", "target_type", "target_name"); err != nil {
		return Statement{}, err
	}
	role, err := QuoteIdentifier(p.str("role_name"))
	if err != nil {
		return Statement{}, err
	}
	target, err := QuoteIdentifier(p.str("target_name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:          "GRANT " + role + " TO " + target,
		Compensation: "REVOKE " + role + " FROM " + target,
	}, nil
}

func buildRevokeRole(p Params, _ bool) (Statement, error) {
	if err := p.require("role_name", "target_type", "target_name"); err != nil {
		return Statement{}, err
	}
	role, err := QuoteIdentifier(p.str("role_name"))
	if err != nil {
		return Statement{}, err
	}
	target, err := QuoteIdentifier(p.str("target_name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:          "REVOKE " + role + " FROM " + target,
		Compensation: "GRANT " + role + " TO " + target,
	}, nil
}

func buildSetDefaultRoles(p Params, _ bool) (Statement, error) {
	if err := p.require("username", "roles"); err != nil {
		return Statement{}, err
	}
	user, err := QuoteIdentifier(p.str("username"))
	if err != nil {
		return Statement{}, err
	}
	var rolesClause string
	switch {
	case len(p.strList("roles")) > 0:
		roles := p.strList("roles")
		quoted := make([]string, len(roles))
		for i, r := range roles {
			if quoted[i], err = QuoteIdentifier(r); err != nil {
				return Statement{}, err
			}
		}
		rolesClause = strings.Join(quoted, ", ")
	case p.str("roles") == "ALL":
		rolesClause = "ALL"
	default:
		rolesClause = "NONE"
	}
	return Statement{SQL: "SET DEFAULT ROLE " + rolesClause + " TO " + user}, nil
}

// ----- Privileges ------------------------------------------

func buildGrantPrivilege(p Params, _ bool) (Statement, error) {
	priv, scope, target, err := privilegeParts(p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:          "GRANT " + priv + " ON " + scope + " TO " + target,
		Compensation: "REVOKE " + priv + " ON " + scope + " FROM " + target,
		Broad:        IsBroadPrivilege(priv),
	}, nil
}

func buildRevokePrivilege(p Params, _ bool) (Statement, error) {
	priv, scope, target, err := privilegeParts(p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:          "REVOKE " + priv + " ON " + scope + " FROM " + target,
		Compensation: "GRANT " + priv + " ON " + scope + " TO " + target,
		Broad:        IsBroadPrivilege(priv),
	}, nil
}

func privilegeParts(p Params) (priv, scope, target string, err error) {
	if err = p.require("privilege", "target_type", "target_name"); err != nil {
		return
	}
	priv = strings.ToUpper(p.str("privilege"))
	if !ValidPrivilege(priv) {
		err = templateErrorf("Privilege not in allow-list: %s", priv)
		return
	}
	if scope, err = QuoteScope(p.str("database"), p.str("table")); err != nil {
		return
	}
	target, err = QuoteIdentifier(p.str("target_name"))
	return
}

// ----- Settings profiles -----------------------------------

func settingsClause(settings map[string]any) (string, error) {
	parts := make([]string, 0, len(settings))
	for _, k := range sortedKeys(settings) {
		if !ValidIdentifier(k) {
			return "", templateErrorf("Invalid setting name: %q", k)
		}
		parts = append(parts, k+" = "+literal(settings[k]))
	}
	return strings.Join(parts, ", "), nil
}

func buildCreateSettingsProfile(p Params, _ bool) (Statement, error) {
	if err := p.require("name", "settings"); err != nil {
		return Statement{}, err
	}
	name, err := QuoteIdentifier(p.str("name"))
	if err != nil {
		return Statement{}, err
	}
	clause, err := settingsClause(p.objMap("settings"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:          "CREATE SETTINGS PROFILE " + name + " SETTINGS " + clause,
		Compensation: "DROP SETTINGS PROFILE IF EXISTS " + name,
	}, nil
}

func buildAlterSettingsProfile(p Params, _ bool) (Statement, error) {
	if err := p.require("name", "settings"); err != nil {
		return Statement{}, err
	}
	name, err := QuoteIdentifier(p.str("name"))
	if err != nil {
		return Statement{}, err
	}
	clause, err := settingsClause(p.objMap("settings"))
	if err != nil {
		return Statement{}, err
	}
	// ALTER overwrites in place; the previous values are not recoverable.
	return Statement{SQL: "ALTER SETTINGS PROFILE " + name + " SETTINGS " + clause}, nil
}

func buildDropSettingsProfile(p Params, _ bool) (Statement, error) {
	if err := p.require("name"); err != nil {
		return Statement{}, err
	}
	name, err := QuoteIdentifier(p.str("name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DROP SETTINGS PROFILE IF EXISTS " + name}, nil
}

func buildAssignSettingsProfile(p Params, _ bool) (Statement, error) {
	if err := p.require("target_name", "profile_name"); err != nil {
		return Statement{}, err
	}
	target, err := QuoteIdentifier(p.str("target_name"))
	if err != nil {
		return Statement{}, err
	}
	profile, err := QuoteIdentifier(p.str("profile_name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "ALTER USER " + target + " SETTINGS PROFILE " + profile}, nil
}

// ----- Quotas ----------------------------------------------

func quotaClause(intervals []map[string]any) (string, error) {
	parts := make([]string, 0, len(intervals))
	for _, iv := range intervals {
		duration, _ := iv["duration"].(string)
		if duration == "" {
			duration = "1 hour"
		}
		if !ValidInterval(duration) {
			return "", templateErrorf("Invalid quota interval: %q", duration)
		}
		limits, _ := iv["limits"].(map[string]any)
		limitParts := make([]string, 0, len(limits))
		for _, k := range sortedKeys(limits) {
			if !ValidIdentifier(k) {
				return "", templateErrorf("Invalid quota limit name: %q", k)
			}
			lit, err := intLiteral(limits[k])
			if err != nil {
				return "", err
			}
			limitParts = append(limitParts, k+" = "+lit)
		}
		parts = append(parts, "FOR INTERVAL "+duration+" MAX "+strings.Join(limitParts, ", "))
	}
	return strings.Join(parts, " "), nil
}

func buildCreateQuota(p Params, _ bool) (Statement, error) {
	if err := p.require("name", "intervals"); err != nil {
		return Statement{}, err
	}
	name, err := QuoteIdentifier(p.str("name"))
	if err != nil {
		return Statement{}, err
	}
	clause, err := quotaClause(p.objList("intervals"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:          "CREATE QUOTA " + name + " " + clause,
		Compensation: "DROP QUOTA IF EXISTS " + name,
	}, nil
}

func buildAlterQuota(p Params, _ bool) (Statement, error) {
	if err := p.require("name", "intervals"); err != nil {
		return Statement{}, err
	}
	name, err := QuoteIdentifier(p.str("name"))
	if err != nil {
		return Statement{}, err
	}
	clause, err := quotaClause(p.objList("intervals"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "ALTER QUOTA " + name + " " + clause}, nil
}

func buildDropQuota(p Params, _ bool) (Statement, error) {
	if err := p.require("name"); err != nil {
		return Statement{}, err
	}
	name, err := QuoteIdentifier(p.str("name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DROP QUOTA IF EXISTS " + name}, nil
}

func buildAssignQuota(p Params, _ bool) (Statement, error) {
	if err := p.require("target_name", "quota_name"); err != nil {
		return Statement{}, err
	}
	target, err := QuoteIdentifier(p.str("target_name"))
	if err != nil {
		return Statement{}, err
	}
	quota, err := QuoteIdentifier(p.str("quota_name"))
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "ALTER USER " + target + " QUOTA " + quota}, nil
}

// ----- Row policies ----------------------------------------

func rowPolicyTarget(p Params) (name, db, table string, err error) {
	if err = p.require("name", "database", "table"); err != nil {
		return
	}
	if name, err = QuoteIdentifier(p.str("name")); err != nil {
		return
	}
	if db, err = QuoteIdentifier(p.str("database")); err != nil {
		return
	}
	table, err = QuoteIdentifier(p.str("table"))
	return
}

func buildCreateRowPolicy(p Params, _ bool) (Statement, error) {
	name, db, table, err := rowPolicyTarget(p)
	if err != nil {
		return Statement{}, err
	}
	condition := p.str("condition")
	if condition == "" {
		condition = "1"
	}
	polType := "PERMISSIVE"
	if p.boolVal("restrictive") {
		polType = "RESTRICTIVE"
	}
	var sb strings.Builder
	sb.WriteString("CREATE ROW POLICY " + name + " ON " + db + "." + table +
		" AS " + polType + " FOR SELECT USING " + condition)
	if targets := p.strList("apply_to"); len(targets) > 0 {
		quoted := make([]string, len(targets))
		for i, t := range targets {
			if quoted[i], err = QuoteIdentifier(t); err != nil {
				return Statement{}, err
			}
		}
		sb.WriteString(" TO " + strings.Join(quoted, ", "))
	}
	return Statement{
		SQL:          sb.String(),
		Compensation: "DROP ROW POLICY IF EXISTS " + name + " ON " + db + "." + table,
	}, nil
}

func buildAlterRowPolicy(p Params, _ bool) (Statement, error) {
	name, db, table, err := rowPolicyTarget(p)
	if err != nil {
		return Statement{}, err
	}
	parts := []string{"ALTER ROW POLICY " + name + " ON " + db + "." + table}
	if condition := p.str("condition"); condition != "" {
		parts = append(parts, "USING "+condition)
	}
	if targets := p.strList("apply_to"); len(targets) > 0 {
		quoted := make([]string, len(targets))
		for i, t := range targets {
			if quoted[i], err = QuoteIdentifier(t); err != nil {
				return Statement{}, err
			}
		}
		parts = append(parts, "TO "+strings.Join(quoted, ", "))
	}
	return Statement{SQL: strings.Join(parts, " ")}, nil
}

func buildDropRowPolicy(p Params, _ bool) (Statement, error) {
	name, db, table, err := rowPolicyTarget(p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: "DROP ROW POLICY IF EXISTS " + name + " ON " + db + "." + table}, nil
}
