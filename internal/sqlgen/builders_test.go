package sqlgen

import (
	"errors"
	"strings"
	"testing"
)

func TestQuoteIdentifierBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		ident   string
		wantErr bool
	}{
		{"simple", "analytics", false},
		{"underscore prefix", "_internal", false},
		{"max length 64", strings.Repeat("a", 64), false},
		{"too long 65", strings.Repeat("a", 65), true},
		{"leading digit", "1user", true},
		{"empty", "", true},
		{"embedded backtick", "user`name", true},
		{"embedded apostrophe", "user'name", true},
		{"embedded space", "user name", true},
		{"semicolon injection", "x;DROP TABLE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := QuoteIdentifier(tt.ident)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("QuoteIdentifier(%q) succeeded, want error", tt.ident)
				}
				var te *TemplateError
				if !errors.As(err, &te) {
					t.Errorf("error is %T, want *TemplateError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("QuoteIdentifier(%q) failed: %v", tt.ident, err)
			}
			if got != "`"+tt.ident+"`" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestEscapeString(t *testing.T) {
	if got := EscapeString(`it's a \test`); got != `it\'s a \\test` {
		t.Errorf("EscapeString = %q", got)
	}
}

func TestQuoteScope(t *testing.T) {
	tests := []struct {
		db, table, want string
	}{
		{"", "", "*.*"},
		{"*", "events", "*.*"},
		{"analytics", "", "`analytics`.*"},
		{"analytics", "*", "`analytics`.*"},
		{"analytics", "events", "`analytics`.`events`"},
	}
	for _, tt := range tests {
		got, err := QuoteScope(tt.db, tt.table)
		if err != nil {
			t.Fatalf("QuoteScope(%q, %q) failed: %v", tt.db, tt.table, err)
		}
		if got != tt.want {
			t.Errorf("QuoteScope(%q, %q) = %q, want %q", tt.db, tt.table, got, tt.want)
		}
	}
	if _, err := QuoteScope("bad db", "t"); err == nil {
		t.Error("invalid database identifier accepted")
	}
}

func TestGrantPrivilege(t *testing.T) {
	p := Params{
		"privilege":   "SELECT",
		"database":    "analytics",
		"table":       "events",
		"target_type": "user",
		"target_name": "readonly_user",
	}
	stmt, err := Build("grant_privilege", p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	wantSQL := "GRANT SELECT ON `analytics`.`events` TO `readonly_user`"
	if stmt.SQL != wantSQL {
		t.Errorf("SQL = %q, want %q", stmt.SQL, wantSQL)
	}
	wantComp := "REVOKE SELECT ON `analytics`.`events` FROM `readonly_user`"
	if stmt.Compensation != wantComp {
		t.Errorf("Compensation = %q, want %q", stmt.Compensation, wantComp)
	}
	if stmt.Broad {
		t.Error("SELECT should not be flagged broad")
	}
}

func TestGrantPrivilegeAllowList(t *testing.T) {
	p := Params{
		"privilege":   "BACKDOOR",
		"target_type": "user",
		"target_name": "u",
	}
	if _, err := Build("grant_privilege", p); err == nil {
		t.Fatal("privilege outside allow-list accepted")
	}

	// Lowercase input is uppercased before the allow-list check.
	p["privilege"] = "select"
	stmt, err := Build("grant_privilege", p)
	if err != nil {
		t.Fatalf("lowercase privilege rejected: %v", err)
	}
	if !strings.HasPrefix(stmt.SQL, "GRANT SELECT ON *.*") {
		t.Errorf("SQL = %q", stmt.SQL)
	}
}

func TestBroadPrivilegeFlag(t *testing.T) {
	stmt, err := Build("grant_privilege", Params{
		"privilege":   "SYSTEM",
		"target_type": "user",
		"target_name": "ops",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !stmt.Broad {
		t.Error("SYSTEM grant should be flagged broad")
	}
}

func TestCreateUserMasking(t *testing.T) {
	p := Params{
		"username": "svc_reporting",
		"password": "s3cret'pw",
	}
	preview, err := BuildPreview("create_user", p)
	if err != nil {
		t.Fatalf("BuildPreview failed: %v", err)
	}
	if strings.Contains(preview.SQL, "s3cret") {
		t.Errorf("preview leaks password: %q", preview.SQL)
	}
	if !strings.Contains(preview.SQL, "BY '***'") {
		t.Errorf("preview not masked: %q", preview.SQL)
	}

	exec, err := Build("create_user", p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(exec.SQL, `BY 's3cret\'pw'`) {
		t.Errorf("execution SQL = %q", exec.SQL)
	}

	// Masked preview with the password substituted back equals the
	// execution statement.
	roundTrip := strings.Replace(preview.SQL, "'***'", `'s3cret\'pw'`, 1)
	if roundTrip != exec.SQL {
		t.Errorf("preview/execute mismatch:\npreview: %q\nexec:    %q", roundTrip, exec.SQL)
	}
	if exec.Compensation != "DROP USER IF EXISTS `svc_reporting`" {
		t.Errorf("Compensation = %q", exec.Compensation)
	}
}

func TestCreateUserOptionalClauses(t *testing.T) {
	stmt, err := Build("create_user", Params{
		"username":      "etl",
		"password":      "pw",
		"host_ip":       []any{"10.0.0.1", "10.0.0.2"},
		"default_roles": []any{"ingest", "readonly"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "CREATE USER `etl` IDENTIFIED WITH sha256_password BY 'pw'" +
		" HOST IP '10.0.0.1', '10.0.0.2' DEFAULT ROLE `ingest`, `readonly`"
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}
}

func TestNonReversibleOperations(t *testing.T) {
	cases := []struct {
		op     string
		params Params
	}{
		{"alter_user_password", Params{"username": "u", "password": "pw"}},
		{"drop_user", Params{"username": "u"}},
		{"drop_role", Params{"role_name": "r"}},
		{"set_default_roles", Params{"username": "u", "roles": "ALL"}},
		{"alter_settings_profile", Params{"name": "p", "settings": map[string]any{"max_memory_usage": float64(1)}}},
		{"drop_settings_profile", Params{"name": "p"}},
		{"assign_settings_profile", Params{"target_name": "u", "profile_name": "p"}},
		{"alter_quota", Params{"name": "q", "intervals": []any{map[string]any{"duration": "1 hour", "limits": map[string]any{"queries": float64(10)}}}}},
		{"drop_quota", Params{"name": "q"}},
		{"assign_quota", Params{"target_name": "u", "quota_name": "q"}},
		{"alter_row_policy", Params{"name": "pol", "database": "db", "table": "t", "condition": "id = 1"}},
		{"drop_row_policy", Params{"name": "pol", "database": "db", "table": "t"}},
	}
	for _, c := range cases {
		stmt, err := Build(c.op, c.params)
		if err != nil {
			t.Fatalf("Build(%s) failed: %v", c.op, err)
		}
		if stmt.Compensation != "" {
			t.Errorf("%s should be non-reversible, got compensation %q", c.op, stmt.Compensation)
		}
	}
}

func TestReversiblePairs(t *testing.T) {
	cases := []struct {
		op, wantSQL, wantComp string
		params                Params
	}{
		{
			op:       "create_role",
			params:   Params{"role_name": "analyst"},
			wantSQL:  "CREATE ROLE `analyst`",
			wantComp: "DROP ROLE IF EXISTS `analyst`",
		},
		{
			op:       "grant_role",
			params:   Params{"role_name": "analyst", "target_type": "user", "target_name": "bob"},
			wantSQL:  "GRANT `analyst` TO `bob`",
			wantComp: "REVOKE `analyst` FROM `bob`",
		},
		{
			op:       "revoke_role",
			params:   Params{"role_name": "analyst", "target_type": "user", "target_name": "bob"},
			wantSQL:  "REVOKE `analyst` FROM `bob`",
			wantComp: "GRANT `analyst` TO `bob`",
		},
	}
	for _, c := range cases {
		stmt, err := Build(c.op, c.params)
		if err != nil {
			t.Fatalf("Build(%s) failed: %v", c.op, err)
		}
		if stmt.SQL != c.wantSQL {
			t.Errorf("%s SQL = %q, want %q", c.op, stmt.SQL, c.wantSQL)
		}
		if stmt.Compensation != c.wantComp {
			t.Errorf("%s Compensation = %q, want %q", c.op, stmt.Compensation, c.wantComp)
		}
	}
}

func TestMissingRequiredParameter(t *testing.T) {
	_, err := Build("create_role", Params{"role_name": ""})
	if err == nil {
		t.Fatal("empty role_name accepted")
	}
	if err.Error() != "Missing required parameter: role_name" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestUnknownOperation(t *testing.T) {
	_, err := Build("teleport_user", Params{})
	if err == nil {
		t.Fatal("unknown operation accepted")
	}
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Errorf("error is %T, want *TemplateError", err)
	}
	if KnownOperation("teleport_user") {
		t.Error("KnownOperation(teleport_user) = true")
	}
	if !KnownOperation("create_user") {
		t.Error("KnownOperation(create_user) = false")
	}
}

func TestSettingsProfileDeterminism(t *testing.T) {
	p := Params{
		"name": "limited",
		"settings": map[string]any{
			"readonly":         float64(1),
			"max_memory_usage": float64(10000000000),
			"max_threads":      float64(8),
		},
	}
	first, err := Build("create_settings_profile", p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "CREATE SETTINGS PROFILE `limited` SETTINGS " +
		"max_memory_usage = 10000000000, max_threads = 8, readonly = 1"
	if first.SQL != want {
		t.Errorf("SQL = %q, want %q", first.SQL, want)
	}
	for i := 0; i < 10; i++ {
		again, _ := Build("create_settings_profile", p)
		if again.SQL != first.SQL {
			t.Fatal("settings clause ordering is not deterministic")
		}
	}
}

func TestSettingsStringValuesQuoted(t *testing.T) {
	stmt, err := Build("create_settings_profile", Params{
		"name":     "p",
		"settings": map[string]any{"default_format": "JSON'x"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(stmt.SQL, `default_format = 'JSON\'x'`) {
		t.Errorf("SQL = %q", stmt.SQL)
	}
}

func TestQuotaIntervals(t *testing.T) {
	valid := Params{
		"name": "api_quota",
		"intervals": []any{
			map[string]any{
				"duration": "1 hour",
				"limits":   map[string]any{"queries": float64(100), "errors": float64(10)},
			},
			map[string]any{
				"duration": "1 DAY",
				"limits":   map[string]any{"result_rows": float64(1000000)},
			},
		},
	}
	stmt, err := Build("create_quota", valid)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "CREATE QUOTA `api_quota` FOR INTERVAL 1 hour MAX errors = 10, queries = 100" +
		" FOR INTERVAL 1 DAY MAX result_rows = 1000000"
	if stmt.SQL != want {
		t.Errorf("SQL = %q, want %q", stmt.SQL, want)
	}

	invalid := Params{
		"name": "q",
		"intervals": []any{
			map[string]any{"duration": "7 hours", "limits": map[string]any{"queries": float64(1)}},
		},
	}
	if _, err := Build("create_quota", invalid); err == nil {
		t.Error("interval outside allowed set accepted")
	}
}

func TestRowPolicy(t *testing.T) {
	stmt, err := Build("create_row_policy", Params{
		"name":      "tenant_filter",
		"database":  "app",
		"table":     "events",
		"condition": "tenant_id = 42",
		"apply_to":  []any{"analyst"},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	wantSQL := "CREATE ROW POLICY `tenant_filter` ON `app`.`events`" +
		" AS PERMISSIVE FOR SELECT USING tenant_id = 42 TO `analyst`"
	if stmt.SQL != wantSQL {
		t.Errorf("SQL = %q, want %q", stmt.SQL, wantSQL)
	}
	wantComp := "DROP ROW POLICY IF EXISTS `tenant_filter` ON `app`.`events`"
	if stmt.Compensation != wantComp {
		t.Errorf("Compensation = %q, want %q", stmt.Compensation, wantComp)
	}

	restrictive, err := Build("create_row_policy", Params{
		"name":        "deny_all",
		"database":    "app",
		"table":       "events",
		"restrictive": true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(restrictive.SQL, "AS RESTRICTIVE") {
		t.Errorf("SQL = %q", restrictive.SQL)
	}
	if !strings.Contains(restrictive.SQL, "USING 1") {
		t.Errorf("default condition missing: %q", restrictive.SQL)
	}
}

// Every params set the preview builder accepts must also be accepted by
// the execution builder.
func TestPreviewExecuteParity(t *testing.T) {
	cases := []struct {
		op     string
		params Params
	}{
		{"create_user", Params{"username": "u", "password": "pw"}},
		{"alter_user_password", Params{"username": "u", "password": "pw"}},
		{"drop_user", Params{"username": "u"}},
		{"create_role", Params{"role_name": "r"}},
		{"grant_role", Params{"role_name": "r", "target_type": "user", "target_name": "u"}},
		{"set_default_roles", Params{"username": "u", "roles": []any{"r"}}},
		{"grant_privilege", Params{"privilege": "SELECT", "database": "db", "table": "t", "target_type": "user", "target_name": "u"}},
		{"revoke_privilege", Params{"privilege": "INSERT", "target_type": "role", "target_name": "r"}},
		{"create_settings_profile", Params{"name": "p", "settings": map[string]any{"readonly": float64(1)}}},
		{"create_quota", Params{"name": "q", "intervals": []any{map[string]any{"duration": "1 hour", "limits": map[string]any{"queries": float64(5)}}}}},
		{"create_row_policy", Params{"name": "pol", "database": "db", "table": "t"}},
	}
	for _, c := range cases {
		if _, err := BuildPreview(c.op, c.params); err != nil {
			t.Fatalf("BuildPreview(%s) failed: %v", c.op, err)
		}
		if _, err := Build(c.op, c.params); err != nil {
			t.Errorf("Build(%s) rejected preview-accepted params: %v", c.op, err)
		}
	}
}
