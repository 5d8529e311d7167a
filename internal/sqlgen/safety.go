// Package sqlgen builds the forward and compensation DDL for every
// supported RBAC operation. Statements are assembled only from validated
// parameters; raw SQL never crosses the builder boundary.
package sqlgen

import (
	"fmt"
	"regexp"
	"strings"
)

// TemplateError marks invalid or missing builder parameters. It is fatal
// to the step that triggered it.
type TemplateError struct {
	msg string
}

func (e *TemplateError) Error() string { return e.msg }

// NewTemplateError builds a TemplateError with a fixed message.
func NewTemplateError(msg string) error {
	return &TemplateError{msg: msg}
}

func templateErrorf(format string, args ...any) error {
	return &TemplateError{msg: fmt.Sprintf(format, args...)}
}

// Identifiers: letters, digits, underscore only; 1-64 chars, no leading digit.
var safeIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// ValidIdentifier reports whether name is a safe ClickHouse identifier.
func ValidIdentifier(name string) bool {
	return safeIdent.MatchString(name)
}

// QuoteIdentifier wraps a validated identifier in backticks.
func QuoteIdentifier(name string) (string, error) {
	if name == "" || !ValidIdentifier(name) {
		return "", templateErrorf("Invalid identifier: %q", name)
	}
	return "`" + name + "`", nil
}

// EscapeString escapes a value for a single-quoted SQL literal.
func EscapeString(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(value, `'`, `\'`)
}

// QuoteScope builds a safe scope expression: *.*, `db`.* or `db`.`table`.
func QuoteScope(database, table string) (string, error) {
	if database == "" || database == "*" {
		return "*.*", nil
	}
	db, err := QuoteIdentifier(database)
	if err != nil {
		return "", err
	}
	if table == "" || table == "*" {
		return db + ".*", nil
	}
	tbl, err := QuoteIdentifier(table)
	if err != nil {
		return "", err
	}
	return db + "." + tbl, nil
}

// ScopeText is the unquoted scope used for entity-history names.
func ScopeText(database, table string) string {
	if database == "" || database == "*" {
		return "*.*"
	}
	if table == "" || table == "*" {
		return database + ".*"
	}
	return database + "." + table
}

var allowedPrivileges = map[string]struct{}{
	"SELECT": {}, "INSERT": {}, "ALTER": {}, "CREATE": {}, "DROP": {},
	"SHOW": {}, "SHOW DATABASES": {}, "SHOW TABLES": {}, "SHOW COLUMNS": {},
	"CREATE TABLE": {}, "CREATE VIEW": {}, "CREATE DICTIONARY": {},
	"CREATE TEMPORARY TABLE": {}, "CREATE FUNCTION": {},
	"ALTER TABLE": {}, "ALTER VIEW": {},
	"TRUNCATE": {}, "OPTIMIZE": {}, "KILL QUERY": {},
	"DICTGET": {}, "INTROSPECTION": {},
	"SYSTEM": {}, "SOURCES": {}, "CLUSTER": {},
}

// Broad privileges are allowed but tag the preview with a warning so the
// proposal can be flagged as elevated.
var broadPrivileges = map[string]struct{}{
	"ALL": {}, "ALL PRIVILEGES": {}, "GRANT OPTION": {},
	"CREATE": {}, "DROP": {}, "ALTER": {}, "SYSTEM": {},
}

// ValidPrivilege reports whether priv is on the allow-list
// (case-insensitive). Broad privileges are allowed; they additionally
// flag the proposal as elevated.
func ValidPrivilege(priv string) bool {
	upper := strings.ToUpper(priv)
	if _, ok := allowedPrivileges[upper]; ok {
		return true
	}
	_, ok := broadPrivileges[upper]
	return ok
}

// IsBroadPrivilege reports whether priv warrants an elevation warning.
func IsBroadPrivilege(priv string) bool {
	_, ok := broadPrivileges[strings.ToUpper(priv)]
	return ok
}

var validIntervals = map[string]struct{}{
	"1 second": {}, "1 minute": {}, "5 minutes": {}, "15 minutes": {},
	"1 hour": {}, "1 day": {}, "1 week": {}, "1 month": {},
	"1 quarter": {}, "1 year": {},
}

// ValidInterval reports whether a quota interval duration is in the
// closed allowed set (case-insensitive).
func ValidInterval(interval string) bool {
	_, ok := validIntervals[strings.ToLower(interval)]
	return ok
}
