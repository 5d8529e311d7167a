package clickhouse

import (
	"errors"
	"strings"
)

// Error codes produced by Classify.
const (
	CodeAuthFailed        = "AUTH_FAILED"
	CodeDNSError          = "DNS_ERROR"
	CodeConnectionRefused = "CONNECTION_REFUSED"
	CodeTimeout           = "TIMEOUT"
	CodeTLSError          = "TLS_ERROR"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeUnknown           = "UNKNOWN"
)

var errorMessages = map[string]string{
	CodeAuthFailed:        "Authentication failed: check username and password.",
	CodeDNSError:          "Could not resolve host: verify the hostname is correct.",
	CodeConnectionRefused: "Connection refused: ensure ClickHouse is running and the port is correct.",
	CodeTimeout:           "Connection timed out: the server may be unreachable or the timeout is too low.",
	CodeTLSError:          "TLS/SSL handshake failed: verify the protocol and that the server supports TLS.",
	CodePermissionDenied:  "Permission denied: the user does not have access to the requested resource.",
	CodeUnknown:           "An unexpected error occurred.",
}

var suggestions = map[string][]string{
	CodeAuthFailed: {
		"Verify the ClickHouse username and password are correct.",
		"Check that the user exists in system.users.",
		"Ensure the user is not restricted by host IP.",
	},
	CodeDNSError: {
		"Double-check the hostname for typos.",
		"Ensure the host is reachable from this network.",
		"Try using an IP address instead of a hostname.",
	},
	CodeConnectionRefused: {
		"Confirm ClickHouse is running on the specified host and port.",
		"Check firewall rules allow access to the port.",
		"Verify the protocol matches the server configuration (HTTP vs HTTPS).",
	},
	CodeTimeout: {
		"Increase the connection timeout in advanced settings.",
		"Check network connectivity to the host.",
		"Verify there are no firewalls dropping packets.",
	},
	CodeTLSError: {
		"Switch protocol to HTTPS if the server requires TLS.",
		"Switch protocol to HTTP if the server does not support TLS.",
		"Verify the server's TLS certificate is valid.",
	},
	CodePermissionDenied: {
		"Check GRANT statements for this user.",
		"Ensure the user has at least SELECT permission on system tables.",
	},
	CodeUnknown: {
		"Check ClickHouse server logs for more details.",
		"Verify the connection parameters are correct.",
	},
}

// Suggestions returns the operator-actionable hints for an error code.
func Suggestions(code string) []string {
	if s, ok := suggestions[code]; ok {
		return s
	}
	return suggestions[CodeUnknown]
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Classify maps a connection or query error to (code, readable message).
// Rules are ordered; the first match wins. Matching is case-insensitive
// over both the error text and, for HTTP errors, the response body.
func Classify(err error) (string, string) {
	msg := strings.ToLower(err.Error())

	if containsAny(msg, "name or service not known", "nodename nor servname",
		"getaddrinfo failed", "no address associated", "no such host") {
		return CodeDNSError, errorMessages[CodeDNSError]
	}
	if containsAny(msg, "connection refused", "connect call failed") {
		return CodeConnectionRefused, errorMessages[CodeConnectionRefused]
	}
	if containsAny(msg, "timed out", "timeout", "context deadline exceeded") {
		return CodeTimeout, errorMessages[CodeTimeout]
	}
	if containsAny(msg, "ssl", "tls", "certificate", "handshake") {
		return CodeTLSError, errorMessages[CodeTLSError]
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		body := strings.ToLower(statusErr.Body)
		if statusErr.StatusCode == 401 || statusErr.StatusCode == 403 ||
			containsAny(body, "authentication", "wrong password", "incorrect user") {
			return CodeAuthFailed, errorMessages[CodeAuthFailed]
		}
		if containsAny(body, "access denied", "not enough privileges") {
			return CodePermissionDenied, errorMessages[CodePermissionDenied]
		}
	}

	if containsAny(msg, "authentication", "wrong password", "incorrect user") {
		return CodeAuthFailed, errorMessages[CodeAuthFailed]
	}
	if containsAny(msg, "access denied", "not enough privileges") {
		return CodePermissionDenied, errorMessages[CodePermissionDenied]
	}
	return CodeUnknown, errorMessages[CodeUnknown]
}
