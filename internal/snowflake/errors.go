package snowflake

import (
	"errors"
	"strings"

	"snowbridge/internal/domain"
)

// Error codes that indicate a problem with the query or its privileges
// rather than a transient warehouse failure. The orchestrator does not retry
// these.
var programmingErrorCodes = map[int]struct{}{
	3001: {}, // insufficient privileges
	3030: {}, // shared database no longer available
	2043: {}, // object does not exist or not authorized
	604:  {}, // statement canceled
	630:  {}, // statement reached its timeout
}

// ClassifyErrorCode maps a Snowflake error code to the error type reported
// in the failure envelope.
func ClassifyErrorCode(code int) string {
	if _, ok := programmingErrorCodes[code]; ok {
		return domain.ErrorTypeProgramming
	}
	return domain.ErrorTypeDatabase
}

// CleanErrorMessage strips the "Uncaught exception of type '...' on line n:"
// prefix the procedure wrapper prepends to the underlying error text.
func CleanErrorMessage(message string) string {
	if idx := strings.Index(message, ":"); idx >= 0 {
		return strings.TrimSpace(message[idx+1:])
	}
	return strings.TrimSpace(message)
}

const (
	codeObjectNotFound = "002003"
	codeFileNotFound   = "253006"
)

// IsNotFound reports whether err is a statement error for a missing object
// or stage file.
func IsNotFound(err error) bool {
	var stmtErr *StatementError
	if !errors.As(err, &stmtErr) {
		return false
	}
	switch strings.TrimLeft(stmtErr.Code, "0") {
	case strings.TrimLeft(codeObjectNotFound, "0"), strings.TrimLeft(codeFileNotFound, "0"):
		return true
	}
	return strings.Contains(strings.ToLower(stmtErr.Message), "does not exist")
}
