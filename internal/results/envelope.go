package results

import (
	"errors"

	"snowbridge/internal/domain"
	"snowbridge/internal/snowflake"
)

// Envelope is the JSON payload pushed to the orchestrator for one operation.
type Envelope map[string]interface{}

// Success wraps a completed result set in a result envelope.
func Success(traceID string, rs *snowflake.ResultSet) Envelope {
	result := map[string]interface{}{
		"all_results": encodeRows(rs.Columns, rs.Rows),
		"description": describeColumns(rs.Columns),
		"rowcount":    rs.NumRows,
	}
	return Envelope{
		domain.AttrResult:  result,
		domain.AttrTraceID: traceID,
	}
}

// Failure wraps a query failure in an error envelope. The message is
// stripped of its statement context prefix and the error code decides
// whether the orchestrator treats it as a programming or a database error.
func Failure(code int, message, sqlState string) Envelope {
	return Envelope{
		domain.AttrError: snowflake.CleanErrorMessage(message),
		domain.AttrErrorAttrs: map[string]interface{}{
			"errno":    code,
			"sqlstate": sqlState,
		},
		domain.AttrErrorType: snowflake.ClassifyErrorCode(code),
	}
}

// FromError wraps an agent-side failure in an error envelope. Statement
// errors carry their code and sql state; any other error carries only its
// message.
func FromError(err error) Envelope {
	env := Envelope{domain.AttrError: err.Error()}
	var stmtErr *snowflake.StatementError
	if errors.As(err, &stmtErr) {
		code := stmtErr.CodeInt()
		env[domain.AttrErrorAttrs] = map[string]interface{}{
			"errno":    code,
			"sqlstate": stmtErr.SQLState,
		}
		env[domain.AttrErrorType] = snowflake.ClassifyErrorCode(code)
	}
	return env
}

// ConnectionTest is the envelope for an operation that carried no query.
// Reaching this point proves the agent received the event and can push
// responses, which is all a connection test asserts.
func ConnectionTest(traceID string) Envelope {
	return Envelope{
		domain.AttrResult:  map[string]interface{}{"ok": true},
		domain.AttrTraceID: traceID,
	}
}
