package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Event types the stream delivers alongside operations.
const (
	EventTypeWelcome   = "welcome"
	EventTypeHeartbeat = "heartbeat"
)

// Command is one instruction inside an operation. The agent only honors
// cursor executes; everything else is ignored.
type Command struct {
	Target string                     `json:"target"`
	Method string                     `json:"method"`
	Args   []json.RawMessage          `json:"args"`
	Kwargs map[string]json.RawMessage `json:"kwargs"`
}

// OperationRequest is the operation body inside an event. Query operations
// carry either a direct query or a command list; storage, health, and log
// operations carry a type with their parameters flat on the operation
// object, preserved in Raw.
type OperationRequest struct {
	TraceID  string    `json:"trace_id"`
	Type     string    `json:"type"`
	Query    string    `json:"query"`
	Timeout  int       `json:"timeout"`
	Commands []Command `json:"commands"`

	// SizeExceeded means the event carries a placeholder and the full
	// operation body must be downloaded from the orchestrator.
	SizeExceeded bool `json:"__mcd_size_exceeded__"`

	// Response handling options set per operation by the orchestrator.
	ResponseSizeLimitBytes int  `json:"response_size_limit_bytes"`
	CompressResponseFile   bool `json:"compress_response_file"`

	Raw json.RawMessage `json:"-"`
}

func (o *OperationRequest) UnmarshalJSON(data []byte) error {
	type plain OperationRequest
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*o = OperationRequest(decoded)
	o.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Event is a unit of work pushed by the orchestrator. Legacy events carry the
// query inline; current events wrap it in an operation body addressed by an
// operation id and the original request path.
type Event struct {
	Type        string            `json:"type"`
	OperationID string            `json:"operation_id"`
	Path        string            `json:"path"`
	Query       string            `json:"query"`
	Timeout     int               `json:"timeout"`
	Operation   *OperationRequest `json:"operation"`
}

const (
	cursorTarget  = "_cursor"
	executeMethod = "execute"

	timeoutStatementPrefix = "ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS="
)

// ExtractedQuery is the query and timeout pulled out of an event.
type ExtractedQuery struct {
	Query   string
	Timeout int
}

// ExtractQueries returns the queries an event asks the agent to run, in
// command order. Timeout statements are folded into the following query's
// timeout rather than executed. An empty result means the event is a
// connection test.
func (e *Event) ExtractQueries(defaultTimeout int) []ExtractedQuery {
	if e.Query != "" {
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		return []ExtractedQuery{{Query: e.Query, Timeout: timeout}}
	}
	if e.Operation == nil {
		return nil
	}
	if e.Operation.Query != "" {
		timeout := e.Operation.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		return []ExtractedQuery{{Query: e.Operation.Query, Timeout: timeout}}
	}
	var out []ExtractedQuery
	timeout := defaultTimeout
	for _, cmd := range e.Operation.Commands {
		if cmd.Target != cursorTarget || cmd.Method != executeMethod {
			continue
		}
		if len(cmd.Args) == 0 {
			continue
		}
		var query string
		if err := json.Unmarshal(cmd.Args[0], &query); err != nil {
			continue
		}
		if secs, ok := parseTimeoutStatement(query); ok {
			timeout = secs
			continue
		}
		if raw, ok := cmd.Kwargs["timeout"]; ok {
			var t int
			if err := json.Unmarshal(raw, &t); err == nil && t > 0 {
				timeout = t
			}
		}
		out = append(out, ExtractedQuery{Query: query, Timeout: timeout})
		timeout = defaultTimeout
	}
	return out
}

// parseTimeoutStatement recognizes the session timeout statement the
// orchestrator interleaves with queries.
func parseTimeoutStatement(query string) (int, bool) {
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToUpper(trimmed), timeoutStatementPrefix) {
		return 0, false
	}
	value := strings.TrimSpace(trimmed[len(timeoutStatementPrefix):])
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0, false
	}
	return secs, true
}
