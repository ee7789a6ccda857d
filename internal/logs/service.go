package logs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snowbridge/internal/snowflake"
)

// Limits for the log fetch helper call.
const (
	DefaultFetchLimit    = 1000
	fetchLogsTimeoutSecs = 120
)

// Entry is one container log line in the shape the orchestrator expects.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// LogSource runs the helper call that returns recent container log lines.
// Implemented by snowflake.Gateway.
type LogSource interface {
	ExecuteHelperQuery(ctx context.Context, query string, timeoutSecs int) (*snowflake.ResultSet, error)
}

// Service answers the get_logs operation. Outside local mode the lines come
// from the app's SERVICE_LOGS procedure; in local mode there is no database,
// so the in-memory ring stands in.
type Service struct {
	source LogSource
	ring   *Ring
	local  bool
}

// NewService creates a log service over the helper gateway and the ring.
func NewService(source LogSource, ring *Ring, local bool) *Service {
	return &Service{
		source: source,
		ring:   ring,
		local:  local,
	}
}

// GetLogs returns up to limit recent container log lines.
func (s *Service) GetLogs(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultFetchLimit
	}
	if s.local {
		return s.ringEntries(limit), nil
	}
	call := fmt.Sprintf("CALL APP_PUBLIC.SERVICE_LOGS(%d)", limit)
	rs, err := s.source.ExecuteHelperQuery(ctx, call, fetchLogsTimeoutSecs)
	if err != nil {
		return nil, err
	}
	return parseRows(rs.Rows), nil
}

func (s *Service) ringEntries(limit int) []Entry {
	records := s.ring.Recent(limit)
	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, Entry{
			Timestamp: rec.Time.UTC().Format(time.RFC3339),
			Message:   rec.Message,
		})
	}
	return entries
}

func parseRows(rows [][]interface{}) []Entry {
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		line, ok := row[0].(string)
		if !ok {
			continue
		}
		entries = append(entries, ParseLine(line))
	}
	return entries
}

// ParseLine splits a "[timestamp] message" log line. Lines without the
// timestamp prefix keep the whole text as the message.
func ParseLine(line string) Entry {
	if strings.HasPrefix(line, "[") {
		if ts, msg, ok := strings.Cut(line[1:], "] "); ok {
			return Entry{Timestamp: ts, Message: msg}
		}
	}
	return Entry{Message: line}
}
