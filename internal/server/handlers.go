package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"snowbridge/internal/domain"
)

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

// handleHealthRow answers the external-function health call with the report
// serialized into a single JSON string cell.
func (s *Server) handleHealthRow(w http.ResponseWriter, r *http.Request) {
	report := s.health.HealthReport(r.Context(), "")
	payload, err := json.Marshal(report)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"code":    500,
			"message": err.Error(),
		})
		return
	}
	writeRow(w, string(payload))
}

// handleHealthJSON serves the report as plain JSON for local troubleshooting.
func (s *Server) handleHealthJSON(w http.ResponseWriter, r *http.Request) {
	report := s.health.HealthReport(r.Context(), r.URL.Query().Get("trace_id"))
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleReachability(w http.ResponseWriter, r *http.Request) {
	report, err := s.pinger.Ping(r.Context(), r.URL.Query().Get("trace_id"))
	if err != nil {
		s.log.Error("reachability test failed", "error", err)
		report = map[string]interface{}{"error": err.Error()}
	}
	payload, _ := json.Marshal(report)
	writeRow(w, string(payload))
}

func (s *Server) handleMetricsPush(w http.ResponseWriter, r *http.Request) {
	pushed, err := s.forwarder.ForwardMetrics(r.Context())
	if err != nil {
		s.log.Error("metrics push failed", "error", err)
		payload, _ := json.Marshal(map[string]interface{}{"error": err.Error()})
		writeRow(w, string(payload))
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"pushed_lines": pushed})
	writeRow(w, string(payload))
}

// handleQueryCompleted is the success callback invoked by the async query
// procedure. Row args: (op_id, query_id).
func (s *Server) handleQueryCompleted(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUDF(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code":    400,
			"message": err.Error(),
		})
		return
	}
	row := req.firstRow()
	if row == nil {
		s.log.Info("received empty completion callback")
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	opID := stringCell(row, 1)
	queryID := stringCell(row, 2)
	s.log.Info("query completed callback", "op_id", opID, "query_id", queryID)

	won, err := s.callbacks.HandleCompleted(r.Context(), opID, queryID)
	s.writeCallbackResult(w, opID, won, err)
}

// handleQueryFailed is the failure callback. Row args: (op_id, code,
// message, sql_state).
func (s *Server) handleQueryFailed(w http.ResponseWriter, r *http.Request) {
	req, err := decodeUDF(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"code":    400,
			"message": err.Error(),
		})
		return
	}
	row := req.firstRow()
	if row == nil {
		s.log.Info("received empty failure callback")
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}

	opID := stringCell(row, 1)
	code := intCell(row, 2)
	message := stringCell(row, 3)
	sqlState := stringCell(row, 4)
	s.log.Info("query failed callback", "op_id", opID, "code", code, "sql_state", sqlState)

	won, err := s.callbacks.HandleFailed(r.Context(), opID, code, message, sqlState)
	s.writeCallbackResult(w, opID, won, err)
}

// writeCallbackResult maps the settle outcome to a row the calling SQL block
// can always consume. Unknown and already-settled operations are answered
// with HTTP 200 so the procedure never raises.
func (s *Server) writeCallbackResult(w http.ResponseWriter, opID string, won bool, err error) {
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &notFound):
		writeRow(w, fmt.Sprintf("ignored: unknown operation %s", opID))
	case err != nil:
		s.log.Error("callback not applied", "op_id", opID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"code":    500,
			"message": err.Error(),
		})
	case !won:
		writeRow(w, fmt.Sprintf("ignored: operation %s already settled", opID))
	default:
		writeRow(w, "ok")
	}
}
