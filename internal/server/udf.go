package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// udfRequest is the external-function body Snowflake sends to service
// endpoints: {"data": [[rowIndex, arg1, arg2, ...], ...]}.
type udfRequest struct {
	Data [][]interface{} `json:"data"`
}

// firstRow returns the first input row, or nil when the batch is empty.
func (u *udfRequest) firstRow() []interface{} {
	if len(u.Data) == 0 {
		return nil
	}
	return u.Data[0]
}

func decodeUDF(r *http.Request) (*udfRequest, error) {
	var req udfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	return &req, nil
}

// stringCell reads row[i] as a string; non-string cells are stringified.
func stringCell(row []interface{}, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// intCell reads row[i] as an int. JSON numbers arrive as float64; string
// cells holding digits are accepted too.
func intCell(row []interface{}, i int) int {
	if i >= len(row) {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

// writeRow answers an external-function call with a single result row.
func writeRow(w http.ResponseWriter, value interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": [][]interface{}{{0, value}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
