// Package results builds the result and error envelopes pushed back to the
// orchestrator, including typed value encoding and storage offload for
// oversized payloads.
package results

import (
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"snowbridge/internal/domain"
	"snowbridge/internal/snowflake"
)

// typeCodes maps statement API column types to the driver-style type codes
// the orchestrator's result parser expects.
var typeCodes = map[string]int{
	"fixed":         0,
	"real":          1,
	"text":          2,
	"date":          3,
	"timestamp":     4,
	"variant":       5,
	"timestamp_ltz": 6,
	"timestamp_tz":  7,
	"timestamp_ntz": 8,
	"object":        9,
	"array":         10,
	"binary":        11,
	"time":          12,
	"boolean":       13,
}

// describeColumns renders the seven-field column descriptors the envelope
// carries alongside the rows.
func describeColumns(columns []snowflake.ColumnType) []interface{} {
	description := make([]interface{}, 0, len(columns))
	for _, col := range columns {
		code := typeCodes[strings.ToLower(col.Type)]
		var precision, scale interface{}
		if col.Precision != nil {
			precision = *col.Precision
		}
		if col.Scale != nil {
			scale = *col.Scale
		}
		description = append(description, []interface{}{
			col.Name, code, nil, nil, precision, scale, col.Nullable,
		})
	}
	return description
}

// encodeRows converts statement API rows into envelope rows. JSON cannot
// carry bytes, timestamps, dates, or exact decimals, so those are wrapped in
// tagged values the orchestrator unwraps on receipt.
func encodeRows(columns []snowflake.ColumnType, rows [][]interface{}) []interface{} {
	encoded := make([]interface{}, 0, len(rows))
	for _, row := range rows {
		out := make([]interface{}, len(row))
		for i, value := range row {
			if i < len(columns) {
				out[i] = encodeValue(columns[i], value)
			} else {
				out[i] = value
			}
		}
		encoded = append(encoded, out)
	}
	return encoded
}

func encodeValue(col snowflake.ColumnType, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	raw, ok := value.(string)
	if !ok {
		return value
	}

	switch strings.ToLower(col.Type) {
	case "boolean":
		return raw == "true"
	case "fixed":
		if col.Scale != nil && *col.Scale > 0 {
			return tagged(domain.TypeDecimal, raw)
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		return tagged(domain.TypeDecimal, raw)
	case "real":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case "binary":
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return raw
		}
		return tagged(domain.TypeBytes, base64.StdEncoding.EncodeToString(decoded))
	case "date":
		days, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return raw
		}
		return tagged(domain.TypeDate, time.Unix(days*86400, 0).UTC().Format("2006-01-02"))
	case "time":
		return formatTimeOfDay(raw)
	case "timestamp", "timestamp_ltz", "timestamp_ntz", "timestamp_tz":
		return encodeTimestamp(raw)
	default:
		return raw
	}
}

func tagged(typeName, data string) map[string]interface{} {
	return map[string]interface{}{
		domain.TypeKey: typeName,
		domain.DataKey: data,
	}
}

// encodeTimestamp parses the API's "seconds.fraction" epoch form, with an
// optional trailing offset field for TIMESTAMP_TZ, and renders ISO 8601 UTC.
func encodeTimestamp(raw string) interface{} {
	epoch := raw
	if idx := strings.IndexByte(raw, ' '); idx >= 0 {
		epoch = raw[:idx]
	}
	sec, nsec, err := splitEpoch(epoch)
	if err != nil {
		return raw
	}
	return tagged(domain.TypeDatetime, time.Unix(sec, nsec).UTC().Format("2006-01-02T15:04:05.000000Z"))
}

// formatTimeOfDay parses "seconds.fraction" since midnight into HH:MM:SS.
func formatTimeOfDay(raw string) interface{} {
	sec, _, err := splitEpoch(raw)
	if err != nil || sec < 0 || sec >= 86400 {
		return raw
	}
	return time.Unix(sec, 0).UTC().Format("15:04:05")
}

func splitEpoch(raw string) (sec int64, nsec int64, err error) {
	whole, frac, _ := strings.Cut(raw, ".")
	sec, err = strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if frac != "" {
		// Right-pad to nanoseconds.
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nsec, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	return sec, nsec, nil
}
