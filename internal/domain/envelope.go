package domain

// Result envelope attributes. These keys are the wire contract with the
// orchestrator and must not change.
const (
	AttrResult           = "__mcd_result__"
	AttrError            = "__mcd_error__"
	AttrErrorAttrs       = "__mcd_error_attrs__"
	AttrErrorType        = "__mcd_error_type__"
	AttrTraceID          = "__mcd_trace_id__"
	AttrSizeExceeded     = "__mcd_size_exceeded__"
	AttrResultLocation   = "__mcd_result_location__"
	AttrResultCompressed = "__mcd_result_compressed__"
)

// Tagged value encoding for types JSON cannot carry natively.
const (
	TypeKey = "__type__"
	DataKey = "__data__"

	TypeBytes    = "bytes"
	TypeDatetime = "datetime"
	TypeDate     = "date"
	TypeDecimal  = "decimal"
)

// Error classifications reported in the failure envelope.
const (
	ErrorTypeProgramming = "ProgrammingError"
	ErrorTypeDatabase    = "DatabaseError"
)
