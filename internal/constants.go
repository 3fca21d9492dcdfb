package internal

// Structured-log field names shared across internal/httpapi and
// internal/wsession, mirrored from the teacher's queue-header constants
// (internal/constants.go) but repurposed for logging rather than message
// headers, since this gateway has no queue transport.
const (
	LogFieldRemoteAddr = "remote_addr"
	LogFieldUserID     = "user_id"
	LogFieldSessionID  = "session_id"
	LogFieldErrorType  = "error_type"
)
