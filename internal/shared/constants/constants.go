package constants

const (
	// Environment constants
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	// HTTP Headers
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderUserAgent     = "User-Agent"

	// Content Types
	ContentTypeJSON = "application/json"

	// Context keys
	ContextKeySubjectID = "subject_id"
	ContextKeySessionID = "session_id"
	ContextKeyRequestID = "request_id"

	// Database table names
	TablePresenceSessions = "presence_sessions"
	TableSubjects         = "subjects"
)
