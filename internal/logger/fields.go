package logger

import "log/slog"

// Standard field keys. Use them consistently so logs can be aggregated.
const (
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	KeySessionID   = "session_id"
	KeyMasterID    = "master_id"
	KeyApplication = "application"
	KeyCommID      = "comm_id"
	KeyReason      = "reason"

	KeyObject     = "object"
	KeyMethod     = "method"
	KeyCalls      = "calls"
	KeyCallbackID = "callback_id"
	KeySerializer = "serializer"

	KeyClientIP = "client_ip"
	KeyUsername = "username"

	KeyManager   = "security_manager"
	KeyCacheMode = "cache_mode"
	KeyClass     = "class"

	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeySize       = "size"
	KeyCount      = "count"
)

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Application returns a slog.Attr for an application name
func Application(name string) slog.Attr {
	return slog.String(KeyApplication, name)
}

// Object returns a slog.Attr for a call target
func Object(name string) slog.Attr {
	return slog.String(KeyObject, name)
}

// Method returns a slog.Attr for a method name
func Method(name string) slog.Attr {
	return slog.String(KeyMethod, name)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attr,
// which handlers drop.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
