package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credentials in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys name attributes that carry credentials. Setup masks them on
// every record, so call sites cannot leak a bearer token or journal DSN by
// logging it under one of these keys.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"secret":        {},
	"hmac_secret":   {},
	"dsn":           {},
	"passphrase":    {},
	"password":      {},
	"private_key":   {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns key with its value masked. Empty values pass through so
// an unset credential stays visible as unset.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr masks sensitive attributes. The JSON handler calls it for the
// members of a group as well, so "auth.token" is caught too.
func redactAttr(attr slog.Attr) slog.Attr {
	if !IsSensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
