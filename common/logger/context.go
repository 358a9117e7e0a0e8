package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment so a fan-out or gate check carries its
// identity, category and channel into every log line without threading them by hand.
type LogFields struct {
	IdentityHash *string // Pseudonymous author hash, never the native id
	Category     *string // Relay category
	Channel      *string // Endpoint in platform:channel form
	EnvelopeID   *string // Bus envelope snowflake id
	Platform     *string // Source platform name
	Component    string  // Component name, e.g. "wormhole.relay.engine"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.IdentityHash != nil {
		result.IdentityHash = new.IdentityHash
	}
	if new.Category != nil {
		result.Category = new.Category
	}
	if new.Channel != nil {
		result.Channel = new.Channel
	}
	if new.EnvelopeID != nil {
		result.EnvelopeID = new.EnvelopeID
	}
	if new.Platform != nil {
		result.Platform = new.Platform
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Category: logger.Ptr(name)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like message content or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
