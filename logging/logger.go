// Package logging defines the structured logger used by the client packages.
// The default implementation wraps log/slog.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "refresh succeeded", "rotated", true)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}

// Redact returns a short, non-reversible preview of a credential for log output.
func Redact(credential string) string {
	if credential == "" {
		return ""
	}
	if len(credential) <= 8 {
		return "***"
	}
	return credential[:4] + "..." + credential[len(credential)-2:]
}
