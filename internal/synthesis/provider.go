package synthesis

import (
	"context"
	"fmt"
)

// Cancellation error codes reported by the speech service.
const (
	CodeAuthenticationFailure = "AuthenticationFailure"
	CodeForbidden             = "Forbidden"
	CodeBadRequest            = "BadRequest"
	CodeTooManyRequests       = "TooManyRequests"
	CodeServiceTimeout        = "ServiceTimeout"
	CodeServiceError          = "ServiceError"
	CodeServiceUnavailable    = "ServiceUnavailable"
	CodeRuntimeError          = "RuntimeError"
)

// Voice identifies the deployed custom voice.
type Voice struct {
	Name       string
	EndpointID string
}

// Audio is a completed synthesis result.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Provider hands out clients. Each Client belongs to exactly one call and
// must be closed by it.
type Provider interface {
	Name() string
	Acquire(ctx context.Context) (Client, error)
}

// Client issues a single synthesis request.
//
// Synthesize returns *Audio on success, a *CancellationError when the
// service rejected or aborted synthesis, and any other error when the
// transport failed.
type Client interface {
	Synthesize(ctx context.Context, req Request) (*Audio, error)
	Close() error
}

// Request is what a Client sends upstream.
type Request struct {
	Text    ValidatedText
	Voice   Voice
	TraceID string
}

// CancellationError is a synthesis-side failure reported by the provider,
// as opposed to a failure to reach it.
type CancellationError struct {
	Reason    string
	ErrorCode string
	Detail    string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("synthesis canceled: reason=%s code=%s: %s", e.Reason, e.ErrorCode, e.Detail)
}

// Unauthorized reports whether the service rejected the credential or the
// deployment access. Providers may carry the code in either field.
func (e *CancellationError) Unauthorized() bool {
	for _, code := range []string{e.ErrorCode, e.Reason} {
		if code == CodeAuthenticationFailure || code == CodeForbidden {
			return true
		}
	}
	return false
}
