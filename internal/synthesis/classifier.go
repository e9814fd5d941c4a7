package synthesis

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Error codes returned to callers.
const (
	CodeTextRequired        = "text_required"
	CodeTextTooLong         = "text_too_long"
	CodeInvalidRequest      = "invalid_request"
	CodeSynthesisTimeout    = "synthesis_timeout"
	CodeSynthesisCanceled   = "synthesis_canceled"
	CodeProviderUnreachable = "provider_unreachable"
	CodeConfigurationError  = "configuration_error"
)

// ErrorResponse is safe to send to any caller.
type ErrorResponse struct {
	Status  int
	Code    string
	Message string
}

var (
	respTextRequired = ErrorResponse{http.StatusBadRequest, CodeTextRequired, "Please enter some text to synthesize."}
	respTextTooLong  = ErrorResponse{http.StatusBadRequest, CodeTextTooLong, "Text must be 500 characters or fewer."}
	respInvalid      = ErrorResponse{http.StatusBadRequest, CodeInvalidRequest, `Request body must be a JSON object with a "text" field.`}
	respTimeout      = ErrorResponse{http.StatusGatewayTimeout, CodeSynthesisTimeout, "Voice synthesis took too long. Please try again."}
	respCanceled     = ErrorResponse{http.StatusBadGateway, CodeSynthesisCanceled, "Voice synthesis failed. Please try again later."}
	respUnreachable  = ErrorResponse{http.StatusBadGateway, CodeProviderUnreachable, "The voice service could not be reached. Please try again later."}
	respConfig       = ErrorResponse{http.StatusInternalServerError, CodeConfigurationError, "The voice service is not configured correctly."}
)

const redacted = "[REDACTED]"

// Classifier is the only place that decides what a caller sees. Messages
// come from a fixed table; diagnostics go to the log with the credential
// scrubbed.
type Classifier struct {
	logger *slog.Logger
	secret string
}

func NewClassifier(logger *slog.Logger, secret string) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger, secret: secret}
}

// Classify returns false for Succeeded, which has no error response.
func (c *Classifier) Classify(out Outcome) (ErrorResponse, bool) {
	attrs := []any{
		"outcome", out.Kind.String(),
		"trace_id", out.TraceID,
	}

	switch out.Kind {
	case Succeeded:
		return ErrorResponse{}, false
	case TimedOut:
		c.logger.Warn("synthesis latency incident", append(attrs, "detail", c.Redact(out.Detail))...)
		return respTimeout, true
	case Canceled:
		attrs = append(attrs, "reason", c.Redact(out.Reason), "error_code", out.ErrorCode, "detail", c.Redact(out.Detail))
		if out.Reason == ReasonCanceledByCaller {
			c.logger.Info("synthesis abandoned by caller", attrs...)
		} else {
			c.logger.Error("synthesis canceled by provider", attrs...)
		}
		return respCanceled, true
	case Unauthorized:
		c.logger.Error("synthesis rejected credentials",
			append(attrs, "reason", c.Redact(out.Reason), "error_code", out.ErrorCode, "detail", c.Redact(out.Detail))...)
		return respConfig, true
	case TransportFailed:
		c.logger.Error("synthesis provider unreachable", append(attrs, "detail", c.Redact(out.Detail))...)
		return respUnreachable, true
	default:
		c.logger.Error("unclassified synthesis outcome", append(attrs, "detail", c.Redact(out.Detail))...)
		return respUnreachable, true
	}
}

// ClassifyValidation maps request problems. Anything that is not a
// ValidationError is treated as a malformed body.
func (c *Classifier) ClassifyValidation(err error) ErrorResponse {
	var resp ErrorResponse
	switch {
	case errors.Is(err, ErrEmptyText):
		resp = respTextRequired
	case errors.Is(err, ErrTextTooLong):
		resp = respTextTooLong
	default:
		resp = respInvalid
	}
	c.logger.Debug("request rejected", "code", resp.Code, "error", err)
	return resp
}

// Redact removes the configured credential from s.
func (c *Classifier) Redact(s string) string {
	if c.secret == "" {
		return s
	}
	return strings.ReplaceAll(s, c.secret, redacted)
}
