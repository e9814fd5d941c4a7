package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/voiceproxy/internal/synthesis"
)

// maxBodyBytes comfortably fits 500 characters of any script plus JSON
// escaping.
const maxBodyBytes = 16 << 10

var errTrailingData = errors.New("request body must contain a single JSON object")

// Synthesizer runs one synthesis attempt.
type Synthesizer interface {
	Synthesize(ctx context.Context, text synthesis.ValidatedText) synthesis.Outcome
}

// RejectionCounter is told about every request rejected before synthesis.
type RejectionCounter interface {
	Rejected(code string)
}

type generateRequest struct {
	Text string `json:"text"`
}

type VoiceHandler struct {
	synth      Synthesizer
	classifier *synthesis.Classifier
	rejections RejectionCounter
	logger     *slog.Logger
}

func NewVoiceHandler(synth Synthesizer, classifier *synthesis.Classifier, rejections RejectionCounter, logger *slog.Logger) *VoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceHandler{synth: synth, classifier: classifier, rejections: rejections, logger: logger}
}

// Generate turns {"text": "..."} into WAV audio.
func (h *VoiceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req generateRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		h.reject(w, err)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		h.reject(w, errTrailingData)
		return
	}

	text, err := synthesis.Validate(req.Text)
	if err != nil {
		h.reject(w, err)
		return
	}

	out := h.synth.Synthesize(r.Context(), text)
	errResp, _ := h.classifier.Classify(out)
	resp := synthesis.Format(out, errResp)

	h.logger.Info("voice request handled",
		"request_id", chimiddleware.GetReqID(r.Context()),
		"trace_id", out.TraceID,
		"state", out.Terminal(),
		"chars", text.Len(),
		"status", resp.Status,
		"bytes", len(resp.Body),
	)

	if err := resp.WriteTo(w); err != nil {
		h.logger.Debug("write response", "error", err)
	}
}

func (h *VoiceHandler) reject(w http.ResponseWriter, err error) {
	errResp := h.classifier.ClassifyValidation(err)
	if h.rejections != nil {
		h.rejections.Rejected(errResp.Code)
	}
	synthesis.FormatError(errResp).WriteTo(w)
}
