package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/voiceproxy/internal/config"
)

// ReasonCanceledByCaller marks an attempt abandoned because the request
// context ended before the budget did.
const ReasonCanceledByCaller = "CanceledByCaller"

// Recorder observes attempts. It must be safe for concurrent use.
type Recorder interface {
	SynthesisStarted()
	SynthesisFinished(kind Kind, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SynthesisStarted() {}
func (nopRecorder) SynthesisFinished(Kind, time.Duration) {}

// Orchestrator runs exactly one provider call per request under a fixed
// budget and reduces whatever happens to an Outcome.
type Orchestrator struct {
	provider Provider
	voice    Voice
	budget   time.Duration
	logger   *slog.Logger
	recorder Recorder
}

type OrchestratorOption func(*Orchestrator)

func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = r }
}

func NewOrchestrator(cfg config.SynthesisConfig, provider Provider, budget time.Duration, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		voice:    Voice{Name: cfg.VoiceName, EndpointID: cfg.EndpointID},
		budget:   budget,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Budget returns the per-call time limit.
func (o *Orchestrator) Budget() time.Duration { return o.budget }

type callResult struct {
	audio *Audio
	err   error
}

// Synthesize never retries. The provider client is closed before it
// returns, on every path. A result that arrives after the budget or the
// caller's context has ended is discarded.
func (o *Orchestrator) Synthesize(ctx context.Context, text ValidatedText) (out Outcome) {
	traceID := uuid.NewString()
	start := time.Now()
	o.recorder.SynthesisStarted()
	defer func() {
		out.TraceID = traceID
		o.recorder.SynthesisFinished(out.Kind, time.Since(start))
	}()

	callCtx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()

	client, err := o.provider.Acquire(callCtx)
	if err != nil {
		if callCtx.Err() != nil {
			return o.abandoned(ctx)
		}
		return Outcome{Kind: TransportFailed, Detail: fmt.Sprintf("acquire %s client: %v", o.provider.Name(), err)}
	}
	defer func() {
		if err := client.Close(); err != nil {
			o.logger.Warn("release provider client", "provider", o.provider.Name(), "trace_id", traceID, "error", err)
		}
	}()

	done := make(chan callResult, 1)
	go func() {
		audio, err := client.Synthesize(callCtx, Request{Text: text, Voice: o.voice, TraceID: traceID})
		done <- callResult{audio: audio, err: err}
	}()

	select {
	case res := <-done:
		if callCtx.Err() != nil {
			return o.abandoned(ctx)
		}
		return o.fromResult(res)
	case <-callCtx.Done():
		cancel()
		return o.abandoned(ctx)
	}
}

// abandoned reports a caller cancel as Canceled. Any expired deadline,
// ours or the caller's, is a timeout.
func (o *Orchestrator) abandoned(parent context.Context) Outcome {
	if err := parent.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: Canceled, Reason: ReasonCanceledByCaller, Detail: err.Error()}
	}
	return Outcome{Kind: TimedOut, Detail: fmt.Sprintf("no result from %s within %s", o.provider.Name(), o.budget)}
}

func (o *Orchestrator) fromResult(res callResult) Outcome {
	if res.err == nil {
		if res.audio == nil || len(res.audio.Data) == 0 {
			return Outcome{Kind: Canceled, Reason: "Error", ErrorCode: CodeRuntimeError, Detail: "provider returned no audio"}
		}
		return Outcome{Kind: Succeeded, Audio: res.audio.Data, MIMEType: res.audio.MIMEType}
	}

	var cancelErr *CancellationError
	if errors.As(res.err, &cancelErr) {
		kind := Canceled
		if cancelErr.Unauthorized() {
			kind = Unauthorized
		}
		return Outcome{Kind: kind, Reason: cancelErr.Reason, ErrorCode: cancelErr.ErrorCode, Detail: cancelErr.Detail}
	}

	return Outcome{Kind: TransportFailed, Detail: res.err.Error()}
}
