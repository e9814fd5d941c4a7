package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/voiceproxy/internal/config"
	"github.com/nikhilbhutani/voiceproxy/internal/synthesis"
)

const secret = "router-test-secret"

type stubClient struct {
	fn     func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error)
	closed *atomic.Int32
}

func (c *stubClient) Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
	return c.fn(ctx, req)
}

func (c *stubClient) Close() error {
	c.closed.Add(1)
	return nil
}

type stubProvider struct {
	fn       func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error)
	acquired atomic.Int32
	closed   atomic.Int32
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Acquire(ctx context.Context) (synthesis.Client, error) {
	p.acquired.Add(1)
	return &stubClient{fn: p.fn, closed: &p.closed}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Speech: config.SynthesisConfig{
			Key:        secret,
			Region:     "eastus",
			VoiceName:  "MyVoiceNeural",
			EndpointID: "endpoint-1",
		},
		Synthesis: config.SynthesisOptions{Timeout: time.Second, OutputFormat: "riff-24khz-16bit-mono-pcm"},
		RateLimit: config.RateLimitConfig{RPS: 1000, Burst: 1000},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
		LogLevel:  "debug",
	}
}

func newTestServer(t *testing.T, cfg *config.Config, p *stubProvider) (http.Handler, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewRouter(cfg, p, logger).Setup(), &logs
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate-voice", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGenerateVoice_Success(t *testing.T) {
	wav := []byte("RIFF....WAVEfmt data....")
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		assert.Equal(t, "Hello world", req.Text.String())
		assert.Equal(t, "MyVoiceNeural", req.Voice.Name)
		assert.Equal(t, "endpoint-1", req.Voice.EndpointID)
		return &synthesis.Audio{Data: wav, MIMEType: "audio/wav"}, nil
	}}
	h, _ := newTestServer(t, testConfig(), p)

	rec := post(h, `{"text": "Hello world"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, wav, rec.Body.Bytes())
	assert.EqualValues(t, 1, p.acquired.Load())
	assert.EqualValues(t, 1, p.closed.Load())
}

func TestGenerateVoice_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty text", `{"text": ""}`, synthesis.CodeTextRequired},
		{"whitespace text", `{"text": "  \n\t "}`, synthesis.CodeTextRequired},
		{"missing field", `{}`, synthesis.CodeTextRequired},
		{"too long", `{"text": "` + strings.Repeat("a", 501) + `"}`, synthesis.CodeTextTooLong},
		{"malformed json", `{"text": `, synthesis.CodeInvalidRequest},
		{"wrong type", `{"text": 42}`, synthesis.CodeInvalidRequest},
		{"trailing data", `{"text": "hi"} junk`, synthesis.CodeInvalidRequest},
		{"two objects", `{"text": "hi"}{"text": "again"}`, synthesis.CodeInvalidRequest},
		{"oversized body", `{"text": "` + strings.Repeat("a", 20<<10) + `"}`, synthesis.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
				t.Error("provider must not be called for invalid input")
				return nil, nil
			}}
			h, _ := newTestServer(t, testConfig(), p)

			rec := post(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body["code"])
			assert.NotEmpty(t, body["message"])
			assert.EqualValues(t, 0, p.acquired.Load())
		})
	}
}

func TestGenerateVoice_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Synthesis.Timeout = 30 * time.Millisecond
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h, logs := newTestServer(t, cfg, p)

	rec := post(h, `{"text": "slow"}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, synthesis.CodeSynthesisTimeout, decodeError(t, rec)["code"])
	assert.EqualValues(t, 1, p.closed.Load(), "client released after timeout")
	assert.Contains(t, logs.String(), "latency incident")
}

func TestGenerateVoice_AuthenticationFailure(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return nil, &synthesis.CancellationError{
			Reason:    "Error",
			ErrorCode: synthesis.CodeAuthenticationFailure,
			Detail:    "WebSocket upgrade failed: Authentication error (401). Please check subscription information",
		}
	}}
	h, logs := newTestServer(t, testConfig(), p)

	rec := post(h, `{"text": "Hello"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, synthesis.CodeConfigurationError, body["code"])
	assert.NotContains(t, body["message"], "401")

	assert.Contains(t, logs.String(), synthesis.CodeAuthenticationFailure)
	assert.Contains(t, logs.String(), "Please check subscription information")
}

func TestGenerateVoice_AuthenticationFailureAsReason(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return nil, &synthesis.CancellationError{Reason: synthesis.CodeAuthenticationFailure, Detail: "401"}
	}}
	h, _ := newTestServer(t, testConfig(), p)

	rec := post(h, `{"text": "Hello"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, synthesis.CodeConfigurationError, decodeError(t, rec)["code"])
}

func TestGenerateVoice_TrailingNewlineAccepted(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return &synthesis.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}, nil
	}}
	h, _ := newTestServer(t, testConfig(), p)

	assert.Equal(t, http.StatusOK, post(h, "{\"text\": \"Hello\"}\n").Code)
}

func TestGenerateVoice_ProviderFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "canceled",
			err:        &synthesis.CancellationError{Reason: "Error", ErrorCode: synthesis.CodeServiceUnavailable, Detail: "503 " + secret},
			wantStatus: http.StatusBadGateway,
			wantCode:   synthesis.CodeSynthesisCanceled,
		},
		{
			name:       "transport",
			err:        io.ErrUnexpectedEOF,
			wantStatus: http.StatusBadGateway,
			wantCode:   synthesis.CodeProviderUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
				return nil, tt.err
			}}
			h, logs := newTestServer(t, testConfig(), p)

			rec := post(h, `{"text": "Hello"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec)["code"])
			assert.NotContains(t, rec.Body.String(), secret)
			assert.NotContains(t, logs.String(), secret)
		})
	}
}

func TestGenerateVoice_OnlyPOST(t *testing.T) {
	h, _ := newTestServer(t, testConfig(), &stubProvider{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/generate-voice", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGenerateVoice_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return &synthesis.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}, nil
	}}
	h, _ := newTestServer(t, cfg, p)

	assert.Equal(t, http.StatusOK, post(h, `{"text": "one"}`).Code)

	rec := post(h, `{"text": "two"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rec)["code"])
	assert.EqualValues(t, 1, p.acquired.Load())
}

func postFrom(h http.Handler, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/generate-voice", strings.NewReader(`{"text": "hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGenerateVoice_RateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return &synthesis.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}, nil
	}}
	h, _ := newTestServer(t, cfg, p)

	assert.Equal(t, http.StatusOK, postFrom(h, "203.0.113.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, postFrom(h, "203.0.113.2").Code)
	assert.EqualValues(t, 1, p.acquired.Load())
}

func TestGenerateVoice_RateLimitTrustsProxyWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustProxy = true
	cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return &synthesis.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}, nil
	}}
	h, _ := newTestServer(t, cfg, p)

	assert.Equal(t, http.StatusOK, postFrom(h, "203.0.113.1").Code)
	assert.Equal(t, http.StatusOK, postFrom(h, "203.0.113.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, postFrom(h, "203.0.113.1").Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, testConfig(), &stubProvider{})

	req := httptest.NewRequest(http.MethodOptions, "/api/generate-voice", nil)
	req.Header.Set("Origin", "https://voice.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://voice.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestHealthAndReadiness(t *testing.T) {
	h, _ := newTestServer(t, testConfig(), &stubProvider{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"config":"ok"}}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	p := &stubProvider{fn: func(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
		return &synthesis.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"}, nil
	}}
	h, _ := newTestServer(t, testConfig(), p)

	post(h, `{"text": "count me"}`)
	post(h, `{"text": ""}`)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `voiceproxy_synthesis_requests_total{outcome="succeeded"} 1`)
	assert.Contains(t, rec.Body.String(), `voiceproxy_validation_rejections_total{code="text_required"} 1`)
}
