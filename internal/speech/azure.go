package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"

	"github.com/nikhilbhutani/voiceproxy/internal/config"
	"github.com/nikhilbhutani/voiceproxy/internal/synthesis"
)

const (
	moduleName    = "voiceproxy/speech"
	moduleVersion = "v1.0.0"

	ttsPath         = "/cognitiveservices/v1"
	subscriptionHdr = "Ocp-Apim-Subscription-Key"
	outputFormatHdr = "X-Microsoft-OutputFormat"
	traceIDHdr      = "X-ClientTraceId"
	ssmlContentType = "application/ssml+xml"
	defaultLanguage = "en-US"
	defaultFormat   = "riff-24khz-16bit-mono-pcm"
	maxDetailBytes  = 512
	reasonError     = "Error"
	wavMIMEType     = "audio/wav"
	providerName    = "azure-speech"
)

var errClientClosed = errors.New("speech client already closed")

// Provider talks to the Azure Speech text-to-speech REST endpoint of one
// custom voice deployment.
type Provider struct {
	baseURL      string
	endpointID   string
	language     string
	outputFormat string
	keyPolicy    policy.Policy
	newTransport func() *http.Transport
}

type Option func(*Provider)

// WithBaseURL overrides the regional host (for testing or proxies).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithOutputFormat sets the X-Microsoft-OutputFormat value.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithLanguage sets the xml:lang of the SSML envelope.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		if lang != "" {
			p.language = lang
		}
	}
}

// WithTransport sets the factory used to build each client's transport.
func WithTransport(fn func() *http.Transport) Option {
	return func(p *Provider) { p.newTransport = fn }
}

func NewProvider(cfg config.SynthesisConfig, opts ...Option) *Provider {
	p := &Provider{
		baseURL:      fmt.Sprintf("https://%s.voice.speech.microsoft.com", cfg.Region),
		endpointID:   cfg.EndpointID,
		language:     defaultLanguage,
		outputFormat: defaultFormat,
		newTransport: func() *http.Transport {
			return http.DefaultTransport.(*http.Transport).Clone()
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.keyPolicy = runtime.NewKeyCredentialPolicy(azcore.NewKeyCredential(cfg.Key), subscriptionHdr, &runtime.KeyCredentialPolicyOptions{
		InsecureAllowCredentialWithHTTP: strings.HasPrefix(p.baseURL, "http://"),
	})
	return p
}

func (p *Provider) Name() string { return providerName }

// Acquire builds a client with its own connection pool. Nothing is shared
// with other calls except the read-only credential.
func (p *Provider) Acquire(ctx context.Context) (synthesis.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	transport := p.newTransport()
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{p.keyPolicy},
	}, &policy.ClientOptions{
		Transport: &http.Client{Transport: transport},
		Retry:     policy.RetryOptions{MaxRetries: -1},
	})
	return &client{provider: p, pipeline: pl, transport: transport}, nil
}

type client struct {
	provider  *Provider
	pipeline  runtime.Pipeline
	transport *http.Transport
	closed    atomic.Bool
}

// Close may run while an abandoned Synthesize is still in flight.
func (c *client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.transport.CloseIdleConnections()
	return nil
}

func (c *client) Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Audio, error) {
	if c.closed.Load() {
		return nil, errClientClosed
	}

	body, err := BuildSSML(c.provider.language, req.Voice.Name, req.Text.String())
	if err != nil {
		return nil, fmt.Errorf("build ssml: %w", err)
	}

	endpoint := c.provider.baseURL + ttsPath + "?deploymentId=" + url.QueryEscape(req.Voice.EndpointID)
	httpReq, err := runtime.NewRequest(ctx, http.MethodPost, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Raw().Header.Set(outputFormatHdr, c.provider.outputFormat)
	if req.TraceID != "" {
		httpReq.Raw().Header.Set(traceIDHdr, req.TraceID)
	}
	if err := httpReq.SetBody(streaming.NopCloser(bytes.NewReader(body)), ssmlContentType); err != nil {
		return nil, fmt.Errorf("set body: %w", err)
	}

	resp, err := c.pipeline.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}

	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, cancellationFor(resp)
	}

	audio, err := runtime.Payload(resp)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	return &synthesis.Audio{Data: audio, MIMEType: mimeTypeFor(c.provider.outputFormat)}, nil
}

// cancellationFor turns a non-200 reply into the service-side failure it
// represents.
func cancellationFor(resp *http.Response) *synthesis.CancellationError {
	payload, _ := runtime.Payload(resp)
	if len(payload) > maxDetailBytes {
		payload = payload[:maxDetailBytes]
	}

	detail := fmt.Sprintf("status %d", resp.StatusCode)
	var respErr *azcore.ResponseError
	if errors.As(runtime.NewResponseError(resp), &respErr) && respErr.ErrorCode != "" {
		detail += " error_code=" + respErr.ErrorCode
	}
	if len(payload) > 0 {
		detail += ": " + strings.TrimSpace(string(payload))
	}

	return &synthesis.CancellationError{
		Reason:    reasonError,
		ErrorCode: errorCodeFor(resp.StatusCode),
		Detail:    detail,
	}
}

func errorCodeFor(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return synthesis.CodeAuthenticationFailure
	case status == http.StatusForbidden:
		return synthesis.CodeForbidden
	case status == http.StatusTooManyRequests:
		return synthesis.CodeTooManyRequests
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return synthesis.CodeServiceTimeout
	case status == http.StatusServiceUnavailable:
		return synthesis.CodeServiceUnavailable
	case status >= http.StatusInternalServerError:
		return synthesis.CodeServiceError
	default:
		return synthesis.CodeBadRequest
	}
}

func mimeTypeFor(format string) string {
	switch {
	case strings.HasPrefix(format, "riff-"):
		return wavMIMEType
	case strings.HasSuffix(format, "-mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "ogg-"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
