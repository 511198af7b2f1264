// Package pipeline calls the hosted speech pipeline that transcribes a
// recording, translates the transcript and synthesizes the translation.
package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

const userAgent = "HelplineServer"

var ErrMissingAPIKey = errors.New("pipeline: api key is not configured")

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "helpline",
	Subsystem: "pipeline",
	Name:      "request_duration_seconds",
	Help:      "Latency of speech pipeline calls.",
	Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
}, []string{"outcome"})

// StatusError is returned when the pipeline answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pipeline: unexpected status %d: %s", e.StatusCode, e.Body)
}

type Options struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // calls per second, <= 0 disables limiting
	Config     Config
	HTTPClient *http.Client
}

type Client struct {
	url     string
	apiKey  string
	config  Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return &Client{
		url:     opts.URL,
		apiKey:  opts.APIKey,
		config:  opts.Config,
		http:    httpClient,
		limiter: limiter,
	}
}

// Result is the decoded output of a successful pipeline call.
type Result struct {
	Transcription string
	Translation   string
	Audio         []byte
}

// Process runs raw audio through the pipeline once.
func (c *Client) Process(ctx context.Context, audio []byte) (*Result, error) {
	raw, err := c.ProcessBase64(ctx, base64.StdEncoding.EncodeToString(audio))
	if err != nil {
		return nil, err
	}

	var response Response
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("pipeline: decoding response: %w", err)
	}

	result := &Result{
		Transcription: response.Transcription(),
		Translation:   response.Translation(),
	}
	if encoded := response.SynthesizedAudio(); encoded != "" {
		result.Audio, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("pipeline: decoding synthesized audio: %w", err)
		}
	}
	return result, nil
}

// ProcessBase64 sends already encoded audio and returns the pipeline's JSON
// body untouched.
func (c *Client) ProcessBase64(ctx context.Context, base64Audio string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	payload, err := json.Marshal(c.config.NewRequest(base64Audio))
	if err != nil {
		return nil, fmt.Errorf("pipeline: marshalling request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pipeline: waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pipeline: creating request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	body, err := c.do(req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	requestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Errorf("pipeline request failed: %v", err)
		return nil, err
	}
	return body, nil
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: sending request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reading response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{StatusCode: res.StatusCode, Body: string(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("pipeline: response is not json")
	}
	return body, nil
}
