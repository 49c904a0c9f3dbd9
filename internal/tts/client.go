package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/harrison/speak/internal/config"
	"github.com/harrison/speak/internal/models"
)

const backendHTTP = "http"

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

// speechRequest is the JSON body for TTS synthesis requests.
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	LangCode       string  `json:"lang_code,omitempty"`
}

// voicesResponse is the body returned by GET /v1/audio/voices.
type voicesResponse struct {
	Voices []string `json:"voices"`
}

// Client synthesizes speech through an OpenAI-compatible speech server
// (for example Kokoro-FastAPI).
type Client struct {
	config     config.SynthesisConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new TTS client with the given configuration.
// The HTTP client timeout is set from the config. A positive
// RequestsPerSecond enables client-side rate limiting.
func NewClient(cfg config.SynthesisConfig) *Client {
	c := &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// CheckHealth reports whether the speech server answers its root path with 200 OK.
func (c *Client) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/"), nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Synthesize posts msg to /v1/audio/speech and returns the WAV body.
func (c *Client) Synthesize(ctx context.Context, msg models.QueueMessage) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Backend: backendHTTP, Op: "synthesize", Err: err}
		}
	}

	body, err := json.Marshal(speechRequest{
		Model:          c.config.Model,
		Input:          msg.Text,
		Voice:          msg.Voice,
		ResponseFormat: "wav",
		Speed:          msg.Speed,
		LangCode:       msg.Lang,
	})
	if err != nil {
		return nil, &Error{Backend: backendHTTP, Op: "synthesize", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/audio/speech"), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Backend: backendHTTP, Op: "synthesize", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	audio, err := c.do(req)
	if err != nil {
		return nil, &Error{Backend: backendHTTP, Op: "synthesize", Err: err}
	}
	if len(audio) == 0 {
		return nil, &Error{Backend: backendHTTP, Op: "synthesize", Err: errors.New("empty audio response")}
	}
	return audio, nil
}

// ListVoices fetches the voice names the server offers.
func (c *Client) ListVoices(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1/audio/voices"), nil)
	if err != nil {
		return nil, &Error{Backend: backendHTTP, Op: "list voices", Err: err}
	}

	data, err := c.do(req)
	if err != nil {
		return nil, &Error{Backend: backendHTTP, Op: "list voices", Err: err}
	}

	var resp voicesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &Error{Backend: backendHTTP, Op: "list voices", Err: fmt.Errorf("decode response: %w", err)}
	}
	return resp.Voices, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("status %d after %v: %s", resp.StatusCode, time.Since(start).Round(time.Millisecond), strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}
