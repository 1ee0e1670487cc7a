package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/theravox/theravox-backend/internal/logger"
	"github.com/theravox/theravox-backend/internal/pkg/ctxutil"
	"github.com/theravox/theravox-backend/internal/pkg/envutil"
	"github.com/theravox/theravox-backend/internal/pkg/httpx"
)

type Client interface {
	AddVoice(ctx context.Context, req AddVoiceRequest) (*Voice, error)
	DeleteVoice(ctx context.Context, voiceID string) error
}

type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("ELEVENLABS_TIMEOUT_SECONDS", 120)
	maxRetries := envutil.Int("ELEVENLABS_MAX_RETRIES", 4)

	return Config{
		APIKey:     strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		BaseURL:    strings.TrimSpace(os.Getenv("ELEVENLABS_BASE_URL")),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing ELEVENLABS_API_KEY")
	}

	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}

	return &client{
		log:        log.With("client", "ElevenLabsClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
	maxRetries int
}

// VoiceSample is one audio file attached to a clone request.
type VoiceSample struct {
	Filename    string
	ContentType string
	Data        []byte
}

type AddVoiceRequest struct {
	Name        string
	Description string
	Labels      map[string]string
	Samples     []VoiceSample
}

type Voice struct {
	VoiceID              string `json:"voice_id,omitempty"`
	RequiresVerification bool   `json:"requires_verification,omitempty"`
}

type deleteStatus struct {
	Status string `json:"status,omitempty"`
}

func (c *client) AddVoice(ctx context.Context, req AddVoiceRequest) (*Voice, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("elevenlabs client unavailable")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("elevenlabs: Name required")
	}

	hasAudio := false
	for _, s := range req.Samples {
		if len(s.Data) > 0 {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return nil, fmt.Errorf("elevenlabs: at least one non-empty sample required")
	}

	body, contentType, err := encodeAddVoiceForm(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v1/voices/add", c.cfg.BaseURL)
	out, err := doMultipart[Voice](c, ctx, http.MethodPost, endpoint, body, contentType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.VoiceID) == "" {
		return nil, fmt.Errorf("elevenlabs: response missing voice_id")
	}
	return out, nil
}

func (c *client) DeleteVoice(ctx context.Context, voiceID string) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("elevenlabs client unavailable")
	}

	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		return fmt.Errorf("elevenlabs: voiceID required")
	}

	endpoint := fmt.Sprintf("%s/v1/voices/%s", c.cfg.BaseURL, url.PathEscape(voiceID))
	_, err := doJSON[deleteStatus](c, ctx, http.MethodDelete, endpoint)
	return err
}

func encodeAddVoiceForm(req AddVoiceRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("name", req.Name); err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(req.Description) != "" {
		if err := w.WriteField("description", req.Description); err != nil {
			return nil, "", err
		}
	}
	if len(req.Labels) > 0 {
		raw, err := json.Marshal(req.Labels)
		if err != nil {
			return nil, "", err
		}
		if err := w.WriteField("labels", string(raw)); err != nil {
			return nil, "", err
		}
	}

	for i, s := range req.Samples {
		if len(s.Data) == 0 {
			continue
		}
		filename := strings.TrimSpace(s.Filename)
		if filename == "" {
			filename = fmt.Sprintf("sample_%d.webm", i)
		}
		contentType := strings.TrimSpace(s.ContentType)
		if contentType == "" {
			contentType = "audio/webm"
		}

		hdr := make(map[string][]string)
		hdr["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="files"; filename=%q`, filename)}
		hdr["Content-Type"] = []string{contentType}

		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(s.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// ---------- HTTP / retry helpers ----------

type apiError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

type HTTPError struct {
	StatusCode int
	Body       string
	APIError   *apiError
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "elevenlabs: <nil error>"
	}
	if e.APIError != nil && strings.TrimSpace(e.APIError.Detail.Message) != "" {
		if strings.TrimSpace(e.APIError.Detail.Status) != "" {
			return fmt.Sprintf("elevenlabs http %d: %s (status=%s)", e.StatusCode, e.APIError.Detail.Message, e.APIError.Detail.Status)
		}
		return fmt.Sprintf("elevenlabs http %d: %s", e.StatusCode, e.APIError.Detail.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 4000 {
		msg = msg[:4000] + "..."
	}
	return fmt.Sprintf("elevenlabs http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func doJSON[T any](c *client, ctx context.Context, method, urlStr string) (*T, error) {
	return do[T](c, ctx, method, urlStr, nil, "")
}

func doMultipart[T any](c *client, ctx context.Context, method, urlStr string, body []byte, contentType string) (*T, error) {
	return do[T](c, ctx, method, urlStr, body, contentType)
}

func do[T any](c *client, ctx context.Context, method, urlStr string, body []byte, contentType string) (*T, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, resp, err := doOnce[T](c, ctx, method, urlStr, body, contentType)
		if err == nil {
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("ElevenLabs request retrying",
			"url", urlStr,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return nil, fmt.Errorf("unreachable retry loop")
}

func doOnce[T any](c *client, ctx context.Context, method, urlStr string, body []byte, contentType string) (*T, *http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, urlStr, reader)
	if err != nil {
		return nil, nil, err
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resp, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && strings.TrimSpace(ae.Detail.Message) != "" {
			return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), APIError: &ae}
		}
		return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out T
	if len(raw) == 0 {
		return &out, resp, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("elevenlabs decode error: %w; raw=%s", err, string(raw))
	}
	return &out, resp, nil
}
