package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
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

// Client is a Supabase-style HTTP object store. Session audio chunks and
// combined session files live here; the clone pipeline only ever reads
// whole objects and writes whole objects, so the surface stays small.
type Client interface {
	DownloadObject(ctx context.Context, bucket, key string) ([]byte, error)
	DownloadURL(ctx context.Context, rawURL string) ([]byte, error)
	UploadObject(ctx context.Context, bucket, key, contentType string, data []byte) (string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	PublicURL(bucket, key string) string
}

type Config struct {
	BaseURL    string
	ServiceKey string
	Timeout    time.Duration
	MaxRetries int
}

func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("STORAGE_TIMEOUT_SECONDS", 120)
	maxRetries := envutil.Int("STORAGE_MAX_RETRIES", 4)

	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("SUPABASE_URL")),
		ServiceKey: strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY")),
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

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing SUPABASE_URL")
	}

	cfg.ServiceKey = strings.TrimSpace(cfg.ServiceKey)
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("missing SUPABASE_SERVICE_KEY")
	}

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
		log:        log.With("client", "StorageClient"),
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

func (c *client) DownloadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("storage client unavailable")
	}

	bucket, key, err := cleanObjectRef(bucket, key)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.cfg.BaseURL, url.PathEscape(bucket), escapeKey(key))
	return c.doBytes(ctx, http.MethodGet, endpoint, nil, "", true)
}

// DownloadURL fetches an already-resolved object URL, such as a
// combined_audio_url column value. URLs under our own BaseURL get the
// service auth header; anything else is fetched as-is.
func (c *client) DownloadURL(ctx context.Context, rawURL string) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("storage client unavailable")
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, fmt.Errorf("storage: url required")
	}
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("storage: invalid url %q: %w", rawURL, err)
	}

	authed := strings.HasPrefix(rawURL, c.cfg.BaseURL+"/")
	return c.doBytes(ctx, http.MethodGet, rawURL, nil, "", authed)
}

func (c *client) UploadObject(ctx context.Context, bucket, key, contentType string, data []byte) (string, error) {
	if c == nil || c.httpClient == nil {
		return "", fmt.Errorf("storage client unavailable")
	}

	bucket, key, err := cleanObjectRef(bucket, key)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("storage: empty upload for %s/%s", bucket, key)
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.cfg.BaseURL, url.PathEscape(bucket), escapeKey(key))
	if _, err := c.doBytes(ctx, http.MethodPost, endpoint, data, contentType, true); err != nil {
		return "", err
	}
	return c.PublicURL(bucket, key), nil
}

func (c *client) DeleteObject(ctx context.Context, bucket, key string) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("storage client unavailable")
	}

	bucket, key, err := cleanObjectRef(bucket, key)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.cfg.BaseURL, url.PathEscape(bucket), escapeKey(key))
	_, err = c.doBytes(ctx, http.MethodDelete, endpoint, nil, "", true)
	return err
}

func (c *client) PublicURL(bucket, key string) string {
	bucket = strings.TrimSpace(bucket)
	key = strings.Trim(strings.TrimSpace(key), "/")
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.cfg.BaseURL, url.PathEscape(bucket), escapeKey(key))
}

func cleanObjectRef(bucket, key string) (string, string, error) {
	bucket = strings.TrimSpace(bucket)
	key = strings.Trim(strings.TrimSpace(key), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("storage: bucket required")
	}
	if key == "" {
		return "", "", fmt.Errorf("storage: key required")
	}
	return bucket, key, nil
}

// escapeKey escapes each path segment while keeping the separators, so
// keys like combined/<uuid>.webm stay hierarchical.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ---------- HTTP / retry helpers ----------

type apiError struct {
	ErrorCode string `json:"error"`
	Message   string `json:"message"`
}

type HTTPError struct {
	StatusCode int
	Body       string
	APIError   *apiError
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "storage: <nil error>"
	}
	if e.APIError != nil && strings.TrimSpace(e.APIError.Message) != "" {
		if strings.TrimSpace(e.APIError.ErrorCode) != "" {
			return fmt.Sprintf("storage http %d: %s (error=%s)", e.StatusCode, e.APIError.Message, e.APIError.ErrorCode)
		}
		return fmt.Sprintf("storage http %d: %s", e.StatusCode, e.APIError.Message)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = "<empty body>"
	}
	if len(msg) > 4000 {
		msg = msg[:4000] + "..."
	}
	return fmt.Sprintf("storage http %d: %s", e.StatusCode, msg)
}

func (e *HTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doBytes(ctx context.Context, method, urlStr string, body []byte, contentType string, authed bool) ([]byte, error) {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, resp, err := c.doBytesOnce(ctx, method, urlStr, body, contentType, authed)
		if err == nil {
			return out, nil
		}

		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Storage request retrying",
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

func (c *client) doBytesOnce(ctx context.Context, method, urlStr string, body []byte, contentType string, authed bool) ([]byte, *http.Response, error) {
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
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
	}
	if method == http.MethodPost {
		req.Header.Set("x-upsert", "true")
	}

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
		if json.Unmarshal(raw, &ae) == nil && strings.TrimSpace(ae.Message) != "" {
			return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw), APIError: &ae}
		}
		return nil, resp, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	return raw, resp, nil
}
