// Package storage publishes rendered videos to Supabase Storage so callers
// can fetch them from a CDN instead of the API host.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"syscall"
	"time"
)

const (
	// Rendered videos can be tens of MB.
	uploadTimeout = 180 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

var ErrPublish = errors.New("video publish failed")

type Config struct {
	URL        string
	ServiceKey string
	Bucket     string
	Prefix     string // optional folder inside the bucket
}

type Storage struct {
	cfg        Config
	client     *http.Client
	retryDelay func(attempt int) time.Duration
}

func New(cfg Config) *Storage {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Storage{
		cfg: cfg,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryDelay: retryDelay,
	}
}

// PublishVideo uploads a rendered file under [prefix/]<batchID>/<name> and
// returns its public URL.
func (s *Storage) PublishVideo(ctx context.Context, batchID, localPath string) (string, error) {
	key := s.objectKey(batchID, path.Base(localPath))
	if err := s.upload(ctx, key, localPath, "video/mp4"); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPublish, key, err)
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the CDN address of an object key.
func (s *Storage) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.cfg.URL, s.cfg.Bucket, escapeKey(key))
}

func (s *Storage) objectKey(batchID, name string) string {
	if s.cfg.Prefix == "" {
		return path.Join(batchID, name)
	}
	return path.Join(s.cfg.Prefix, batchID, name)
}

// upload PUTs the file with x-upsert so a re-rendered batch overwrites its
// earlier upload. Transient failures are retried with backoff.
func (s *Storage) upload(ctx context.Context, key, localPath, contentType string) error {
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.cfg.URL, s.cfg.Bucket, escapeKey(key))

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay(attempt)
			log.Printf("[Storage] Retry %d/%d for %s in %v", attempt, maxRetries, key, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := s.put(ctx, endpoint, localPath, contentType)
		if err == nil {
			log.Printf("[Storage] Published %s", key)
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		log.Printf("[Storage] Attempt %d for %s failed: %v", attempt+1, key, err)
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxRetries+1, lastErr)
}

// statusError is a non-2xx reply from the storage API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (s *Storage) put(ctx context.Context, endpoint, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: truncate(strings.TrimSpace(string(body)), 200)}
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}

// retryDelay is base * 2^(attempt-1), capped, plus up to 25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	return time.Duration(delay + delay*0.25*rand.Float64())
}

// escapeKey escapes each path segment; output names carry recipient names.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
