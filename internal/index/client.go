// Package index is a client for a Python package index: it mints
// short-lived upload tokens from identity tokens, uploads distribution
// files through the legacy upload API, and checks the simple index for
// files that were already released.
//
// Transient upload failures (429, 5xx) are retried with exponential
// backoff; a Retry-After header from the server stretches the next
// wait. Everything else fails immediately. Tokens are carried in
// request credentials only and never appear in errors or logs.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/slipway-ci/slipway/internal/artifact"
	"github.com/slipway-ci/slipway/internal/distcheck"
)

const (
	defaultHTTPTimeout = 5 * time.Minute
	defaultMaxRetries  = 4

	userAgent = "slipway"

	// tokenUser is the fixed basic-auth user for API-token uploads.
	tokenUser = "__token__"
)

// ErrAlreadyExists reports that the index already has a file with this
// name. The publish step treats it as success when skip-existing is on.
var ErrAlreadyExists = errors.New("file already exists on the index")

// StatusError is an upload failure carrying the HTTP status and the
// server's message body.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("index returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("index returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure is worth retrying: rate
// limiting and server-side errors are, everything else is not.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client talks to one package index.
type Client struct {
	uploadURL string
	simpleURL string
	tokenURL  string
	client    *http.Client

	// maxRetries bounds upload attempts beyond the first.
	maxRetries uint64

	// retryInterval seeds the exponential backoff. Tests shrink it.
	retryInterval time.Duration
}

// NewClient creates a Client for the given endpoints.
// uploadURL receives multipart file uploads, simpleURL serves the
// PEP 503 project listing, and tokenURL exchanges identity tokens
// for upload tokens.
func NewClient(uploadURL, simpleURL, tokenURL string) *Client {
	return &Client{
		uploadURL:     uploadURL,
		simpleURL:     simpleURL,
		tokenURL:      tokenURL,
		client:        &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries:    defaultMaxRetries,
		retryInterval: time.Second,
	}
}

// SetClient replaces the HTTP client. Useful for tests and custom transports.
func (c *Client) SetClient(client *http.Client) {
	c.client = client
}

// MintToken exchanges a workload identity token for a short-lived
// upload token. The identity token is sent in the request body only;
// neither token ever appears in errors.
func (c *Client) MintToken(ctx context.Context, identityToken string) (string, error) {
	if identityToken == "" {
		return "", errors.New("identity token is empty")
	}

	body, err := json.Marshal(map[string]string{"token": identityToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode mint-token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create mint-token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("mint-token request failed: %w", err)
	}
	defer resp.Body.Close()

	var minted struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&minted); err != nil {
		return "", fmt.Errorf("failed to decode mint-token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Message: minted.Message}
	}
	if minted.Token == "" {
		return "", errors.New("mint-token response contained no token")
	}
	return minted.Token, nil
}

// Upload posts one distribution file to the index, authenticated with
// an upload token. Transient failures are retried; ErrAlreadyExists is
// returned when the index already holds a file with this name.
func (c *Client) Upload(ctx context.Context, token string, art artifact.Artifact, meta *distcheck.Metadata) error {
	var retryAfter time.Duration

	operation := func() error {
		hint, err := c.uploadOnce(ctx, token, art, meta)
		if err == nil {
			return nil
		}
		retryAfter = hint

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryInterval

	var policy backoff.BackOff = backoff.WithMaxRetries(exp, c.maxRetries)
	policy = &serverDirectedBackOff{inner: policy, hint: &retryAfter}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// uploadOnce performs a single upload attempt. On failure it returns
// any Retry-After the server sent along with the error.
func (c *Client) uploadOnce(ctx context.Context, token string, art artifact.Artifact, meta *distcheck.Metadata) (time.Duration, error) {
	body, contentType, err := buildUploadForm(art, meta)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	req.SetBasicAuth(tokenUser, token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return 0, nil
	}

	message := readServerMessage(resp.Body)

	// Indexes report duplicate files as 400 with a telltale message or
	// as 409 Conflict.
	if resp.StatusCode == http.StatusConflict ||
		(resp.StatusCode == http.StatusBadRequest && bytes.Contains(bytes.ToLower([]byte(message)), []byte("already exists"))) {
		return 0, fmt.Errorf("%s: %w", art.Name, ErrAlreadyExists)
	}

	return parseRetryAfter(resp.Header.Get("Retry-After")),
		&StatusError{StatusCode: resp.StatusCode, Message: message}
}

// buildUploadForm renders the legacy upload API multipart form for one
// artifact: action fields, metadata fields, digest, and the file itself.
func buildUploadForm(art artifact.Artifact, meta *distcheck.Metadata) (io.Reader, string, error) {
	filetype := "sdist"
	pyversion := "source"
	if art.Kind == artifact.KindWheel {
		filetype = "bdist_wheel"
		tag, err := distcheck.WheelPythonTag(art.Name)
		if err != nil {
			return nil, "", err
		}
		pyversion = tag
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	fields := map[string]string{
		":action":          "file_upload",
		"protocol_version": "1",
		"name":             meta.Name,
		"version":          meta.Version,
		"filetype":         filetype,
		"pyversion":        pyversion,
		"metadata_version": meta.MetadataVersion,
		"summary":          meta.Summary,
		"sha256_digest":    art.SHA256,
	}
	if meta.Description != "" {
		fields["description"] = meta.Description
		fields["description_content_type"] = "text/markdown"
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}

	part, err := form.CreateFormFile("content", art.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	f, err := os.Open(art.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read artifact: %w", err)
	}

	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize upload form: %w", err)
	}
	return &buf, form.FormDataContentType(), nil
}

// readServerMessage extracts a short diagnostic from an error response body.
func readServerMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}

// parseRetryAfter interprets a Retry-After header as a delay.
// Only the delta-seconds form is honored; anything else means no hint.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// serverDirectedBackOff stretches the next backoff wait to at least
// the server's last Retry-After hint. The hint is consumed once.
type serverDirectedBackOff struct {
	inner backoff.BackOff
	hint  *time.Duration
}

func (b *serverDirectedBackOff) NextBackOff() time.Duration {
	next := b.inner.NextBackOff()
	if next == backoff.Stop {
		return backoff.Stop
	}
	if *b.hint > next {
		next = *b.hint
	}
	*b.hint = 0
	return next
}

func (b *serverDirectedBackOff) Reset() {
	b.inner.Reset()
}
