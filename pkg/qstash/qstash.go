package qstash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

const issuer = "Upstash"

var (
	ErrMissingSignature = errors.New("qstash signature is missing")
	ErrInvalidSignature = errors.New("qstash signature is invalid")
)

type Config struct {
	URL               string        `split_words:"true" required:"true"`
	Token             string        `split_words:"true" required:"true"`
	CurrentSigningKey string        `split_words:"true" required:"true"`
	NextSigningKey    string        `split_words:"true" required:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
}

type Client struct {
	baseURL           string
	token             string
	currentSigningKey string
	nextSigningKey    string
	httpClient        *http.Client
	leeway            time.Duration
}

// claims carried by the Upstash-Signature JWT. Body is the unpadded
// base64url sha256 of the request body.
type claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("qstash url is required")
	}

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		leeway: time.Minute,
	}

	return client, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// Publish enqueues env for delivery to destination and returns the QStash message id.
func (c *Client) Publish(ctx context.Context, destination string, env contractx.Envelope) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", fmt.Errorf("%w: qstash destination is empty", contractx.ErrValidation)
	}
	body, err := contractx.Encode(env)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/publish/"+destination, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build qstash request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qstash publish: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read qstash response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("qstash publish: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode qstash response: %w", err)
	}
	return out.MessageID, nil
}

// Verify checks an Upstash-Signature header against the current signing key,
// then the next one, so deliveries keep verifying across key rotation.
// An empty destinationURL skips the subject check.
func (c *Client) Verify(signature string, body []byte, destinationURL string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	var lastErr error
	for _, key := range []string{c.currentSigningKey, c.nextSigningKey} {
		if key == "" {
			continue
		}
		err := c.verifyWithKey(signature, key, body, destinationURL)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no signing key configured")
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (c *Client) verifyWithKey(signature, key string, body []byte, destinationURL string) error {
	var got claims
	_, err := jwt.ParseWithClaims(signature, &got, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(key), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(c.leeway),
	)
	if err != nil {
		return err
	}

	if destinationURL != "" && got.Subject != destinationURL {
		return fmt.Errorf("subject %q does not match %q", got.Subject, destinationURL)
	}
	if strings.TrimRight(got.Body, "=") != BodyHash(body) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// BodyHash is the body claim QStash signs: unpadded base64url of sha256(body).
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return strings.TrimRight(base64.URLEncoding.EncodeToString(sum[:]), "=")
}

// Forwarder relays every published envelope to one QStash destination, so
// results can be pushed to an HTTP consumer with retries handled by QStash.
type Forwarder struct {
	client      *Client
	destination string
}

var _ contractx.Publisher = (*Forwarder)(nil)

func (c *Client) Forwarder(destination string) *Forwarder {
	return &Forwarder{client: c, destination: strings.TrimSpace(destination)}
}

// Publish tags env with the channel it was meant for and forwards it.
func (f *Forwarder) Publish(ctx context.Context, channel string, env contractx.Envelope) error {
	_, err := f.client.Publish(ctx, f.destination, env.WithMetadata(map[string]any{"channel": channel}))
	return err
}
