package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrTranscriptNotFound = errors.New("transcript not found")
	ErrInvalidCustomerID  = errors.New("customer id is empty")
)

const (
	defaultStoreKeyPrefix = "retail:transcript:"
	defaultStoreTTL       = 7 * 24 * time.Hour
	defaultIndexedRuns    = 50
	maxResponseSizeBytes  = 4 << 20
)

// TranscriptStore keeps finished conversations for diagnostics.
type TranscriptStore interface {
	Load(ctx context.Context, runID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, runID string) error
}

// TranscriptIndex lists the runs of one customer, newest first.
type TranscriptIndex interface {
	RecentRuns(ctx context.Context, customerID string, limit int) ([]string, error)
}

type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) { s.ttl = ttl }
}

// WithIndexedRuns caps how many run ids are kept per customer.
func WithIndexedRuns(n int) StoreOption {
	return func(s *UpstashRedisStore) {
		if n > 0 {
			s.indexedRuns = n
		}
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore keeps transcripts in Upstash Redis over its REST API.
// Each transcript is a JSON string under <prefix><run id>; a sorted set per
// customer, scored by update time, indexes the runs.
type UpstashRedisStore struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	keyPrefix   string
	ttl         time.Duration
	indexedRuns int
}

var (
	_ TranscriptStore = (*UpstashRedisStore)(nil)
	_ TranscriptIndex = (*UpstashRedisStore)(nil)
)

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashRedisStore{
		baseURL:     baseURL,
		token:       token,
		httpClient:  &http.Client{Timeout: timeout},
		keyPrefix:   defaultStoreKeyPrefix,
		ttl:         defaultStoreTTL,
		indexedRuns: defaultIndexedRuns,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	if store.ttl < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, runID string) (*Conversation, error) {
	key, err := s.redisKey(runID)
	if err != nil {
		return nil, err
	}

	reply, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}
	result := bytes.TrimSpace(reply.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrTranscriptNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode transcript payload: %w", err)
	}
	var conv Conversation
	if err := json.Unmarshal([]byte(encoded), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}

	conv.EnsureMaps()
	if err := conv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transcript loaded from store: %w", err)
	}
	return &conv, nil
}

// Save writes the transcript and, when the run has a customer, indexes it in
// one pipelined request.
func (s *UpstashRedisStore) Save(ctx context.Context, conv *Conversation) error {
	if conv == nil {
		return ErrNilConversation
	}
	if err := conv.Validate(); err != nil {
		return err
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now().UTC()
	}

	key, err := s.redisKey(conv.RunID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	set := []any{"SET", key, string(payload)}
	if s.ttl > 0 {
		set = append(set, "EX", ttlSeconds(s.ttl))
	}
	commands := [][]any{set}

	if customer := strings.TrimSpace(conv.CustomerID); customer != "" {
		index := s.indexKey(customer)
		commands = append(commands,
			[]any{"ZADD", index, conv.UpdatedAt.UnixMilli(), conv.RunID},
			[]any{"ZREMRANGEBYRANK", index, 0, -(s.maxIndexed() + 1)},
		)
		if s.ttl > 0 {
			commands = append(commands, []any{"EXPIRE", index, ttlSeconds(s.ttl)})
		}
	}

	_, err = s.pipeline(ctx, commands)
	return err
}

func (s *UpstashRedisStore) Delete(ctx context.Context, runID string) error {
	key, err := s.redisKey(runID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

// RecentRuns returns up to limit run ids of customerID, newest first. Ids
// whose transcript already expired may still be listed.
func (s *UpstashRedisStore) RecentRuns(ctx context.Context, customerID string, limit int) ([]string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrInvalidCustomerID
	}
	if limit <= 0 || limit > s.maxIndexed() {
		limit = s.maxIndexed()
	}

	reply, err := s.exec(ctx, []any{"ZREVRANGE", s.indexKey(customerID), 0, limit - 1})
	if err != nil {
		return nil, err
	}
	var runs []string
	if err := json.Unmarshal(reply.Result, &runs); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	if runs == nil {
		runs = []string{}
	}
	return runs, nil
}

func (s *UpstashRedisStore) maxIndexed() int {
	if s.indexedRuns > 0 {
		return s.indexedRuns
	}
	return defaultIndexedRuns
}

func (s *UpstashRedisStore) prefix() string {
	if p := strings.TrimSpace(s.keyPrefix); p != "" {
		return p
	}
	return defaultStoreKeyPrefix
}

func (s *UpstashRedisStore) redisKey(runID string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", ErrInvalidRunID
	}
	return s.prefix() + runID, nil
}

func (s *UpstashRedisStore) indexKey(customerID string) string {
	return s.prefix() + "customer:" + customerID
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*restReply, error) {
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}
	var reply restReply
	if err := s.post(ctx, s.baseURL, command, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}
	return &reply, nil
}

// pipeline sends commands to the /pipeline endpoint. The first command error
// fails the whole call; earlier commands are not rolled back.
func (s *UpstashRedisStore) pipeline(ctx context.Context, commands [][]any) ([]restReply, error) {
	if len(commands) == 0 {
		return nil, errors.New("empty redis pipeline")
	}
	var replies []restReply
	if err := s.post(ctx, s.baseURL+"/pipeline", commands, &replies); err != nil {
		return nil, err
	}
	if len(replies) != len(commands) {
		return nil, fmt.Errorf("redis pipeline returned %d replies for %d commands", len(replies), len(commands))
	}
	for i, r := range replies {
		if r.Error != "" {
			return nil, fmt.Errorf("redis pipeline command %d (%v): %s", i, commands[i][0], r.Error)
		}
	}
	return replies, nil
}

func (s *UpstashRedisStore) post(ctx context.Context, endpoint string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Upstash reports command errors with a 400 and an error body.
		var reply restReply
		if json.Unmarshal(respBody, &reply) == nil && reply.Error != "" {
			return errors.New(reply.Error)
		}
		return fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode redis response: %w", err)
	}
	return nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
