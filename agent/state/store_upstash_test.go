package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

func TestUpstashRedisStoreRedisKey(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	got, err := store.redisKey("run-abc")
	if err != nil {
		t.Fatalf("redisKey() error = %v", err)
	}
	if got != "retail:transcript:run-abc" {
		t.Fatalf("redisKey() = %q, want %q", got, "retail:transcript:run-abc")
	}
}

func TestUpstashRedisStoreRedisKeyEmptyRun(t *testing.T) {
	t.Parallel()

	store := &UpstashRedisStore{}
	_, err := store.redisKey("   ")
	if !errors.Is(err, ErrInvalidRunID) {
		t.Fatalf("redisKey() error = %v, want ErrInvalidRunID", err)
	}
}

func TestUpstashRedisStoreSavePipelinesTranscriptAndIndex(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotCommands [][]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotCommands); err != nil {
			t.Errorf("decode pipeline: %v", err)
		}
		fmt.Fprint(w, `[{"result":"OK"},{"result":1},{"result":0},{"result":1}]`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(
		UpstashRedisConfig{URL: server.URL, Token: "token"},
		WithHTTPClient(server.Client()),
		WithKeyPrefix("test:"),
		WithTTL(90*time.Second),
		WithIndexedRuns(20),
	)
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	conv := NewConversation("run-1", "cust-1", contractx.StageDialog, time.UnixMilli(1700000000000))
	if err := store.Save(context.Background(), conv); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if gotPath != "/pipeline" {
		t.Fatalf("path = %q, want /pipeline", gotPath)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotCommands) != 4 {
		t.Fatalf("unexpected pipeline: %#v", gotCommands)
	}

	set := gotCommands[0]
	if set[0] != "SET" || set[1] != "test:run-1" || set[3] != "EX" || set[4] != float64(90) {
		t.Fatalf("unexpected SET: %#v", set)
	}
	zadd := gotCommands[1]
	if zadd[0] != "ZADD" || zadd[1] != "test:customer:cust-1" || zadd[3] != "run-1" {
		t.Fatalf("unexpected ZADD: %#v", zadd)
	}
	trim := gotCommands[2]
	if trim[0] != "ZREMRANGEBYRANK" || trim[3] != float64(-21) {
		t.Fatalf("unexpected trim: %#v", trim)
	}
	if gotCommands[3][0] != "EXPIRE" {
		t.Fatalf("unexpected expiry: %#v", gotCommands[3])
	}
}

func TestUpstashRedisStoreSaveWithoutCustomerSkipsIndex(t *testing.T) {
	t.Parallel()

	var gotCommands [][]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&gotCommands)
		fmt.Fprint(w, `[{"result":"OK"}]`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()), WithTTL(0))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if err := store.Save(context.Background(), NewConversation("run-9", "", contractx.StageVision, time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(gotCommands) != 1 || len(gotCommands[0]) != 3 {
		t.Fatalf("unexpected pipeline: %#v", gotCommands)
	}
}

func TestUpstashRedisStoreSavePipelineError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"result":"OK"},{"error":"WRONGTYPE"},{"result":0},{"result":1}]`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	err = store.Save(context.Background(), NewConversation("run-1", "cust-1", contractx.StageDialog, time.Now()))
	if err == nil || !strings.Contains(err.Error(), "WRONGTYPE") {
		t.Fatalf("Save() error = %v, want WRONGTYPE", err)
	}
}

func TestUpstashRedisStoreRecentRuns(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&gotCommand)
		fmt.Fprint(w, `{"result":["run-3","run-2"]}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	runs, err := store.RecentRuns(context.Background(), "cust-1", 2)
	if err != nil {
		t.Fatalf("RecentRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0] != "run-3" {
		t.Fatalf("runs = %v", runs)
	}
	if gotCommand[0] != "ZREVRANGE" || gotCommand[1] != "retail:transcript:customer:cust-1" || gotCommand[3] != float64(1) {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}

	if _, err := store.RecentRuns(context.Background(), " ", 5); !errors.Is(err, ErrInvalidCustomerID) {
		t.Fatalf("RecentRuns(empty) error = %v, want ErrInvalidCustomerID", err)
	}
}

func TestUpstashRedisStoreSaveRejectsInvalidConversation(t *testing.T) {
	t.Parallel()

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: "http://127.0.0.1:1", Token: "t"})
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if err := store.Save(context.Background(), nil); !errors.Is(err, ErrNilConversation) {
		t.Fatalf("Save(nil) error = %v", err)
	}
	conv := NewConversation("", "c", contractx.StageDialog, time.Now())
	if err := store.Save(context.Background(), conv); !errors.Is(err, ErrInvalidRunID) {
		t.Fatalf("Save(empty run) error = %v", err)
	}
}

func TestUpstashRedisStoreLoadRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seed := NewConversation("run-2", "cust", contractx.StageDialog, now)
	seed.RecordResult(contractx.StageDialog, contractx.NewEnvelope(contractx.KindDialogResponse, map[string]any{"response": "hi"}, nil), now)
	seed.RecordFailure(contractx.StageInventory, errors.New("db down"), now)
	seed.IncrementRetry(contractx.StageInventory)

	payload, err := json.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		t.Fatalf("marshal encoded seed: %v", err)
	}

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprintf(w, `{"result":%s}`, encoded)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}

	conv, err := store.Load(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if gotCommand[0] != "GET" || gotCommand[1] != "retail:transcript:run-2" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
	if conv.RunID != "run-2" || conv.CurrentStage != contractx.StageDialog {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.RetryCount(contractx.StageInventory) != 1 {
		t.Fatalf("retry count = %d, want 1", conv.RetryCount(contractx.StageInventory))
	}
	if len(conv.Errors) != 1 || conv.Errors[0].Stage != contractx.StageInventory {
		t.Fatalf("unexpected errors: %#v", conv.Errors)
	}
	if got := conv.Results[contractx.StageDialog].PayloadString("response"); got != "hi" {
		t.Fatalf("dialog result = %q", got)
	}
}

func TestUpstashRedisStoreLoadNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":null}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrTranscriptNotFound) {
		t.Fatalf("Load() error = %v, want ErrTranscriptNotFound", err)
	}
}

func TestUpstashRedisStoreDelete(t *testing.T) {
	t.Parallel()

	var gotCommand []any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&gotCommand); err != nil {
			t.Errorf("decode command: %v", err)
		}
		fmt.Fprint(w, `{"result":1}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	if err := store.Delete(context.Background(), "run-3"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if gotCommand[0] != "DEL" || gotCommand[1] != "retail:transcript:run-3" {
		t.Fatalf("unexpected command: %#v", gotCommand)
	}
}

func TestUpstashRedisStoreSurfacesRedisError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"WRONGTYPE"}`)
	}))
	t.Cleanup(server.Close)

	store, err := NewUpstashRedisStore(UpstashRedisConfig{URL: server.URL, Token: "token"}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewUpstashRedisStore() error = %v", err)
	}
	err = store.Delete(context.Background(), "run-4")
	if err == nil || err.Error() != "WRONGTYPE" {
		t.Fatalf("Delete() error = %v, want WRONGTYPE", err)
	}
}
