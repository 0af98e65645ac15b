package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"inkgate.org/internal/pending"
	"inkgate.org/internal/record"
	"inkgate.org/internal/record/filestore"
)

// outageStore delegates to a real store but fails every call until healed.
type outageStore struct {
	mu    sync.Mutex
	down  bool
	inner record.Store
}

func (s *outageStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = false
}

func (s *outageStore) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *outageStore) Upsert(ctx context.Context, orgID, userID, contentHash string, payload json.RawMessage) (record.Record, error) {
	if s.failing() {
		return record.Record{}, record.ErrStorageUnavailable
	}
	return s.inner.Upsert(ctx, orgID, userID, contentHash, payload)
}

func (s *outageStore) Get(ctx context.Context, orgID, userID, contentHash string) (record.Record, error) {
	if s.failing() {
		return record.Record{}, record.ErrStorageUnavailable
	}
	return s.inner.Get(ctx, orgID, userID, contentHash)
}

func (s *outageStore) ListByTenant(ctx context.Context, orgID, userID string) ([]record.Record, error) {
	if s.failing() {
		return nil, record.ErrStorageUnavailable
	}
	return s.inner.ListByTenant(ctx, orgID, userID)
}

func (s *outageStore) DeleteByTenant(ctx context.Context, orgID, userID string) (int, error) {
	if s.failing() {
		return 0, record.ErrStorageUnavailable
	}
	return s.inner.DeleteByTenant(ctx, orgID, userID)
}

func TestCreateRecordRequiresBearer(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(http.MethodPost, "/v1/records",
		map[string]any{"payload": map[string]int{"x": 1}}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateRecordPersists(t *testing.T) {
	e := newTestEnv(t)
	token := e.mintToken("u1", "acme")

	resp := e.do(http.MethodPost, "/v1/records",
		map[string]any{"payload": map[string]int{"x": 1}},
		map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created record.Record
	decodeBody(t, resp, &created)
	if created.OrgID != "acme" || created.UserID != "u1" {
		t.Fatalf("record carries wrong identity: %+v", created)
	}
	if created.ContentHash != record.ContentHash([]byte(`{"x":1}`)) {
		t.Fatalf("unexpected content hash %q", created.ContentHash)
	}

	got, err := e.store.Get(context.Background(), "acme", "u1", created.ContentHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Payload) != `{"x":1}` {
		t.Fatalf("unexpected payload %s", got.Payload)
	}
}

func TestCreateRecordRejectsInvalidPayload(t *testing.T) {
	e := newTestEnv(t)
	token := e.mintToken("u1", "acme")
	headers := map[string]string{"Authorization": "Bearer " + token}

	resp := e.do(http.MethodPost, "/v1/records", map[string]any{}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing payload: expected 400, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodPost, "/v1/records",
		map[string]any{"payload": map[string]int{"x": 1}, "org_id": "other"}, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("client tenant field: expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateRecordQueuesDuringOutage(t *testing.T) {
	inner, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	store := &outageStore{down: true, inner: inner}
	e := newTestEnv(t, withStore(store))
	token := e.mintToken("u1", "acme")

	resp := e.do(http.MethodPost, "/v1/records",
		map[string]any{"payload": map[string]int{"x": 1}},
		map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["queued"] != true {
		t.Fatalf("expected queued:true, got %v", body)
	}

	entries, err := e.queue.List()
	if err != nil {
		t.Fatalf("queue.List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 queued entry, got %d", len(entries))
	}

	// Storage comes back and the sweeper drains the queue.
	store.heal()
	sweeper := pending.NewSweeper(e.queue, store, time.Second)
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	entries, err = e.queue.List()
	if err != nil {
		t.Fatalf("queue.List after sweep: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected drained queue, got %d entries", len(entries))
	}
	recs, err := store.ListByTenant(context.Background(), "acme", "u1")
	if err != nil {
		t.Fatalf("ListByTenant: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 replayed record, got %d", len(recs))
	}
}

func TestQueuedWriteKeepsClientContentHash(t *testing.T) {
	inner, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	store := &outageStore{down: true, inner: inner}
	e := newTestEnv(t, withStore(store))
	token := e.mintToken("u1", "acme")

	resp := e.do(http.MethodPost, "/v1/records",
		map[string]any{"payload": map[string]int{"x": 1}, "content_hash": "client-key"},
		map[string]string{"Authorization": "Bearer " + token})
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	store.heal()
	if err := pending.NewSweeper(e.queue, store, time.Second).Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if _, err := store.Get(context.Background(), "acme", "u1", "client-key"); err != nil {
		t.Fatalf("replayed record must keep the client key: %v", err)
	}
}

func TestListRecordsUnavailableStore(t *testing.T) {
	inner, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	e := newTestEnv(t, withStore(&outageStore{down: true, inner: inner}))
	token := e.mintToken("u1", "acme")

	resp := e.do(http.MethodGet, "/v1/records", nil,
		map[string]string{"Authorization": "Bearer " + token})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestDeleteRecordsOperatorGate(t *testing.T) {
	e := newTestEnv(t)
	token := e.mintToken("u1", "acme")
	post := func(payload string) {
		resp := e.do(http.MethodPost, "/v1/records",
			map[string]any{"payload": json.RawMessage(payload)},
			map[string]string{"Authorization": "Bearer " + token})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed write: expected 201, got %d", resp.StatusCode)
		}
	}
	post(`{"a":1}`)
	post(`{"b":2}`)

	resp := e.do(http.MethodDelete, "/v1/records?org_id=acme&user_id=u1", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no operator key: expected 401, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodDelete, "/v1/records?org_id=acme&user_id=u1", nil,
		map[string]string{hostKeyHeader: "wrong"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad operator key: expected 401, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodDelete, "/v1/records?org_id=acme", nil,
		map[string]string{hostKeyHeader: testOperatorKey})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user_id: expected 400, got %d", resp.StatusCode)
	}

	resp = e.do(http.MethodDelete, "/v1/records?org_id=acme&user_id=u1", nil,
		map[string]string{hostKeyHeader: testOperatorKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["deleted"] != 2 {
		t.Fatalf("expected 2 deleted, got %v", body)
	}
}
