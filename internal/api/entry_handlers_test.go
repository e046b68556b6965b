package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/clinichain/clinichain/internal/audit"
	"github.com/clinichain/clinichain/internal/secrets"
)

func newEntryFixture(t *testing.T) (*EntryHandlers, *audit.InMemoryEntryRepository) {
	t.Helper()
	ctx := context.Background()

	repo := audit.NewInMemoryEntryRepository()
	store := secrets.NewInMemoryStore()
	if err := store.AddSecret(ctx, 1, []byte("secret-v1")); err != nil {
		t.Fatalf("AddSecret() failed: %v", err)
	}
	if err := store.SetDefaultVersion(ctx, 1); err != nil {
		t.Fatalf("SetDefaultVersion() failed: %v", err)
	}
	writer, err := audit.NewWriter(repo, store, nil)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}
	return NewEntryHandlers(writer, repo), repo
}

func appendRequest(chainID, body string) *http.Request {
	// Escape the segment so rejected chain IDs (spaces and the like) still
	// form a parseable request target; the handler reads the raw value
	// from the path parameter.
	req := httptest.NewRequest(http.MethodPost, "/v1/chains/"+url.PathEscape(chainID)+"/entries", strings.NewReader(body))
	req.SetPathValue("chain_id", chainID)
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not an error envelope: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestAppend_Created(t *testing.T) {
	h, _ := newEntryFixture(t)

	rec := httptest.NewRecorder()
	h.Append(rec, appendRequest("user:alice", `{
		"action": "record.view",
		"resource_type": "clinical_record",
		"resource_id": "rec-42",
		"metadata": {"department": "cardiology"}
	}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	var entry EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}
	if entry.ChainID != "user:alice" || entry.Action != "record.view" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Hash == nil || entry.PrevHash == nil {
		t.Fatal("response missing chain hashes")
	}
	if *entry.PrevHash != audit.SeedHash {
		t.Errorf("first entry PrevHash = %s, want seed", *entry.PrevHash)
	}
	if entry.SecretVersion != 1 {
		t.Errorf("SecretVersion = %d, want 1", entry.SecretVersion)
	}
}

func TestAppend_SecondEntryLinks(t *testing.T) {
	h, _ := newEntryFixture(t)
	body := `{"action": "record.view", "resource_type": "clinical_record"}`

	rec := httptest.NewRecorder()
	h.Append(rec, appendRequest("user:alice", body))
	var first EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decoding failed: %v", err)
	}

	rec = httptest.NewRecorder()
	h.Append(rec, appendRequest("user:alice", body))
	var second EntryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decoding failed: %v", err)
	}

	if *second.PrevHash != *first.Hash {
		t.Errorf("second entry PrevHash = %s, want %s", *second.PrevHash, *first.Hash)
	}
}

func TestAppend_InvalidJSON(t *testing.T) {
	h, _ := newEntryFixture(t)

	rec := httptest.NewRecorder()
	h.Append(rec, appendRequest("user:alice", `{not json`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("code = %s, want %s", resp.Error.Code, ErrCodeBadRequest)
	}
}

func TestAppend_ValidationErrors(t *testing.T) {
	h, _ := newEntryFixture(t)

	tests := []struct {
		name    string
		chainID string
		body    string
	}{
		{"missing action", "user:alice", `{"resource_type": "clinical_record"}`},
		{"missing resource type", "user:alice", `{"action": "record.view"}`},
		{"chain id with spaces", "user alice", `{"action": "record.view", "resource_type": "clinical_record"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Append(rec, appendRequest(tt.chainID, tt.body))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if resp := decodeError(t, rec); resp.Error.Code != ErrCodeValidation {
				t.Errorf("code = %s, want %s", resp.Error.Code, ErrCodeValidation)
			}
		})
	}
}

func TestAppend_SecretUnavailable(t *testing.T) {
	// No default version issued: the append must fail closed with 503 so
	// the caller aborts the audited business operation.
	repo := audit.NewInMemoryEntryRepository()
	writer, err := audit.NewWriter(repo, secrets.NewInMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}
	h := NewEntryHandlers(writer, repo)

	rec := httptest.NewRecorder()
	h.Append(rec, appendRequest("user:alice", `{"action": "record.view", "resource_type": "clinical_record"}`))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (body %s)", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeAppendFailed {
		t.Errorf("code = %s, want %s", resp.Error.Code, ErrCodeAppendFailed)
	}
}

// conflictingRepo always reports a per-chain append conflict.
type conflictingRepo struct {
	audit.InMemoryEntryRepository
}

func (r *conflictingRepo) AppendEntry(ctx context.Context, draft *audit.AuditEntry, compute audit.ComputeFunc) (*audit.AuditEntry, error) {
	return nil, audit.ErrAppendConflict
}

func TestAppend_Conflict(t *testing.T) {
	ctx := context.Background()
	store := secrets.NewInMemoryStore()
	if err := store.AddSecret(ctx, 1, []byte("secret-v1")); err != nil {
		t.Fatalf("AddSecret() failed: %v", err)
	}
	if err := store.SetDefaultVersion(ctx, 1); err != nil {
		t.Fatalf("SetDefaultVersion() failed: %v", err)
	}
	writer, err := audit.NewWriter(&conflictingRepo{}, store, nil)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}
	writer.MaxRetries = 0
	h := NewEntryHandlers(writer, audit.NewInMemoryEntryRepository())

	rec := httptest.NewRecorder()
	h.Append(rec, appendRequest("user:alice", `{"action": "record.view", "resource_type": "clinical_record"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Error.Code != ErrCodeConflict {
		t.Errorf("code = %s, want %s", resp.Error.Code, ErrCodeConflict)
	}
}

func listRequest(chainID, query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/chains/"+url.PathEscape(chainID)+"/entries"+query, nil)
	req.SetPathValue("chain_id", chainID)
	return req
}

type listResponse struct {
	Entries []EntryResponse `json:"entries"`
}

func TestList_Paginates(t *testing.T) {
	h, _ := newEntryFixture(t)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.Append(rec, appendRequest("user:alice", fmt.Sprintf(
			`{"action": "record.view", "resource_type": "clinical_record", "resource_id": "rec-%d"}`, i)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed append failed: %s", rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	h.List(rec, listRequest("user:alice", "?limit=3"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var page listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding failed: %v", err)
	}
	if len(page.Entries) != 3 {
		t.Fatalf("page size = %d, want 3", len(page.Entries))
	}

	last := page.Entries[2]
	cursor := fmt.Sprintf("?after_created_at=%s&after_id=%s",
		last.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"), last.ID)
	rec = httptest.NewRecorder()
	h.List(rec, listRequest("user:alice", cursor))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var rest listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rest); err != nil {
		t.Fatalf("decoding failed: %v", err)
	}
	if len(rest.Entries) != 2 {
		t.Fatalf("second page size = %d, want 2", len(rest.Entries))
	}
	if rest.Entries[0].ID == last.ID {
		t.Error("pagination is not strictly after the cursor")
	}
}

func TestList_EmptyChain(t *testing.T) {
	h, _ := newEntryFixture(t)

	rec := httptest.NewRecorder()
	h.List(rec, listRequest("user:nobody", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var page listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding failed: %v", err)
	}
	if len(page.Entries) != 0 {
		t.Errorf("entries = %d, want none", len(page.Entries))
	}
}

func TestList_InvalidParams(t *testing.T) {
	h, _ := newEntryFixture(t)

	tests := []struct {
		name  string
		query string
	}{
		{"limit zero", "?limit=0"},
		{"limit negative", "?limit=-5"},
		{"limit too large", "?limit=1001"},
		{"limit not a number", "?limit=many"},
		{"bad cursor timestamp", "?after_created_at=yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.List(rec, listRequest("user:alice", tt.query))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}
