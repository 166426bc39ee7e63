package storage

import (
	"testing"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared", nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetMessages(t *testing.T) {
	s := openTestStore(t)

	id, err := s.InsertMessage(MessageRow{
		Role: models.RoleUser, Content: "hello", Tokens: 2,
		Timestamp: time.Now(), InContext: true,
	})
	if err != nil {
		t.Fatalf("InsertMessage error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	rows, err := s.GetMessages(false)
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}
	if len(rows) != 1 || rows[0].Content != "hello" {
		t.Fatalf("got %+v", rows)
	}
}

func TestInsertMessageWithToolCallsRoundTrips(t *testing.T) {
	s := openTestStore(t)

	calls := []models.ToolCall{{ID: "c1", Name: "read_file", Arguments: map[string]any{"path": "/a"}}}
	id, err := s.InsertMessage(MessageRow{
		Role: models.RoleAssistant, ToolCalls: calls, Timestamp: time.Now(), InContext: true,
	})
	if err != nil {
		t.Fatalf("InsertMessage error: %v", err)
	}

	rows, err := s.GetMessages(false)
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}
	var got MessageRow
	for _, r := range rows {
		if r.ID == id {
			got = r
		}
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "read_file" {
		t.Fatalf("got %+v", got.ToolCalls)
	}
}

func TestGetMessagesInContextOnly(t *testing.T) {
	s := openTestStore(t)

	idIn, _ := s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "in", Timestamp: time.Now(), InContext: true})
	_, _ = s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "out", Timestamp: time.Now(), InContext: false})

	rows, err := s.GetMessages(true)
	if err != nil {
		t.Fatalf("GetMessages error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != idIn {
		t.Fatalf("expected only in-context row, got %+v", rows)
	}
}

func TestUpdateContextStatusBatches(t *testing.T) {
	s := openTestStore(t)

	id1, _ := s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "a", Timestamp: time.Now(), InContext: true})
	id2, _ := s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "b", Timestamp: time.Now(), InContext: true})

	if err := s.UpdateContextStatus([]int64{id1, id2}, false); err != nil {
		t.Fatalf("UpdateContextStatus error: %v", err)
	}

	rows, _ := s.GetMessages(true)
	if len(rows) != 0 {
		t.Fatalf("expected no in-context rows after update, got %+v", rows)
	}
}

func TestMarkAsSummaryAtomic(t *testing.T) {
	s := openTestStore(t)

	id1, _ := s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "old1", Timestamp: time.Now(), InContext: true})
	id2, _ := s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "old2", Timestamp: time.Now(), InContext: true})
	summaryID, _ := s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "[SUMMARY]", Timestamp: time.Now(), InContext: true})

	if err := s.MarkAsSummary(summaryID, []int64{id1, id2}); err != nil {
		t.Fatalf("MarkAsSummary error: %v", err)
	}

	rows, _ := s.GetMessages(true)
	if len(rows) != 1 || rows[0].ID != summaryID {
		t.Fatalf("expected only summary row in context, got %+v", rows)
	}
}

func TestGetTokenCountSumsInContext(t *testing.T) {
	s := openTestStore(t)
	_, _ = s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "a", Tokens: 5, Timestamp: time.Now(), InContext: true})
	_, _ = s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "b", Tokens: 7, Timestamp: time.Now(), InContext: true})
	_, _ = s.InsertMessage(MessageRow{Role: models.RoleUser, Content: "c", Tokens: 100, Timestamp: time.Now(), InContext: false})

	total, err := s.GetTokenCount()
	if err != nil {
		t.Fatalf("GetTokenCount error: %v", err)
	}
	if total != 12 {
		t.Fatalf("got %d, want 12", total)
	}
}

func TestSessionMarkersLifecycle(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	err := s.InitSessionMarkers(models.SessionMarkers{
		SessionType: models.SessionTypeMain, SessionStatus: models.SessionStatusActive,
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("InitSessionMarkers error: %v", err)
	}

	m, err := s.GetSessionMarkers()
	if err != nil {
		t.Fatalf("GetSessionMarkers error: %v", err)
	}
	if m.SessionStatus != models.SessionStatusActive {
		t.Fatalf("got %+v", m)
	}

	if err := s.UpdateSessionStatus(models.SessionStatusCompleted, time.Now()); err != nil {
		t.Fatalf("UpdateSessionStatus error: %v", err)
	}
	m, _ = s.GetSessionMarkers()
	if m.SessionStatus != models.SessionStatusCompleted {
		t.Fatalf("expected completed, got %+v", m)
	}
}

func TestMetadataUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetMetadata("key1", "v1"); err != nil {
		t.Fatalf("SetMetadata error: %v", err)
	}
	if err := s.SetMetadata("key1", "v2"); err != nil {
		t.Fatalf("SetMetadata update error: %v", err)
	}

	v, ok, err := s.GetMetadata("key1")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("got v=%q ok=%v err=%v", v, ok, err)
	}

	_, ok, _ = s.GetMetadata("missing")
	if ok {
		t.Fatal("expected missing key to report ok=false")
	}
}

func TestDecodeToolCallsHandlesMalformedJSON(t *testing.T) {
	logger := newTestLogger()
	got := decodeToolCalls(logger, nullString("{not valid json"))
	if got != nil {
		t.Fatalf("expected nil for malformed JSON, got %+v", got)
	}
}

func TestDecodeToolCallsHandlesOversized(t *testing.T) {
	logger := newTestLogger()
	huge := make([]byte, maxJSONBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	got := decodeToolCalls(logger, nullString(string(huge)))
	if got != nil {
		t.Fatalf("expected nil for oversized JSON, got %+v", got)
	}
}
