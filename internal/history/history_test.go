package history

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/54b3r/prepai-go/internal/rag"
)

// openTestLog opens an in-memory SQLiteLog for use in tests.
func openTestLog(t *testing.T) *SQLiteLog {
	t.Helper()
	l, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory log: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLog_RecordAndRecent(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)
	ctx := t.Context()

	first := NewBuild("resume one", "resume.txt", 3, 384, nil, 120*time.Millisecond)
	second := NewBuild("resume two", "api", 5, 384, nil, 80*time.Millisecond)
	for _, b := range []Build{first, second} {
		if err := l.Record(ctx, b); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 builds, got %d", len(got))
	}
	if got[0].Source != "api" || got[1].Source != "resume.txt" {
		t.Errorf("want newest first, got %q then %q", got[0].Source, got[1].Source)
	}
	if got[1].Chunks != 3 || got[1].Dimension != 384 || got[1].Outcome != OutcomeOK {
		t.Errorf("round trip mismatch: %+v", got[1])
	}
	if got[1].Duration != 120*time.Millisecond {
		t.Errorf("duration: want 120ms, got %v", got[1].Duration)
	}
	if got[0].ID == 0 || got[0].CreatedAt.IsZero() {
		t.Errorf("want ID and CreatedAt assigned, got %+v", got[0])
	}
}

func TestLog_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	l := openTestLog(t)
	ctx := t.Context()

	for i := range 6 {
		if err := l.Record(ctx, NewBuild(fmt.Sprintf("doc %d", i), "api", 1, 8, nil, 0)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := l.Recent(ctx, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("want 4 builds, got %d", len(got))
	}
}

func TestLog_EmptyReturnsNil(t *testing.T) {
	t.Parallel()
	got, err := openTestLog(t).Recent(t.Context(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("want 0 builds, got %d", len(got))
	}
}

func TestNewBuild_Outcomes(t *testing.T) {
	t.Parallel()
	unavailable := fmt.Errorf("rag: build index: %w: timeout", rag.ErrEmbeddingUnavailable)

	cases := []struct {
		name    string
		chunks  int
		err     error
		want    Outcome
		wantErr bool
	}{
		{"ok", 4, nil, OutcomeOK, false},
		{"empty", 0, nil, OutcomeEmpty, false},
		{"embedding", 4, unavailable, OutcomeEmbeddingUnavailable, true},
		{"other", 4, errors.New("boom"), OutcomeError, true},
	}
	for _, tc := range cases {
		b := NewBuild("doc", "api", tc.chunks, 16, tc.err, time.Second)
		if b.Outcome != tc.want {
			t.Errorf("%s: want outcome %q, got %q", tc.name, tc.want, b.Outcome)
		}
		if (b.Error != "") != tc.wantErr {
			t.Errorf("%s: unexpected error field %q", tc.name, b.Error)
		}
		if tc.err != nil && b.Chunks != 0 {
			t.Errorf("%s: failed build should record 0 chunks, got %d", tc.name, b.Chunks)
		}
	}
}

func TestHash_IgnoresWhitespace(t *testing.T) {
	t.Parallel()
	if Hash("a  b\n c") != Hash("a b c") {
		t.Error("whitespace-only differences should hash equally")
	}
	if Hash("a b c") == Hash("a b d") {
		t.Error("different documents should hash differently")
	}
	if len(Hash("x")) != 32 {
		t.Errorf("want 32 hex chars, got %d", len(Hash("x")))
	}
}
