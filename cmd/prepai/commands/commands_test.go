package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/54b3r/prepai-go/internal/history"
	"github.com/54b3r/prepai-go/internal/rag"
	"github.com/54b3r/prepai-go/internal/version"
)

// setupEnv isolates a command run: hashing embedder, flat index, a private
// history DB, and quiet logs. Tests using it cannot run in parallel.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for k, v := range map[string]string{
		"EMBEDDING_PROVIDER":   "hashing",
		"EMBEDDING_DIMENSIONS": "256",
		"INDEX_BACKEND":        "flat",
		"CHUNK_SIZE":           "",
		"CHUNK_OVERLAP":        "",
		"EMBED_TIMEOUT":        "",
		"RETRIEVE_TOP_K":       "",
		"RETRIEVE_QUERY":       "",
		"PREPAI_CONFIG":        "",
		"PREPAI_HISTORY_DB":    filepath.Join(dir, "history.db"),
		"LOG_LEVEL":            "error",
	} {
		t.Setenv(k, v)
	}
	return dir
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	setupEnv(t)
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != version.String() {
		t.Errorf("want %q, got %q", version.String(), out)
	}
}

func TestIndexCmd_ReportsChunksAndRecordsHistory(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("CHUNK_SIZE", "2")
	t.Setenv("CHUNK_OVERLAP", "0")
	doc := writeFile(t, filepath.Join(dir, "doc.txt"), "A. B. C. D. E.")

	out, err := run(t, "index", "--show-chunks", doc)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !strings.HasPrefix(out, "indexed 3 chunks (dimension 256)") {
		t.Errorf("unexpected summary %q", out)
	}
	for _, want := range []string{"[0] A. B.", "[1] C. D.", "[2] E."} {
		if !strings.Contains(out, want) {
			t.Errorf("missing chunk %q in %q", want, out)
		}
	}

	hl, err := history.Open(os.Getenv("PREPAI_HISTORY_DB"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hl.Close()
	builds, err := hl.Recent(t.Context(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(builds) != 1 || builds[0].Chunks != 3 || builds[0].Source != doc || builds[0].Outcome != history.OutcomeOK {
		t.Errorf("unexpected history %+v", builds)
	}
}

func TestIndexCmd_NoSources(t *testing.T) {
	setupEnv(t)
	if _, err := run(t, "index"); err == nil || !strings.Contains(err.Error(), "no sources") {
		t.Errorf("want no-sources error, got %v", err)
	}
}

func TestIndexCmd_InvalidChunkWindow(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("CHUNK_SIZE", "5")
	t.Setenv("CHUNK_OVERLAP", "5")
	doc := writeFile(t, filepath.Join(dir, "doc.txt"), "one two three")

	_, err := run(t, "index", doc)
	if err == nil {
		t.Fatal("want configuration error for overlap >= size")
	}
}

func TestRetrieveCmd_JSON(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("CHUNK_SIZE", "4")
	t.Setenv("CHUNK_OVERLAP", "0")
	doc := writeFile(t, filepath.Join(dir, "doc.txt"),
		"kafka streams event pipeline. gardening roses tulips daisies.")

	out, err := run(t, "retrieve", "--query", "kafka event pipeline", "--top-k", "1", "--json", doc)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	var results []rag.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(results) != 1 || results[0].Position != 0 || results[0].Text != "kafka streams event pipeline." {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestRetrieveCmd_InvalidTopK(t *testing.T) {
	dir := setupEnv(t)
	doc := writeFile(t, filepath.Join(dir, "doc.txt"), "some text")

	_, err := run(t, "retrieve", "--top-k", "0", doc)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("want configuration error, got %v", err)
	}
}

func TestContextCmd_LabelsSections(t *testing.T) {
	dir := setupEnv(t)
	resume := writeFile(t, filepath.Join(dir, "resume.txt"), "Designed the payments architecture.")
	job := writeFile(t, filepath.Join(dir, "job.txt"), "Senior backend engineer.")

	out, err := run(t, "context", "--resume", resume, "--job", job)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if !strings.HasPrefix(out, "RETRIEVED CONTEXT (MOST RELEVANT SECTIONS):\n") {
		t.Errorf("missing retrieved header in %q", out)
	}
	if !strings.Contains(out, "FULL SOURCE DOCUMENT:\nRESUME:\nDesigned the payments architecture.\n\nJOB:\nSenior backend engineer.") {
		t.Errorf("missing labelled document in %q", out)
	}
}

func TestContextCmd_Prompt(t *testing.T) {
	dir := setupEnv(t)
	resume := writeFile(t, filepath.Join(dir, "resume.txt"), "Built a search engine in Go.")

	out, err := run(t, "context", "--prompt", "--difficulty", "hard", "--count", "2", "--resume", resume)
	if err != nil {
		t.Fatalf("context --prompt: %v", err)
	}
	var msgs []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(out), &msgs); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !strings.Contains(msgs[1].Content, "exactly 2 hard-level") {
		t.Errorf("user prompt missing request details: %q", msgs[1].Content)
	}
}

func TestHistoryCmd(t *testing.T) {
	dir := setupEnv(t)
	doc := writeFile(t, filepath.Join(dir, "doc.txt"), "one two three")

	if _, err := run(t, "index", doc); err != nil {
		t.Fatalf("index: %v", err)
	}
	if _, err := run(t, "index", doc); err != nil {
		t.Fatalf("index: %v", err)
	}

	out, err := run(t, "history", "--limit", "1", "--json")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var builds []history.Build
	if err := json.Unmarshal([]byte(out), &builds); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(builds) != 1 || builds[0].ID != 2 {
		t.Errorf("want newest build only, got %+v", builds)
	}

	out, err = run(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.HasPrefix(out, "ID") || strings.Count(out, "\n") != 3 {
		t.Errorf("want header plus two rows, got %q", out)
	}
}

func TestHistoryCmd_Disabled(t *testing.T) {
	setupEnv(t)
	t.Setenv("PREPAI_HISTORY_DB", "disabled")
	if _, err := run(t, "history"); err == nil {
		t.Error("want error when history is disabled")
	}
}

func TestStoreOptionsFromEnv(t *testing.T) {
	setupEnv(t)
	t.Setenv("CHUNK_SIZE", "120")
	t.Setenv("CHUNK_OVERLAP", "0")
	t.Setenv("EMBED_TIMEOUT", "5s")

	opts, err := storeOptionsFromEnv()
	if err != nil {
		t.Fatalf("storeOptionsFromEnv: %v", err)
	}
	if opts.ChunkSize != 120 || opts.ChunkOverlap != 0 || opts.EmbedTimeout.Seconds() != 5 {
		t.Errorf("unexpected options %+v", opts)
	}

	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("CHUNK_OVERLAP", "10")
	if _, err := storeOptionsFromEnv(); err == nil {
		t.Error("want error for overlap without size")
	}
}

func TestNewIndexStack_UnknownBackend(t *testing.T) {
	setupEnv(t)
	t.Setenv("INDEX_BACKEND", "faiss")
	if _, err := newIndexStack(t.Context(), discard(), nil); err == nil || !strings.Contains(err.Error(), "INDEX_BACKEND") {
		t.Errorf("want unknown backend error, got %v", err)
	}
}
