package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

// discardLogger returns a logger that drops all output.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// HashingEmbedder
// ---------------------------------------------------------------------------

func TestHashing_DeterministicAndNormalised(t *testing.T) {
	t.Parallel()
	e := NewHashingEmbedder(64)

	a, err := e.Embed(t.Context(), []string{"Distributed systems, Kafka and Go", ""})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(t.Context(), []string{"distributed SYSTEMS kafka and go"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a[0]) != 64 {
		t.Fatalf("want 64 dims, got %d", len(a[0]))
	}
	if !slices.Equal(a[0], b[0]) {
		t.Error("case and punctuation should not change the vector")
	}

	var norm float64
	for _, x := range a[0] {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("want unit norm, got %v", norm)
	}
	for _, x := range a[1] {
		if x != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestHashing_SimilarTextsAreCloser(t *testing.T) {
	t.Parallel()
	e := NewHashingEmbedder(0)
	if e.Dimensions() != 384 {
		t.Errorf("want default 384 dims, got %d", e.Dimensions())
	}

	vecs, err := e.Embed(t.Context(), []string{
		"designed a kafka streaming pipeline",
		"kafka streaming pipeline design",
		"baked sourdough bread at home",
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	near, far := sqDist(vecs[0], vecs[1]), sqDist(vecs[0], vecs[2])
	if near >= far {
		t.Errorf("want related texts closer: near=%v far=%v", near, far)
	}
}

func TestHashing_HonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := NewHashingEmbedder(8).Embed(ctx, []string{"x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func sqDist(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i] - b[i])
		s += d * d
	}
	return s
}

// ---------------------------------------------------------------------------
// OllamaEmbedder
// ---------------------------------------------------------------------------

func TestOllama_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "unexpected route", http.StatusNotFound)
			return
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "nomic-embed-text" {
			http.Error(w, "wrong model", http.StatusBadRequest)
			return
		}
		resp := ollamaEmbedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	got, err := e.Embed(t.Context(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 3 || got[2][0] != 2 {
		t.Errorf("unexpected embeddings: %v", got)
	}
}

func TestOllama_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found"}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nope"}).Embed(t.Context(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("want server error message, got %v", err)
	}
}

func TestOllama_CountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "m"}).Embed(t.Context(), []string{"a", "b"})
	if err == nil {
		t.Error("want error when fewer embeddings are returned than requested")
	}
}

// ---------------------------------------------------------------------------
// OpenAIEmbedder
// ---------------------------------------------------------------------------

// openaiHandler returns embeddings in reverse order so callers must place
// them by index.
func openaiHandler(t *testing.T, check func(r *http.Request)) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		check(r)
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Object: "embedding", Embedding: []float32{float32(i), float32(req.Dimensions)}, Index: i})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}
}

func TestOpenAI_EmbedPlacesByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(openaiHandler(t, func(r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected Authorization header %q", got)
		}
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: defaultOpenAIModel, Dimensions: 256})
	got, err := e.Embed(t.Context(), []string{"zero", "one", "two"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i, v := range got {
		if v[0] != float32(i) {
			t.Errorf("embedding %d out of place: %v", i, v)
		}
		if v[1] != 256 {
			t.Errorf("dimensions not forwarded: %v", v)
		}
	}
}

func TestOpenAI_Azure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(openaiHandler(t, func(r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/openai/deployments/text-embedding-3-small/embeddings") {
			t.Errorf("unexpected azure path %q", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-10-21" {
			t.Errorf("unexpected api-version %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "az-key" {
			t.Errorf("missing api-key header")
		}
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "az-key",
		Model:      "text-embedding-3-small",
		Azure:      true,
		APIVersion: "2024-10-21",
	})
	got, err := e.Embed(t.Context(), []string{"a"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("want 1 embedding, got %d", len(got))
	}
}

func TestOpenAI_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	t.Cleanup(srv.Close)

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "bad", Model: defaultOpenAIModel})
	_, err := e.Embed(t.Context(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("want HTTP 401 error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Factory and validation. These mutate the environment so they do not run
// in parallel.
// ---------------------------------------------------------------------------

func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"EMBEDDING_DIMENSIONS", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "INDEX_BACKEND",
	} {
		t.Setenv(k, "")
	}
}

func TestNewFromEnv_DefaultsToHashing(t *testing.T) {
	clearEmbeddingEnv(t)

	emb, err := NewFromEnv(t.Context())
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	h, ok := emb.(*HashingEmbedder)
	if !ok {
		t.Fatalf("want *HashingEmbedder, got %T", emb)
	}
	if h.Dimensions() != DefaultDimensions(BackendHashing) {
		t.Errorf("want %d dims, got %d", DefaultDimensions(BackendHashing), h.Dimensions())
	}
}

func TestNewFromEnv_Backends(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"ollama", map[string]string{"EMBEDDING_PROVIDER": "ollama"}, false},
		{"openai missing key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, true},
		{"openai", map[string]string{"EMBEDDING_PROVIDER": "openai", "OPENAI_API_KEY": "sk"}, false},
		{"azure missing endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, true},
		{"azure", map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "https://x.openai.azure.com"}, false},
		{"gemini missing key", map[string]string{"EMBEDDING_PROVIDER": "gemini"}, true},
		{"unknown", map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := NewFromEnv(t.Context())
			if (err != nil) != tc.wantErr {
				t.Errorf("wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	clearEmbeddingEnv(t)

	if got := DefaultDimensions(BackendOllama); got != 768 {
		t.Errorf("ollama: want 768, got %d", got)
	}
	if got := DefaultDimensions(BackendOpenAI); got != 1536 {
		t.Errorf("openai: want 1536, got %d", got)
	}
	t.Setenv("EMBEDDING_DIMENSIONS", "512")
	if got := DefaultDimensions(BackendOllama); got != 512 {
		t.Errorf("override: want 512, got %d", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"default hashing", nil, false},
		{"hashing bad dims", map[string]string{"EMBEDDING_DIMENSIONS": "-4"}, true},
		{"ollama chat model warns only", map[string]string{"EMBEDDING_PROVIDER": "ollama", "EMBEDDING_MODEL": "llama3:8b"}, false},
		{"openai no key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, true},
		{"azure no endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k"}, true},
		{"gemini with key", map[string]string{"EMBEDDING_PROVIDER": "gemini", "GEMINI_API_KEY": "k"}, false},
		{"unknown", map[string]string{"EMBEDDING_PROVIDER": "word2vec"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			err := Validate(discardLogger())
			if (err != nil) != tc.wantErr {
				t.Errorf("wantErr=%v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	if !looksLikeChatModel("gpt-4o-mini") {
		t.Error("gpt-4o-mini should look like a chat model")
	}
	if looksLikeChatModel("nomic-embed-text") {
		t.Error("nomic-embed-text should not look like a chat model")
	}
}
