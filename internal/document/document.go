// Package document loads the source text that gets indexed: local files
// (including doublestar glob patterns such as "docs/**/*.md") and HTTP(S)
// pages, plus the labelled RESUME/JOB layout used to combine them.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultMaxBytes caps a single fetched or read source.
const defaultMaxBytes = 8 << 20

// ErrTooLarge is returned for a source longer than Config.MaxBytes. Sources
// are never truncated, so a partial document cannot be indexed unnoticed.
var ErrTooLarge = errors.New("document: source exceeds size limit")

// Config holds the configuration for a Loader.
type Config struct {
	// HTTPTimeout is the timeout for each URL fetch. Defaults to 30s.
	HTTPTimeout time.Duration

	// UserAgent is the HTTP User-Agent header sent with fetch requests.
	UserAgent string

	// MaxBytes caps the size of each source. Defaults to 8 MiB.
	MaxBytes int64
}

// Loader reads documents from files, glob patterns, and URLs.
type Loader struct {
	// cfg holds the resolved loader configuration.
	cfg *Config

	// httpClient is the HTTP client used for URL sources.
	httpClient *http.Client
}

// NewLoader constructs a Loader, filling defaults for zero config fields.
func NewLoader(cfg *Config) *Loader {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "prepai-go/1.0 (document loader)"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	return &Loader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Load reads every source in order and joins their contents with a blank
// line. A source is an http(s) URL, a file path, or a glob pattern; glob
// matches are read in lexical order. A pattern that matches nothing is an
// error.
func (l *Loader) Load(ctx context.Context, sources []string) (string, error) {
	var parts []string
	for _, src := range sources {
		texts, err := l.load(ctx, src)
		if err != nil {
			return "", fmt.Errorf("document: %s: %w", src, err)
		}
		parts = append(parts, texts...)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (l *Loader) load(ctx context.Context, src string) ([]string, error) {
	if isURL(src) {
		text, err := l.fetch(ctx, src)
		if err != nil {
			return nil, err
		}
		return []string{text}, nil
	}

	paths := []string{src}
	if hasMeta(src) {
		matches, err := doublestar.FilepathGlob(src, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern: %w", err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("pattern matched no files")
		}
		slices.Sort(matches)
		paths = matches
	}

	texts := make([]string, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := l.readFile(p)
		if err != nil {
			return nil, err
		}
		texts = append(texts, text)
	}
	return texts, nil
}

func (l *Loader) readFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	body, err := l.readCapped(f)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if e := strings.ToLower(filepath.Ext(path)); e == ".html" || e == ".htm" {
		return htmlText(bytes.NewReader(body))
	}
	return string(body), nil
}

// fetch retrieves the text content of a URL. HTML responses are reduced to
// their visible text.
func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, text/html")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := l.readCapped(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == "text/html" {
		return htmlText(bytes.NewReader(raw))
	}
	return string(raw), nil
}

// readCapped reads r fully, failing with ErrTooLarge past MaxBytes.
func (l *Loader) readCapped(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, l.cfg.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > l.cfg.MaxBytes {
		return nil, fmt.Errorf("%w of %d bytes", ErrTooLarge, l.cfg.MaxBytes)
	}
	return body, nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
