package project

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/JakeFAU/site-harvester/internal/crawler"
	"github.com/JakeFAU/site-harvester/internal/extract"
)

// Artifact names relative to the project prefix.
const (
	URLsFile      = "urls.csv"
	ContentDir    = "content"
	ProgressFile  = "logs/extraction_progress.json"
	AILogFile     = "logs/ai_requests.jsonl"
	SnapshotFile  = "company_data.json"
	FailuresFile  = "failed_urls.json"
	SummaryFile   = "project.json"
	maxNameLength = 100
)

var unsafeNameChars = regexp.MustCompile(`[^\w\-]`)

// Layout reads and writes one project's artifacts under a name prefix.
type Layout struct {
	store  crawler.ArtifactStore
	prefix string

	// appendMu serializes read-modify-write appends to jsonl files.
	appendMu sync.Mutex
}

// New returns a Layout writing under prefix (may be empty).
func New(store crawler.ArtifactStore, prefix string) *Layout {
	return &Layout{store: store, prefix: strings.Trim(prefix, "/")}
}

// ForSite returns the layout of baseURL's project below prefix.
func ForSite(store crawler.ArtifactStore, prefix, baseURL string) *Layout {
	return New(store, path.Join(prefix, DirName(baseURL)))
}

// Name returns the store name of a project-relative artifact.
func (l *Layout) Name(rel string) string {
	if l.prefix == "" {
		return rel
	}
	return path.Join(l.prefix, rel)
}

// Dir returns the project's own prefix.
func (l *Layout) Dir() string {
	return l.prefix
}

// DirName derives a project directory name from a site's base URL.
func DirName(baseURL string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	name := unsafeNameChars.ReplaceAllString(strings.ReplaceAll(host, ".", "_"), "_")
	if name == "" {
		return "site"
	}
	return name
}

// ArtifactBase returns the content file stem for the idx-th harvested URL.
func ArtifactBase(idx int, pageURL string) string {
	name := ""
	if u, err := url.Parse(pageURL); err == nil {
		name = strings.ReplaceAll(strings.Trim(u.Path, "/"), "/", "_")
	}
	if name == "" {
		name = "homepage"
	}
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return fmt.Sprintf("%03d_%s", idx, name)
}

// SaveArtifact writes the JSON and markdown renderings of a successful fetch.
// It returns the JSON artifact's project-relative name, which is the unit the
// pipeline hands to the consumer, and its store URI.
func (l *Layout) SaveArtifact(ctx context.Context, idx int, result crawler.FetchResult) (string, string, error) {
	base := path.Join(ContentDir, ArtifactBase(idx, result.URL))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal artifact: %w", err)
	}
	rel := base + ".json"
	uri, err := l.store.Put(ctx, l.Name(rel), "application/json", data)
	if err != nil {
		return "", "", fmt.Errorf("put artifact %s: %w", rel, err)
	}
	if _, err := l.store.Put(ctx, l.Name(base+".md"), "text/markdown", extract.Markdown(result)); err != nil {
		return "", "", fmt.Errorf("put markdown %s: %w", base, err)
	}
	return rel, uri, nil
}

// LoadArtifact reads back an artifact written by SaveArtifact.
func (l *Layout) LoadArtifact(ctx context.Context, rel string) (crawler.FetchResult, error) {
	var result crawler.FetchResult
	if err := l.getJSON(ctx, rel, &result); err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

// SaveProgress overwrites the extraction checkpoint.
func (l *Layout) SaveProgress(ctx context.Context, p crawler.Progress) error {
	return l.putJSON(ctx, ProgressFile, p)
}

// LoadProgress reads the extraction checkpoint.
func (l *Layout) LoadProgress(ctx context.Context) (crawler.Progress, error) {
	var p crawler.Progress
	if err := l.getJSON(ctx, ProgressFile, &p); err != nil {
		return crawler.Progress{}, err
	}
	return p, nil
}

// SaveSnapshot overwrites the accumulated company record.
func (l *Layout) SaveSnapshot(ctx context.Context, s crawler.Snapshot) error {
	return l.putJSON(ctx, SnapshotFile, s)
}

// LoadSnapshot reads the accumulated company record.
func (l *Layout) LoadSnapshot(ctx context.Context) (crawler.Snapshot, error) {
	s := crawler.NewSnapshot()
	if err := l.getJSON(ctx, SnapshotFile, &s); err != nil {
		return crawler.Snapshot{}, err
	}
	return s, nil
}

// SaveFailures writes the failed URL side list. A nil list is written as [].
func (l *Layout) SaveFailures(ctx context.Context, failures []crawler.FailureRecord) error {
	if failures == nil {
		failures = []crawler.FailureRecord{}
	}
	return l.putJSON(ctx, FailuresFile, failures)
}

// LoadFailures reads the failed URL side list.
func (l *Layout) LoadFailures(ctx context.Context) ([]crawler.FailureRecord, error) {
	var failures []crawler.FailureRecord
	if err := l.getJSON(ctx, FailuresFile, &failures); err != nil {
		return nil, err
	}
	return failures, nil
}

// SaveSummary writes project.json.
func (l *Layout) SaveSummary(ctx context.Context, s crawler.ProjectSummary) error {
	return l.putJSON(ctx, SummaryFile, s)
}

// LoadSummary reads project.json.
func (l *Layout) LoadSummary(ctx context.Context) (crawler.ProjectSummary, error) {
	var s crawler.ProjectSummary
	if err := l.getJSON(ctx, SummaryFile, &s); err != nil {
		return crawler.ProjectSummary{}, err
	}
	return s, nil
}

// AppendJSONL appends v as one line of the named jsonl artifact.
func (l *Layout) AppendJSONL(ctx context.Context, rel string, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", rel, err)
	}
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	existing, err := l.store.Get(ctx, l.Name(rel))
	if err != nil && !errors.Is(err, crawler.ErrArtifactNotFound) {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(existing) + len(line) + 1)
	buf.Write(existing)
	buf.Write(line)
	buf.WriteByte('\n')
	if _, err := l.store.Put(ctx, l.Name(rel), "application/x-ndjson", buf.Bytes()); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return nil
}

func (l *Layout) putJSON(ctx context.Context, rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	if _, err := l.store.Put(ctx, l.Name(rel), "application/json", data); err != nil {
		return fmt.Errorf("put %s: %w", rel, err)
	}
	return nil
}

func (l *Layout) getJSON(ctx context.Context, rel string, v any) error {
	data, err := l.store.Get(ctx, l.Name(rel))
	if err != nil {
		return fmt.Errorf("get %s: %w", rel, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w: %w", rel, crawler.ErrParse, err)
	}
	return nil
}
