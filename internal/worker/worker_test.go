package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
	"github.com/JakeFAU/interpelli-crawler/internal/hash/sha256"
	"github.com/JakeFAU/interpelli-crawler/internal/storage/memory"
)

type fakePages struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func (f *fakePages) FetchHTML(_ context.Context, url string) (string, bool, error) {
	f.mu.Lock()
	f.called = append(f.called, url)
	f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return "", false, err
	}
	body, ok := f.pages[url]
	return body, ok, nil
}

type fakeDocuments struct {
	dir        string
	mu         sync.Mutex
	downloaded map[string]crawler.DocumentKind
	discarded  []string
	missing    map[string]bool
}

func newFakeDocuments(t *testing.T) *fakeDocuments {
	t.Helper()
	return &fakeDocuments{dir: t.TempDir(), downloaded: map[string]crawler.DocumentKind{}, missing: map[string]bool{}}
}

func (f *fakeDocuments) Download(_ context.Context, url string, kind crawler.DocumentKind) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[url] {
		return "", false, nil
	}
	f.downloaded[url] = kind
	path := filepath.Join(f.dir, crawler.DocumentFilename(url))
	if err := os.WriteFile(path, []byte("%PDF "+url), 0o600); err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (f *fakeDocuments) Discard(path string) error {
	f.mu.Lock()
	f.discarded = append(f.discarded, path)
	f.mu.Unlock()
	return os.Remove(path)
}

type fakeExtractor struct {
	links    map[string][]string
	analyses map[string]crawler.Analysis
	html     map[string][]crawler.FieldSet
	files    map[string][]crawler.FieldSet
}

func (f *fakeExtractor) FindArticleLinks(_ context.Context, _ string, baseURL string) []string {
	return f.links[baseURL]
}

func (f *fakeExtractor) AnalyzeArticle(_ context.Context, _ string, baseURL string) crawler.Analysis {
	return f.analyses[baseURL]
}

func (f *fakeExtractor) ExtractHTML(_ context.Context, html string) []crawler.FieldSet {
	return f.html[html]
}

func (f *fakeExtractor) ExtractFile(_ context.Context, path string) []crawler.FieldSet {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return f.files[string(data)]
}

type failingArchive struct{ err error }

func (f failingArchive) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", f.err
}

type fakeHasher struct{}

func (fakeHasher) Hash(data []byte) (string, error) {
	return "h" + string(rune('0'+len(data)%10)), nil
}

func TestDiscoverPage(t *testing.T) {
	t.Parallel()

	pages := &fakePages{pages: map[string]string{"https://alpha.example/list/": "<html>listing</html>"}}
	extractor := &fakeExtractor{links: map[string][]string{
		"https://alpha.example/list/": {"https://alpha.example/a1", "https://alpha.example/a2"},
	}}
	w := New(pages, nil, extractor, Config{}, zap.NewNop())

	result, err := w.DiscoverPage(context.Background(), crawler.PageTask{Region: "Alpha", Page: 1, URL: "https://alpha.example/list/"})
	require.NoError(t, err)
	assert.False(t, result.NotFound)
	assert.Equal(t, []crawler.ArticleTask{
		{URL: "https://alpha.example/a1", Region: "Alpha"},
		{URL: "https://alpha.example/a2", Region: "Alpha"},
	}, result.Articles)
}

func TestDiscoverPageNotFoundAndError(t *testing.T) {
	t.Parallel()

	pages := &fakePages{
		pages: map[string]string{},
		errs:  map[string]error{"https://alpha.example/list/page/3/": errors.New("connection reset")},
	}
	w := New(pages, nil, &fakeExtractor{}, Config{}, nil)

	result, err := w.DiscoverPage(context.Background(), crawler.PageTask{Region: "Alpha", Page: 2, URL: "https://alpha.example/list/page/2/"})
	require.NoError(t, err)
	assert.True(t, result.NotFound)
	assert.Empty(t, result.Articles)

	_, err = w.DiscoverPage(context.Background(), crawler.PageTask{Region: "Alpha", Page: 3, URL: "https://alpha.example/list/page/3/"})
	require.ErrorContains(t, err, "connection reset")
}

func TestProcessArticleDirectIgnoresPortal(t *testing.T) {
	t.Parallel()

	article := "https://alpha.example/a1"
	pages := &fakePages{pages: map[string]string{article: "<html>article</html>"}}
	docs := newFakeDocuments(t)
	extractor := &fakeExtractor{
		analyses: map[string]crawler.Analysis{article: {
			Direct: []string{"https://alpha.example/d1.pdf", "https://alpha.example/d2.pdf"},
			Portal: []string{"https://web.spaggiari.eu/x"},
		}},
		files: map[string][]crawler.FieldSet{
			"%PDF https://alpha.example/d1.pdf": {{SchoolName: "IC Uno", ClassCode: "A022"}},
			"%PDF https://alpha.example/d2.pdf": {{SchoolName: "IC Due", ClassCode: "A028"}, {SchoolName: "IC Due", ClassCode: "A030"}},
		},
	}
	archive := memory.NewBlobStore()
	w := New(pages, docs, extractor, Config{ArchivePrefix: "documents"}, zap.NewNop(), WithArchive(archive, sha256.New()))

	records, err := w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: article, Region: "Alpha"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "IC Uno", records[0].SchoolName)
	assert.Equal(t, "https://alpha.example/d1.pdf", records[0].SourceURL)
	assert.Equal(t, "https://alpha.example/d2.pdf", records[2].SourceURL)
	for _, rec := range records {
		assert.Equal(t, "Alpha", rec.Region)
	}

	assert.Equal(t, []string{article}, pages.called, "portal page must not be fetched")
	assert.Equal(t, crawler.DocumentDirect, docs.downloaded["https://alpha.example/d1.pdf"])
	assert.Len(t, docs.discarded, 2)
	entries, err := os.ReadDir(docs.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files must be removed")
	keys := archive.Keys()
	require.Len(t, keys, 2)
	for _, key := range keys {
		assert.Contains(t, key, "documents/alpha/")
		data, ok := archive.Object(key)
		require.True(t, ok)
		assert.Contains(t, string(data), "%PDF https://alpha.example/d")
	}
}

func TestProcessArticleCloudPath(t *testing.T) {
	t.Parallel()

	article := "https://beta.example/b1"
	drive := "https://drive.google.com/file/d/XYZ/view"
	docs := newFakeDocuments(t)
	w := New(
		&fakePages{pages: map[string]string{article: "x"}},
		docs,
		&fakeExtractor{
			analyses: map[string]crawler.Analysis{article: {Cloud: []string{drive}}},
			files:    map[string][]crawler.FieldSet{"%PDF " + drive: {{SchoolName: "Liceo Volta"}}},
		},
		Config{},
		zap.NewNop(),
	)

	records, err := w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: article, Region: "Beta"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, drive, records[0].SourceURL)
	assert.Equal(t, crawler.DocumentCloudDrive, docs.downloaded[drive])
}

func TestProcessArticlePortalUsesPortalFetcher(t *testing.T) {
	t.Parallel()

	article := "https://beta.example/b2"
	portalURL := "https://web.spaggiari.eu/doc?id=7"
	pages := &fakePages{pages: map[string]string{article: "x"}}
	portal := &fakePages{pages: map[string]string{portalURL: "<html>portal</html>"}}
	w := New(pages, nil, &fakeExtractor{
		analyses: map[string]crawler.Analysis{article: {Portal: []string{portalURL}}},
		html:     map[string][]crawler.FieldSet{"<html>portal</html>": {{SchoolName: "IIS Natta"}}},
	}, Config{}, zap.NewNop(), WithPortalFetcher(portal))

	records, err := w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: article, Region: "Beta"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, portalURL, records[0].SourceURL)
	assert.Equal(t, []string{portalURL}, portal.called)
}

type markerDetector struct{ marker string }

func (d markerDetector) ShouldRender(body []byte) bool {
	return strings.Contains(string(body), d.marker)
}

func TestProcessArticlePortalStaticFirst(t *testing.T) {
	t.Parallel()

	article := "https://beta.example/b3"
	staticURL := "https://web.spaggiari.eu/doc?id=8"
	shellURL := "https://web.spaggiari.eu/doc?id=9"
	pages := &fakePages{pages: map[string]string{
		article:   "x",
		staticURL: "<html>static notice</html>",
		shellURL:  "<html>SHELL</html>",
	}}
	portal := &fakePages{pages: map[string]string{shellURL: "<html>rendered notice</html>"}}
	w := New(pages, nil, &fakeExtractor{
		analyses: map[string]crawler.Analysis{article: {Portal: []string{staticURL, shellURL}}},
		html: map[string][]crawler.FieldSet{
			"<html>static notice</html>":   {{SchoolName: "IIS Natta"}},
			"<html>rendered notice</html>": {{SchoolName: "ITIS Badoni"}},
		},
	}, Config{}, zap.NewNop(), WithPortalFetcher(portal), WithRenderDetector(markerDetector{marker: "SHELL"}))

	records, err := w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: article, Region: "Beta"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "IIS Natta", records[0].SchoolName)
	assert.Equal(t, "ITIS Badoni", records[1].SchoolName)
	assert.Equal(t, []string{shellURL}, portal.called)
}

func TestProcessArticleInlineAndNone(t *testing.T) {
	t.Parallel()

	inline := "https://gamma.example/inline"
	empty := "https://gamma.example/empty"
	w := New(&fakePages{pages: map[string]string{inline: "x", empty: "y"}}, nil, &fakeExtractor{
		analyses: map[string]crawler.Analysis{inline: {Inline: []crawler.FieldSet{{SchoolName: "CPIA Lecco"}}}},
	}, Config{}, zap.NewNop())

	records, err := w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: inline, Region: "Gamma"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, inline, records[0].SourceURL)
	assert.Equal(t, "Gamma", records[0].Region)

	records, err = w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: empty, Region: "Gamma"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessArticleFailures(t *testing.T) {
	t.Parallel()

	article := "https://delta.example/a"
	missing := "https://delta.example/missing.pdf"
	docs := newFakeDocuments(t)
	docs.missing[missing] = true
	pages := &fakePages{
		pages: map[string]string{article: "x"},
		errs:  map[string]error{"https://delta.example/broken": errors.New("timeout")},
	}
	w := New(pages, docs, &fakeExtractor{
		analyses: map[string]crawler.Analysis{article: {Direct: []string{missing}}},
	}, Config{}, zap.NewNop(), WithArchive(failingArchive{err: errors.New("bucket gone")}, fakeHasher{}))

	records, err := w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: article, Region: "Delta"})
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: "https://delta.example/gone", Region: "Delta"})
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = w.ProcessArticle(context.Background(), crawler.ArticleTask{URL: "https://delta.example/broken", Region: "Delta"})
	require.ErrorContains(t, err, "timeout")
}

func TestArchiveKey(t *testing.T) {
	t.Parallel()

	w := New(nil, nil, nil, Config{ArchivePrefix: "/documents/"}, nil, WithArchive(memory.NewBlobStore(), fakeHasher{}))
	key, err := w.archiveKey("Monza e Brianza", "abc")
	require.NoError(t, err)
	assert.Equal(t, "documents/monza-e-brianza/h3.pdf", key)

	w.cfg.ArchivePrefix = ""
	key, err = w.archiveKey("Como", "abcd")
	require.NoError(t, err)
	assert.Equal(t, "como/h4.pdf", key)
}
