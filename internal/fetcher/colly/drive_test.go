package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

func TestDriveFileID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"https://drive.google.com/file/d/1AbC-xyz_9/view?usp=sharing", "1AbC-xyz_9"},
		{"https://drive.google.com/file/d/ID123", "ID123"},
		{"https://drive.google.com/open?id=OPEN42", "OPEN42"},
		{"https://docs.google.com/uc?export=download&id=UC7", "UC7"},
		{"https://drive.google.com/drive/folders/abc", ""},
		{"://not a url", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DriveFileID(tc.url), tc.url)
	}
}

func TestDownloadDriveDirectBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "download", r.URL.Query().Get("export"))
		assert.Equal(t, "SMALL", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF small"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, srv.URL+"/uc")
	path, found, err := f.Download(context.Background(),
		"https://drive.google.com/file/d/SMALL/view", crawler.DocumentCloudDrive)
	require.NoError(t, err)
	require.True(t, found)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF small", string(data))
}

func TestDownloadDriveFollowsConfirmationPage(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("confirm") == "" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><body>
				<p>Google Drive can't scan this file for viruses.</p>
				<a id="uc-download-link" href="/uc?export=download&amp;confirm=t&amp;id=BIG">Download anyway</a>
			</body></html>`))
			return
		}
		assert.Equal(t, "BIG", r.URL.Query().Get("id"))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("%PDF big"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, srv.URL+"/uc")
	path, found, err := f.Download(context.Background(),
		"https://drive.google.com/file/d/BIG/view", crawler.DocumentCloudDrive)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int32(2), hits.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF big", string(data))
}

func TestDownloadDriveWithoutConfirmationLink(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(t, srv.URL+"/uc")
	_, found, err := f.Download(context.Background(),
		"https://drive.google.com/file/d/PRIVATE/view", crawler.DocumentCloudDrive)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDownloadDriveWithoutID(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(t, "http://127.0.0.1:1/uc")
	_, found, err := f.Download(context.Background(),
		"https://drive.google.com/drive/folders/abc", crawler.DocumentCloudDrive)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConfirmationURLFromForm(t *testing.T) {
	t.Parallel()

	page := []byte(`<html><body>
		<form id="download-form" action="https://drive.usercontent.google.com/download" method="get">
			<input type="hidden" name="id" value="FORMID">
			<input type="hidden" name="export" value="download">
			<input type="hidden" name="confirm" value="t">
			<input type="submit" value="Download anyway">
		</form></body></html>`)
	base, err := url.Parse("https://drive.google.com/uc?export=download&id=FORMID")
	require.NoError(t, err)

	got, err := confirmationURL(page, base)
	require.NoError(t, err)
	parsed, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "drive.usercontent.google.com", parsed.Host)
	assert.Equal(t, "FORMID", parsed.Query().Get("id"))
	assert.Equal(t, "t", parsed.Query().Get("confirm"))

	_, err = confirmationURL([]byte("<html></html>"), base)
	require.Error(t, err)
}
