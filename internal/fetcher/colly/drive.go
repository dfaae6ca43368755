package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

var driveFilePath = regexp.MustCompile(`/file/d/([^/]+)`)

// DriveFileID extracts the file identifier from a cloud-drive share link.
// It returns "" when the link carries no identifier.
func DriveFileID(shareURL string) string {
	if m := driveFilePath.FindStringSubmatch(shareURL); len(m) == 2 {
		return m[1]
	}
	u, err := url.Parse(shareURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("id")
}

func (f *Fetcher) driveDownloadURL(id string) string {
	return f.cfg.DriveEndpoint + "?export=download&id=" + url.QueryEscape(id)
}

// fetchDrive downloads a cloud-drive file. Large files are served behind an
// HTML confirmation page; its download link is followed with a second request.
func (f *Fetcher) fetchDrive(ctx context.Context, shareURL string) ([]byte, bool, error) {
	id := DriveFileID(shareURL)
	if id == "" {
		f.logger.Warn("cloud-drive link without file id", zap.String("url", shareURL))
		return nil, false, nil
	}

	resp, err := f.get(ctx, f.driveDownloadURL(id), f.cfg.DownloadTimeout)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !isHTML(resp.contentType) {
		return resp.body, true, nil
	}

	confirmURL, err := confirmationURL(resp.body, resp.finalURL)
	if err != nil {
		f.logger.Warn("cloud-drive confirmation link missing",
			zap.String("url", shareURL),
			zap.Error(err),
		)
		return nil, false, nil
	}
	f.logger.Debug("following cloud-drive confirmation", zap.String("url", shareURL))

	final, err := f.get(ctx, confirmURL, f.cfg.DownloadTimeout)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("confirmation fetch: %w", err)
	}
	if isHTML(final.contentType) {
		f.logger.Warn("cloud-drive confirmation returned html", zap.String("url", shareURL))
		return nil, false, nil
	}
	return final.body, true, nil
}

// confirmationURL finds the real download link on a cloud-drive interstitial
// page: the uc-download-link anchor, or the download form and its hidden fields.
func confirmationURL(body []byte, base *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse confirmation page: %w", err)
	}

	if href, ok := doc.Find("a#uc-download-link").Attr("href"); ok && strings.TrimSpace(href) != "" {
		return resolve(base, href)
	}

	form := doc.Find("form#download-form").First()
	action, ok := form.Attr("action")
	if !ok || strings.TrimSpace(action) == "" {
		return "", errors.New("no download link on confirmation page")
	}
	target, err := url.Parse(action)
	if err != nil {
		return "", fmt.Errorf("parse form action: %w", err)
	}
	query := target.Query()
	form.Find(`input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		value, _ := input.Attr("value")
		if name != "" {
			query.Set(name, value)
		}
	})
	target.RawQuery = query.Encode()
	return resolve(base, target.String())
}

func resolve(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", ref, err)
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}
