package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/sanitize"
)

// maxSheetBytes caps how much of an export body is read.
const maxSheetBytes = 5 << 20

var sheetIDPattern = regexp.MustCompile(`docs\.google\.com/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// ExportURL rewrites a Google Sheets link to its CSV export form. Links that
// are already exports, and non-Google URLs, are returned unchanged.
func ExportURL(sheetURL string) string {
	sheetURL = strings.TrimSpace(sheetURL)
	if strings.Contains(sheetURL, "output=csv") || strings.Contains(sheetURL, "format=csv") {
		return sheetURL
	}
	m := sheetIDPattern.FindStringSubmatch(sheetURL)
	if m == nil {
		return sheetURL
	}
	export := "https://docs.google.com/spreadsheets/d/" + m[1] + "/export?format=csv"
	if u, err := url.Parse(sheetURL); err == nil {
		gid := u.Query().Get("gid")
		if gid == "" && strings.HasPrefix(u.Fragment, "gid=") {
			gid = strings.TrimPrefix(u.Fragment, "gid=")
		}
		if gid != "" {
			export += "&gid=" + url.QueryEscape(gid)
		}
	}
	return export
}

// SheetFetcher downloads published sheets as CSV text.
type SheetFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewSheetFetcher creates a fetcher. A nil client gets a 15s timeout client.
func NewSheetFetcher(client *http.Client, logger *zap.Logger) *SheetFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &SheetFetcher{client: client, logger: logger.Named("sheet_fetcher")}
}

// Fetch returns the CSV text of sheetURL. A login page, an access error or an
// empty body map to ErrNotPublic or ErrEmptySource.
func (f *SheetFetcher) Fetch(ctx context.Context, sheetURL string) (string, error) {
	if strings.TrimSpace(sheetURL) == "" {
		return "", ErrEmptySource
	}
	target := ExportURL(sheetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build sheet request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSheetBytes))
	if err != nil {
		return "", fmt.Errorf("read sheet: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		f.logger.Warn("sheet not readable", zap.String("url", sanitize.URL(target)), zap.Int("status", resp.StatusCode))
		return "", ErrNotPublic
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("fetch sheet: unexpected status %d", resp.StatusCode)
	}

	if strings.TrimSpace(string(body)) == "" {
		return "", ErrEmptySource
	}
	// Private sheets redirect to an HTML sign-in page with a 200.
	if mt := mimetype.Detect(body); mt.Is("text/html") {
		f.logger.Warn("sheet returned html", zap.String("url", sanitize.URL(target)))
		return "", ErrNotPublic
	}

	f.logger.Debug("sheet fetched", zap.String("url", sanitize.URL(target)), zap.Int("bytes", len(body)))
	return string(body), nil
}
