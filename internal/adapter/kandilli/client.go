package kandilli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
	"github.com/couchcryptid/quake-alert-bot/internal/observability"
)

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// maxBodyBytes caps the page size; the real bulletin is well under 100 KiB.
	maxBodyBytes = 4 << 20
)

// ErrNoBulletin means the page was fetched but held no preformatted block.
var ErrNoBulletin = errors.New("no bulletin block in page")

// Client fetches and parses the KOERI recent-earthquakes bulletin.
type Client struct {
	url        string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a bulletin client for url with a per-request timeout.
func NewClient(url string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// FetchLatest downloads the bulletin and returns its earthquakes in bulletin
// order (newest first). A returned error means the bulletin could not be read;
// an empty slice with a nil error means it held no parseable rows.
func (c *Client) FetchLatest(ctx context.Context) ([]domain.Earthquake, error) {
	text, err := c.FetchText(ctx)
	if err != nil {
		return nil, err
	}

	report := domain.ParseBulletin(text)
	c.metrics.QuakesParsed.Add(float64(len(report.Quakes)))
	c.metrics.LinesRejected.Add(float64(len(report.Rejected)))
	for _, line := range report.Rejected {
		c.logger.Debug("bulletin row rejected", "line", line)
	}
	c.logger.Debug("bulletin parsed", "quakes", len(report.Quakes), "rejected", len(report.Rejected))
	return report.Quakes, nil
}

// FetchText downloads the bulletin and returns the decoded text of its data
// block, before any row parsing.
func (c *Client) FetchText(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "tr-TR,tr;q=0.9,en;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bulletin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("bulletin server error: status %d: %s", resp.StatusCode, body)
	}

	return ReadBulletin(io.LimitReader(resp.Body, maxBodyBytes), resp.Header.Get("Content-Type"))
}

// ReadBulletin decodes a bulletin page in its declared or sniffed charset and
// returns the data block: the whole body for text/plain, otherwise the first
// <pre> element.
func ReadBulletin(r io.Reader, contentType string) (string, error) {
	body, err := charset.NewReader(r, contentType)
	if err != nil {
		return "", fmt.Errorf("detect bulletin charset: %w", err)
	}

	if isPlainText(contentType) {
		b, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("read bulletin: %w", err)
		}
		return string(b), nil
	}
	return extractPre(body)
}

func isPlainText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/plain"
}

// extractPre returns the text content of the first <pre> element.
func extractPre(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	depth := 0
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("read bulletin: %w", err)
			}
			if depth > 0 {
				// Unterminated block; keep what was read.
				return sb.String(), nil
			}
			return "", ErrNoBulletin
		case html.StartTagToken:
			if name, _ := z.TagName(); string(name) == "pre" {
				depth++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "pre" && depth > 0 {
				depth--
				if depth == 0 {
					return sb.String(), nil
				}
			}
		case html.TextToken:
			if depth > 0 {
				sb.Write(z.Text())
			}
		}
	}
}
