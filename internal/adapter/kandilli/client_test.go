package kandilli

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-bot/internal/observability"
)

const headerContentType = "Content-Type"

func testClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		metrics:    observability.NewMetricsForTesting(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func bulletinFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/lst0.html")
	require.NoError(t, err)
	return data
}

func TestClient_FetchLatest_WindowsTurkishPage(t *testing.T) {
	page := bulletinFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept-Language"), "tr")
		w.Header().Set(headerContentType, "text/html; charset=windows-1254")
		_, _ = w.Write(page)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	quakes, err := c.FetchLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, quakes, 4)

	first := quakes[0]
	assert.Equal(t, "20240820_143015_39.123_27.567_4.2", first.ID)
	assert.Equal(t, "IZMIR-SEFERIHISAR İlksel", first.Location)
	assert.Equal(t, 8.7, first.Depth)

	assert.Equal(t, 5.1, quakes[2].Magnitude)
	assert.Equal(t, "AKDENIZ REVIZE01", quakes[2].Location)
	assert.Equal(t, "SAKARYA İlksel", quakes[3].Location)

	assert.InDelta(t, 4, testutil.ToFloat64(c.metrics.QuakesParsed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.metrics.LinesRejected), 0)
}

func TestClient_FetchLatest_CharsetFromMetaTag(t *testing.T) {
	page := bulletinFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, "text/html")
		_, _ = w.Write(page)
	}))
	defer srv.Close()

	quakes, err := testClient(srv.URL).FetchLatest(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, quakes)
	assert.Equal(t, "IZMIR-SEFERIHISAR İlksel", quakes[0].Location)
}

func TestClient_FetchText_PlainText(t *testing.T) {
	body := "header\n\n<not html>\n2024.08.20 14:30:15 39.1 27.5 8.7 -.- 4.2 -.- BOLU\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).FetchText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, body, text)
}

func TestClient_FetchText_DecodesEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><pre>A &amp; B</pre><pre>second</pre></body></html>"))
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).FetchText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A & B", text)
}

func TestClient_FetchLatest_NoPreBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, "text/html")
		_, _ = w.Write([]byte("<html><body><h1>Bakim calismasi</h1></body></html>"))
	}))
	defer srv.Close()

	quakes, err := testClient(srv.URL).FetchLatest(context.Background())
	require.ErrorIs(t, err, ErrNoBulletin)
	assert.Nil(t, quakes)
}

func TestClient_FetchLatest_EmptyBulletinIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, "text/html")
		_, _ = w.Write([]byte("<html><body><pre>\nheader only\n</pre></body></html>"))
	}))
	defer srv.Close()

	quakes, err := testClient(srv.URL).FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quakes)
}

func TestClient_FetchLatest_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchLatest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestClient_FetchLatest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.FetchLatest(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bulletin request"), err.Error())
}

func TestNewClient(t *testing.T) {
	c := NewClient("http://example.invalid/lst0.asp", 15*time.Second, observability.NewMetricsForTesting(), slog.Default())
	assert.Equal(t, "http://example.invalid/lst0.asp", c.url)
	assert.Equal(t, 15*time.Second, c.httpClient.Timeout)
}

func TestReadBulletin_SniffsCharsetWithoutContentType(t *testing.T) {
	f, err := os.Open("testdata/lst0.html")
	require.NoError(t, err)
	defer f.Close()

	text, err := ReadBulletin(f, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(text), "RECENT EARTHQUAKES IN TURKEY"))
	assert.Contains(t, text, "İlksel")
	assert.NotContains(t, text, "<pre>")
}
