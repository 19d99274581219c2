//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-bot/internal/adapter/kafka"
	"github.com/couchcryptid/quake-alert-bot/internal/adapter/kandilli"
	"github.com/couchcryptid/quake-alert-bot/internal/adapter/postgres"
	"github.com/couchcryptid/quake-alert-bot/internal/domain"
	"github.com/couchcryptid/quake-alert-bot/internal/observability"
	"github.com/couchcryptid/quake-alert-bot/internal/pipeline"
	"github.com/couchcryptid/quake-alert-bot/internal/render"
)

const testTopic = "earthquakes-posted-test"

// recordingPublisher accepts every post and remembers the image files it saw.
type recordingPublisher struct {
	mu     sync.Mutex
	images []string
}

func (p *recordingPublisher) Available() bool { return true }

func (p *recordingPublisher) Publish(_ context.Context, imagePath, _ string) error {
	if _, err := os.Stat(imagePath); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images = append(p.images, imagePath)
	return nil
}

func bulletinServer(t *testing.T) *httptest.Server {
	t.Helper()
	page, err := os.ReadFile("../adapter/kandilli/testdata/lst0.html")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1254")
		_, _ = w.Write(page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestPostgresStore verifies the persistence collaborator against a real database.
func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := postgres.NewStore(ctx, startPostgres(ctx, t), discardLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx), "schema bootstrap must be repeatable")
	require.NoError(t, store.Ping(ctx))

	q, ok := domain.ParseLine("2024.08.20 14:30:15 39.123 27.567 8.7 -.- 4.2 -.- IZMIR-SEFERIHISAR (EGE DENIZI)")
	require.True(t, ok)

	recorded, err := store.IsRecorded(ctx, q.ID)
	require.NoError(t, err)
	assert.False(t, recorded)

	rec := domain.NewRecord(q)
	require.NoError(t, store.Record(ctx, rec))
	require.NoError(t, store.Record(ctx, rec), "recording twice is a no-op")

	recorded, err = store.IsRecorded(ctx, q.ID)
	require.NoError(t, err)
	assert.True(t, recorded)
}

// TestKafkaAnnounce verifies that kafka.Writer round-trips a posted record.
func TestKafkaAnnounce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	writer := kafka.NewWriter([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	q, ok := domain.ParseLine("2024.08.20 12:11:05 36.5012 28.9890 12.3 -.- 5.1 4.9 AKDENIZ REVIZE01")
	require.True(t, ok)
	require.NoError(t, writer.Announce(ctx, domain.NewRecord(q)))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-announce-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	msg := readMessage(ctx, t, consumer)
	assert.Equal(t, q.ID, string(msg.Key))

	var rec domain.Record
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, q.ID, rec.ID)
	assert.Equal(t, "2024-08-20T12:11:05", rec.EventTime)
	assert.True(t, rec.Posted)
}

// TestPipelineEndToEnd runs full cycles against a served bulletin, a real
// Postgres store, the real renderer and a Kafka announcement topic.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	dsn := startPostgres(ctx, t)
	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	db, err := postgres.NewStore(ctx, dsn, discardLogger())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(ctx))
	store := postgres.NewCachedStore(db, 100)

	metrics := observability.NewMetricsForTesting()
	fetcher := kandilli.NewClient(bulletinServer(t).URL, 10*time.Second, metrics, discardLogger())

	renderer, err := render.NewRenderer(t.TempDir(), discardLogger())
	require.NoError(t, err)

	captions, err := domain.LoadCaptionTemplate("")
	require.NoError(t, err)

	writer := kafka.NewWriter([]string{broker}, testTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	publisher := &recordingPublisher{}
	p := pipeline.New(fetcher, store, renderer, publisher, captions, discardLogger(), metrics, pipeline.Options{
		MinMagnitude: 4.0,
		Interval:     time.Minute,
	}).WithAnnouncer(writer)

	first := p.RunCycle(ctx)
	assert.Equal(t, 4, first.Fetched)
	assert.Equal(t, 2, first.Significant)
	assert.Equal(t, 2, first.Published)
	require.NoError(t, p.CheckReadiness(ctx))

	second := p.RunCycle(ctx)
	assert.Equal(t, 0, second.New, "recorded earthquakes are not posted again")

	// Oldest first: the 12:11 M5.1 row precedes the 14:30 M4.2 row.
	require.Len(t, publisher.images, 2)
	assert.Contains(t, publisher.images[0], "20240820_121105_36.501_28.989_5.1")
	assert.Contains(t, publisher.images[1], "20240820_143015_39.123_27.567_4.2")

	for _, id := range []string{"20240820_121105_36.501_28.989_5.1", "20240820_143015_39.123_27.567_4.2"} {
		recorded, err := db.IsRecorded(ctx, id)
		require.NoError(t, err)
		assert.True(t, recorded, id)
	}

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-e2e-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	keys := []string{string(readMessage(ctx, t, consumer).Key), string(readMessage(ctx, t, consumer).Key)}
	assert.Equal(t, []string{"20240820_121105_36.501_28.989_5.1", "20240820_143015_39.123_27.567_4.2"}, keys)
}
