package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-alert-bot/internal/domain"
)

type fakeMessageWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error {
	f.closed = true
	return nil
}

var testQuake = domain.Earthquake{
	ID:        "20240820_143015_39.123_27.567_4.0",
	Time:      time.Date(2024, 8, 20, 14, 30, 15, 0, time.UTC),
	Latitude:  39.123,
	Longitude: 27.567,
	Depth:     8.7,
	Magnitude: 4.0,
	Location:  "IZMIR-SEFERIHISAR",
}

func freezeClock(t *testing.T) clockwork.Clock {
	t.Helper()
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.August, 20, 14, 35, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() {
		domain.SetClock(nil)
	})
	return fakeClock
}

func TestSerializeToMessage(t *testing.T) {
	fakeClock := freezeClock(t)

	msg, err := serializeToMessage(domain.NewRecord(testQuake))
	require.NoError(t, err)

	assert.Equal(t, []byte(testQuake.ID), msg.Key)
	assert.Contains(t, string(msg.Value), `"event_time":"2024-08-20T14:30:15"`)
	assert.Len(t, msg.Headers, 2)
	assert.Equal(t, "magnitude", msg.Headers[0].Key)
	assert.Equal(t, []byte("4.0"), msg.Headers[0].Value)
	assert.Equal(t, "posted_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(fakeClock.Now().Format(time.RFC3339)), msg.Headers[1].Value)
}

func TestWriter_Announce(t *testing.T) {
	freezeClock(t)
	fw := &fakeMessageWriter{}
	w := &Writer{writer: fw, topic: "earthquakes-posted", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	rec := domain.NewRecord(testQuake)
	require.NoError(t, w.Announce(context.Background(), rec))
	require.Len(t, fw.msgs, 1)

	var got domain.Record
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &got))
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Fatalf("announced record mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, w.Close())
	assert.True(t, fw.closed)
}

func TestWriter_AnnounceError(t *testing.T) {
	fw := &fakeMessageWriter{err: errors.New("leader not available")}
	w := &Writer{writer: fw, topic: "earthquakes-posted", logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	err := w.Announce(context.Background(), domain.NewRecord(testQuake))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "earthquakes-posted")
}
