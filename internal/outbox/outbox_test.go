package outbox

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsora/pulsora-go/internal/api"
)

func newTestOutbox(t *testing.T) *Outbox {
	t.Helper()

	o, err := Open(filepath.Join(t.TempDir(), "outbox.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	return o
}

func TestOutbox_EnqueueAndPending(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	n, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, o.Enqueue(ctx, api.Event{Name: "first"}))
	require.NoError(t, o.Enqueue(ctx, api.Event{Name: "second"}))

	n, err = o.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestOutbox_FlushInArrivalOrder(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, o.Enqueue(ctx, api.Event{Name: name, CustomerID: "cust-1"}))
	}

	var published []string

	flushed, err := o.Flush(ctx, func(_ context.Context, ev api.Event) error {
		published = append(published, ev.Name)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)
	assert.Equal(t, []string{"a", "b", "c"}, published)

	n, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "flushed events are removed")
}

func TestOutbox_FlushStopsOnFirstFailure(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, o.Enqueue(ctx, api.Event{Name: name}))
	}

	publishErr := errors.New("network down")

	var calls int

	flushed, err := o.Flush(ctx, func(_ context.Context, ev api.Event) error {
		calls++
		if ev.Name == "b" {
			return publishErr
		}

		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, publishErr)
	assert.Equal(t, 1, flushed, "only the first event went out")
	assert.Equal(t, 2, calls)

	// The failed event and everything behind it stay buffered, in order.
	n, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var remaining []string

	_, err = o.Flush(ctx, func(_ context.Context, ev api.Event) error {
		remaining = append(remaining, ev.Name)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, remaining)
}

func TestOutbox_FlushEmpty(t *testing.T) {
	o := newTestOutbox(t)

	flushed, err := o.Flush(context.Background(), func(_ context.Context, _ api.Event) error {
		t.Fatal("publish must not be called for an empty outbox")

		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, flushed)
}

func TestOutbox_DropsCorruptRows(t *testing.T) {
	o := newTestOutbox(t)
	ctx := context.Background()

	_, err := o.db.ExecContext(ctx, sqlInsert, "2026-01-01T00:00:00Z", []byte("{not json"))
	require.NoError(t, err)

	require.NoError(t, o.Enqueue(ctx, api.Event{Name: "good"}))

	var published []string

	flushed, err := o.Flush(ctx, func(_ context.Context, ev api.Event) error {
		published = append(published, ev.Name)

		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	assert.Equal(t, []string{"good"}, published)

	n, err := o.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "corrupt row is dropped, not retried")
}

func TestOutbox_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outbox.db")
	ctx := context.Background()

	o, err := Open(path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, o.Enqueue(ctx, api.Event{Name: "durable"}))
	require.NoError(t, o.Close())

	o2, err := Open(path, slog.Default())
	require.NoError(t, err)
	defer o2.Close()

	n, err := o2.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
