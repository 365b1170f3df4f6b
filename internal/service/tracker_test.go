package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tvcast/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracked(t *testing.T) (*testEnv, *ReadClickTracker, uint) {
	t.Helper()
	e := newEnv(t)
	e.seed(t, 2, nil)
	res, err := e.svc.Send(context.Background(), SendRequest{Title: "Hi", Message: "There"})
	require.NoError(t, err)
	return e, NewReadClickTracker(e.store, e.clock, e.log), res.Notification.ID
}

func TestMarkReadTwice(t *testing.T) {
	e, tr, id := newTracked(t)
	ctx := context.Background()

	first, err := tr.MarkRead(ctx, 1, id)
	require.NoError(t, err)
	assert.False(t, first.Already)
	assert.True(t, first.Record.IsRead)
	require.NotNil(t, first.Record.ReadAt)

	e.clock.Advance(time.Minute)
	second, err := tr.MarkRead(ctx, 1, id)
	require.NoError(t, err)
	assert.True(t, second.Already)
	assert.True(t, second.Record.ReadAt.Equal(*first.Record.ReadAt), "read_at unchanged")

	count, err := tr.UnreadCount(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = tr.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestClickImpliesRead(t *testing.T) {
	_, tr, id := newTracked(t)
	ctx := context.Background()

	res, err := tr.MarkClicked(ctx, 2, id)
	require.NoError(t, err)
	assert.False(t, res.Already)
	assert.True(t, res.Record.Clicked)
	assert.True(t, res.Record.IsRead)
	require.NotNil(t, res.Record.ReadAt)
	require.NotNil(t, res.Record.ClickedAt)

	read, err := tr.MarkRead(ctx, 2, id)
	require.NoError(t, err)
	assert.True(t, read.Already)
}

func TestClickKeepsEarlierReadTime(t *testing.T) {
	e, tr, id := newTracked(t)
	ctx := context.Background()

	read, err := tr.MarkRead(ctx, 1, id)
	require.NoError(t, err)
	e.clock.Advance(time.Hour)
	click, err := tr.MarkClicked(ctx, 1, id)
	require.NoError(t, err)
	assert.True(t, click.Record.ReadAt.Equal(*read.Record.ReadAt))
	assert.True(t, click.Record.ClickedAt.After(*click.Record.ReadAt))
}

func TestConcurrentClicksChangeOnce(t *testing.T) {
	_, tr, id := newTracked(t)
	ctx := context.Background()

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.MarkClicked(ctx, 1, id)
			if !assert.NoError(t, err) {
				return
			}
			if !res.Already {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, changed)
}

func TestMarkUnknownRecord(t *testing.T) {
	_, tr, id := newTracked(t)
	_, err := tr.MarkRead(context.Background(), 77, id)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
	_, err = tr.MarkClicked(context.Background(), 1, id+100)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestMarkAllRead(t *testing.T) {
	e, tr, _ := newTracked(t)
	ctx := context.Background()
	_, err := e.svc.Send(ctx, SendRequest{Title: "Second", Message: "One", TargetUsers: []uint{1}})
	require.NoError(t, err)

	updated, err := tr.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)
	updated, err = tr.MarkAllRead(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, updated)
}
