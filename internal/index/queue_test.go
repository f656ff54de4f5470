package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueued(t *testing.T, dir *memDirectory, size int) *Manager {
	t.Helper()
	m, err := NewQueuedManager("test", Configuration{
		Directory:   dir,
		FlushPolicy: FlushCommit,
	}, size)
	require.NoError(t, err)
	return m
}

func TestQueuedIndexAppliesConcurrentSubmissions(t *testing.T) {
	dir := newMemDirectory()
	m := newQueued(t, dir, 10)
	defer m.Close()

	const n = 100
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Index().Perform(context.Background(), Create(Interactive, doc(fmt.Sprint(i))))
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range results {
		require.NoError(t, r.Await(ctx))
	}

	s, err := m.OpenSearcher()
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, n, s.NumDocs())
	assert.Equal(t, int32(1), dir.maxActive.Load())
}

func TestQueuedIndexBatchFailureResolution(t *testing.T) {
	dir := newMemDirectory()
	errBad := errors.New("bad document")
	g := newGate("gate")
	dir.beforeAdd = g.hook(func(d Document) error {
		if mustGet(d, "id") == "bad" {
			return errBad
		}
		return nil
	})
	m := newQueued(t, dir, 10)
	defer m.Close()
	ctx := context.Background()

	held := m.Index().Perform(ctx, Create(Interactive, doc("gate")))
	<-g.reached

	first := m.Index().Perform(ctx, Create(Interactive, doc("a")))
	failing := m.Index().Perform(ctx, Create(Interactive, doc("bad")))
	last := m.Index().Perform(ctx, Create(Interactive, doc("c")))
	close(g.release)

	require.NoError(t, held.Await(ctx))
	require.NoError(t, first.Await(ctx))

	err := failing.Await(ctx)
	require.ErrorIs(t, err, errBad)
	var canceled *CanceledError
	assert.False(t, errors.As(err, &canceled))

	err = last.Await(ctx)
	require.ErrorAs(t, err, &canceled)
	assert.ErrorIs(t, canceled.Cause, errBad)

	assert.ElementsMatch(t, []string{"gate", "a"}, dir.committedIDs())
}

func TestQueuedIndexEscalatesBatchMode(t *testing.T) {
	dir := newMemDirectory()
	g := newGate("gate")
	dir.beforeAdd = g.hook(nil)
	m := newQueued(t, dir, 10)
	defer m.Close()
	ctx := context.Background()

	held := m.Index().Perform(ctx, Create(Interactive, doc("gate")))
	<-g.reached
	a := m.Index().Perform(ctx, Create(Interactive, doc("a")))
	b := m.Index().Perform(ctx, Create(Batch, doc("b")))
	close(g.release)

	require.NoError(t, held.Await(ctx))
	require.NoError(t, a.Await(ctx))
	require.NoError(t, b.Await(ctx))

	profiles := DefaultProfiles()
	assert.Equal(t, []Settings{profiles.Interactive, profiles.Batch}, dir.openedSettings())
}

func TestQueuedIndexFullQueueHonoursContext(t *testing.T) {
	dir := newMemDirectory()
	g := newGate("gate")
	dir.beforeAdd = g.hook(nil)
	m := newQueued(t, dir, 1)
	defer m.Close()
	bg := context.Background()

	held := m.Index().Perform(bg, Create(Interactive, doc("gate")))
	<-g.reached
	queued := m.Index().Perform(bg, Create(Interactive, doc("queued")))

	ctx, cancel := context.WithTimeout(bg, 50*time.Millisecond)
	defer cancel()
	rejected := m.Index().Perform(ctx, Create(Interactive, doc("rejected")))
	assert.True(t, rejected.IsDone())
	require.ErrorIs(t, rejected.Await(bg), ErrInterrupted)

	close(g.release)
	require.NoError(t, held.Await(bg))
	require.NoError(t, queued.Await(bg))
	assert.ElementsMatch(t, []string{"gate", "queued"}, dir.committedIDs())
}

func TestQueuedIndexCloseDrainsQueue(t *testing.T) {
	dir := newMemDirectory()
	m := newQueued(t, dir, 100)
	ctx := context.Background()

	var results []Result
	for i := 0; i < 50; i++ {
		results = append(results, m.Index().Perform(ctx, Create(Interactive, doc(fmt.Sprint(i)))))
	}
	require.NoError(t, m.Close())

	for _, r := range results {
		assert.True(t, r.IsDone())
		assert.NoError(t, r.Await(ctx))
	}
	assert.Len(t, dir.committedIDs(), 50)

	after := m.Index().Perform(ctx, Create(Interactive, doc("late")))
	assert.ErrorIs(t, after.Await(ctx), ErrQueueClosed)
	assert.NoError(t, m.Close())
}

func TestQueuedIndexWorkerExitsWhenIdle(t *testing.T) {
	dir := newMemDirectory()
	m, err := NewQueuedManager("idle", Configuration{
		Directory:   dir,
		FlushPolicy: FlushCommit,
		IdleTimeout: 20 * time.Millisecond,
	}, 4)
	require.NoError(t, err)
	defer m.Close()
	q := m.Index().(*QueuedIndex)
	ctx := context.Background()

	require.NoError(t, q.Perform(ctx, Create(Interactive, doc("a"))).Await(ctx))
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.worker == nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Perform(ctx, Create(Interactive, doc("b"))).Await(ctx))
	assert.ElementsMatch(t, []string{"a", "b"}, dir.committedIDs())
}

func TestQueuedIndexDeleteThenCreateFromTwoGoroutines(t *testing.T) {
	for i := 0; i < 20; i++ {
		dir := newMemDirectory()
		m := newQueued(t, dir, 10)
		ctx := context.Background()
		require.NoError(t, m.Index().Perform(ctx, Create(Interactive, doc("A"))).Await(ctx))

		var wg sync.WaitGroup
		var del, create Result
		submitted := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			del = m.Index().Perform(ctx, Delete(idTerm("A"), Interactive))
			close(submitted)
		}()
		go func() {
			defer wg.Done()
			<-submitted
			create = m.Index().Perform(ctx, Create(Interactive, doc("A")))
		}()
		wg.Wait()
		require.NoError(t, del.Await(ctx))
		require.NoError(t, create.Await(ctx))

		s, err := m.OpenSearcher()
		require.NoError(t, err)
		postings, err := s.Postings("id", "A")
		require.NoError(t, err)
		assert.Len(t, postings, 1)
		require.NoError(t, s.Close())
		require.NoError(t, m.Close())
	}
}
