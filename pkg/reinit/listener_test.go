package reinit

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/infinite-scroll/internal/testutil"
	"github.com/Sternrassler/infinite-scroll/pkg/controls"
	"github.com/Sternrassler/infinite-scroll/pkg/session"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTarget struct {
	calls atomic.Int32
	err   error
}

func (c *countingTarget) Reinitialize() error {
	c.calls.Add(1)
	return c.err
}

func run(ctx context.Context, l *Listener) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return done
}

func TestListener_CoalescesBurst(t *testing.T) {
	target := &countingTarget{}
	signals := make(chan Signal)
	l := New(target, signals, Config{SettleDelay: 30 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, l)

	for i := 0; i < 5; i++ {
		signals <- Signal{Name: FacetsUpdated}
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), target.calls.Load(), "a burst resets once")

	signals <- Signal{Name: SortChanged}
	require.Eventually(t, func() bool { return target.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestListener_WaitsForSettleDelay(t *testing.T) {
	target := &countingTarget{}
	signals := make(chan Signal, 1)
	l := New(target, signals, Config{SettleDelay: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, l)

	signals <- Signal{Name: FacetsUpdated}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), target.calls.Load(), "no reset before the host settles")

	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestListener_ClosedChannelFlushesPending(t *testing.T) {
	target := &countingTarget{}
	signals := make(chan Signal, 2)
	signals <- Signal{Name: FacetsUpdated}
	close(signals)

	l := New(target, signals, Config{SettleDelay: 10 * time.Millisecond})
	err := l.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestListener_ClosedChannelWithoutSignals(t *testing.T) {
	target := &countingTarget{}
	signals := make(chan Signal)
	close(signals)

	assert.NoError(t, New(target, signals, DefaultConfig()).Run(context.Background()))
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestListener_ContextCancelDropsPending(t *testing.T) {
	target := &countingTarget{}
	signals := make(chan Signal, 1)
	l := New(target, signals, Config{SettleDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := run(ctx, l)
	signals <- Signal{Name: FacetsUpdated}
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.NoError(t, <-done)
	assert.Equal(t, int32(0), target.calls.Load())
}

func TestListener_StopsWhenSessionClosed(t *testing.T) {
	target := &countingTarget{err: session.ErrClosed}
	signals := make(chan Signal, 1)
	l := New(target, signals, Config{SettleDelay: time.Millisecond})

	signals <- Signal{Name: FacetsUpdated}
	assert.NoError(t, l.Run(context.Background()))
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestListener_KeepsListeningAfterFailedReset(t *testing.T) {
	target := &countingTarget{err: errors.New("boom")}
	signals := make(chan Signal)
	l := New(target, signals, Config{SettleDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := run(ctx, l)

	signals <- Signal{Name: FacetsUpdated}
	require.Eventually(t, func() bool { return target.calls.Load() == 1 }, time.Second, time.Millisecond)
	signals <- Signal{Name: FacetsUpdated}
	require.Eventually(t, func() bool { return target.calls.Load() == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestListener_RebuildsSessionControls(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(testutil.CollectionPage("x", 1, 3, 6)))
	require.NoError(t, err)
	base, _ := url.Parse("https://shop.test/collections/x")
	sess, err := session.New(doc, base, settings.Default(), session.FetcherFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("offline")
	}), session.Options{})
	require.NoError(t, err)
	defer sess.Close()

	// The host swaps in a filtered listing with two items and no more pages.
	sess.Mutate(func(d *goquery.Document) {
		d.Find("#product-grid").Children().Slice(2, 6).Remove()
		d.Find(".pagination").Remove()
	})

	signals := make(chan Signal, 1)
	signals <- Signal{Name: FacetsUpdated}
	close(signals)
	require.NoError(t, New(sess, signals, Config{SettleDelay: time.Millisecond}).Run(context.Background()))

	snap := sess.Snapshot()
	assert.Equal(t, session.Exhausted, snap.State)
	assert.Equal(t, 2, snap.Items)
	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, 0, doc.Find("."+controls.ClassSentinel).Length())
}
