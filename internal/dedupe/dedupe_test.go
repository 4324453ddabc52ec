package dedupe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletprovider/internal/future"
)

func TestGroup_SerializesSameKey(t *testing.T) {
	g := NewGroup[int]()

	var inFlight, maxInFlight atomic.Int32
	var calls atomic.Int32
	op := func() (int, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return int(calls.Add(1)), nil
	}

	first := g.Do("eth_requestAccounts", op)
	second := g.Do("eth_requestAccounts", op)
	assert.Equal(t, 1, g.Queued("eth_requestAccounts"))

	v1, err := first.Wait(context.Background())
	require.NoError(t, err)
	v2, err := second.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2, "second call must be a fresh invocation")
	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestGroup_SecondStartsAfterFirstSettles(t *testing.T) {
	g := NewGroup[string]()

	release := make(chan struct{})
	first := g.Do("k", func() (string, error) {
		<-release
		return "", errors.New("rejected")
	})

	secondStarted := make(chan struct{})
	second := g.Do("k", func() (string, error) {
		close(secondStarted)
		return "ok", nil
	})

	select {
	case <-secondStarted:
		t.Fatal("second call started while first in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	_, err := first.Wait(context.Background())
	require.Error(t, err)

	v, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.False(t, g.InFlight("k"))
}

func TestGroup_FIFOWithinKey(t *testing.T) {
	g := NewGroup[int]()

	var mu sync.Mutex
	var order []int
	block := make(chan struct{})

	futures := make([]*future.Future[int], 0, 5)
	for i := 0; i < 5; i++ {
		i := i
		futures = append(futures, g.Do("k", func() (int, error) {
			if i == 0 {
				<-block
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}
	close(block)

	for i, f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestGroup_DifferentKeysOverlap(t *testing.T) {
	g := NewGroup[int]()

	aStarted := make(chan struct{})
	bStarted := make(chan struct{})
	release := make(chan struct{})

	a := g.Do("a", func() (int, error) {
		close(aStarted)
		<-release
		return 1, nil
	})
	b := g.Do("b", func() (int, error) {
		close(bStarted)
		<-release
		return 2, nil
	})

	for _, ch := range []chan struct{}{aStarted, bStarted} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("calls for different keys did not overlap")
		}
	}
	close(release)

	_, err := a.Wait(context.Background())
	require.NoError(t, err)
	_, err = b.Wait(context.Background())
	require.NoError(t, err)
}

type countingObserver struct {
	queued  atomic.Int32
	started atomic.Int32
}

func (c *countingObserver) CallQueued(string)  { c.queued.Add(1) }
func (c *countingObserver) CallStarted(string) { c.started.Add(1) }

func TestGroup_Observer(t *testing.T) {
	g := NewGroup[int]()
	obs := &countingObserver{}
	g.SetObserver(obs)

	release := make(chan struct{})
	f1 := g.Do("k", func() (int, error) { <-release; return 1, nil })
	f2 := g.Do("k", func() (int, error) { return 2, nil })
	close(release)

	_, err := g.Call(context.Background(), "other", func() (int, error) { return 3, nil })
	require.NoError(t, err)
	_, _ = f1.Wait(context.Background())
	_, _ = f2.Wait(context.Background())

	assert.Equal(t, int32(1), obs.queued.Load())
	assert.Equal(t, int32(3), obs.started.Load())
}
