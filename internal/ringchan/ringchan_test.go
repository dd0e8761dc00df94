package ringchan_test

import (
	"sync"
	"testing"

	"github.com/srg/vecs/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := ringchan.New[int](3)

	for i := 1; i <= 5; i++ {
		dropped := rc.Send(i)
		assert.Equal(t, i > 3, dropped, "send %d", i)
	}

	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, 3, rc.Cap())

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
	assert.Equal(t, ringchan.Stats{Written: 5, Overwritten: 2}, rc.Stats())
}

func TestRingChannel_Close(t *testing.T) {
	rc := ringchan.New[string](2)
	rc.Send("a")
	rc.Close()
	rc.Close()

	assert.False(t, rc.Send("b"), "send after close MUST be ignored")

	var got []string
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, int64(1), rc.Stats().Rejected)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := ringchan.New[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range rc.C() {
			received++
		}
	}()

	wg.Wait()
	rc.Close()
	<-done

	stats := rc.Stats()
	require.Equal(t, int64(4000), stats.Written)
	assert.Equal(t, int64(received), stats.Written-stats.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { ringchan.New[int](0) })
}
