package ring_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Candlest/seele/internal/ring"
)

func TestChannel_NewestWins(t *testing.T) {
	t.Parallel()

	c := ring.New[int]()

	c.Send(1)
	c.Send(2)
	c.Send(3)

	value, ok := c.Recv()
	require.True(t, ok)
	assert.Equal(t, 3, value)
}

func TestChannel_RecvBlocksUntilSend(t *testing.T) {
	t.Parallel()

	c := ring.New[string]()

	var wg sync.WaitGroup

	wg.Add(1)

	var got string

	go func() {
		defer wg.Done()

		value, ok := c.Recv()
		if ok {
			got = value
		}
	}()

	time.Sleep(20 * time.Millisecond)
	c.Send("hello")
	wg.Wait()

	assert.Equal(t, "hello", got)
}

func TestChannel_CloseUnblocksRecv(t *testing.T) {
	t.Parallel()

	c := ring.New[int]()

	done := make(chan bool, 1)

	go func() {
		_, ok := c.Recv()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestChannel_CloseDrainsPendingValue(t *testing.T) {
	t.Parallel()

	c := ring.New[int]()
	c.Send(42)
	c.Close()

	value, ok := c.Recv()
	require.True(t, ok)
	assert.Equal(t, 42, value)

	_, ok = c.Recv()
	assert.False(t, ok)
}

func TestChannel_SendAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	c := ring.New[int]()
	c.Close()
	c.Send(1)

	_, ok := c.Recv()
	assert.False(t, ok)
}
