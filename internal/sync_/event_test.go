package sync_

import (
	"sync"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
)

func TestEvent(t *testing.T) {
	assert := assert_.New(t)
	var e Event
	assert.False(e.IsSet())
	select {
	case <-e.Wait():
		assert.Fail("<-e.Wait() should be blocking")
	default:
	}

	assert.True(e.Set())
	assert.True(e.IsSet())
	select {
	case <-e.Wait():
	default:
		assert.Fail("<-e.Wait() should not block")
	}

	// Only the first Set reports the change
	assert.False(e.Set())
	assert.True(e.IsSet())
}

func TestEventWaiters(t *testing.T) {
	assert := assert_.New(t)
	e := NewEvent()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-e.Wait()
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Fail("event should be blocking all goroutines")
	case <-time.After(100 * time.Millisecond):
	}

	var winners sync.WaitGroup
	var count int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		winners.Add(1)
		go func() {
			defer winners.Done()
			if e.Set() {
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	winners.Wait()
	assert.Equal(1, count)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		assert.Fail("event should no longer be blocking")
	}
}
