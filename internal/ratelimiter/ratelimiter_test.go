package ratelimiter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		burst int
		want  int
	}{
		{"standard rate", 1, 5, 5},
		{"zero burst", 1, 0, 1},
		{"unlimited", 0, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.rate, tt.burst)
			allowed := 0
			for i := 0; i < 100; i++ {
				if ok, _ := l.Allow(); ok {
					allowed++
				}
			}
			assert.Equal(t, tt.want, allowed)
		})
	}
}

func TestDroppedCount(t *testing.T) {
	// one token per ~3 hours: only the burst gets through
	l := New(0.0001, 1)

	ok, dropped := l.Allow()
	assert.True(t, ok)
	assert.Zero(t, dropped)

	for i := 0; i < 3; i++ {
		ok, _ = l.Allow()
		assert.False(t, ok)
	}
	assert.Equal(t, uint64(3), l.Dropped())
}

func TestDroppedCountReset(t *testing.T) {
	l := New(0, 1)
	l.dropped.Store(7)

	ok, dropped := l.Allow()
	assert.True(t, ok)
	assert.Equal(t, uint64(7), dropped)
	assert.Zero(t, l.Dropped())
}

func TestConcurrentAllow(t *testing.T) {
	l := New(0.0001, 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}
