package snowflake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeRejectsOutOfRange(t *testing.T) {
	_, err := NewNode(-1)
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = NewNode(1024)
	assert.ErrorIs(t, err, ErrInvalidNode)
}

func TestGenerateIsIncreasing(t *testing.T) {
	node, err := NewNode(3)
	require.NoError(t, err)

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestGenerateUniqueAcrossGoroutines(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := node.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8*500)
}

func TestNextTimeMatchesID(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	node, err := NewNode(7)
	require.NoError(t, err)
	node.now = func() time.Time { return fixed }

	id, at := node.Next()
	assert.True(t, at.Equal(fixed))
	assert.True(t, Time(id).Equal(fixed))
}

func TestClockMovingBackwardsKeepsOrder(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	node, err := NewNode(2)
	require.NoError(t, err)
	node.now = func() time.Time { return now }

	first := node.Generate()
	now = now.Add(-time.Second)
	second := node.Generate()
	assert.Greater(t, second, first)
}
