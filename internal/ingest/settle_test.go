package ingest

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettlement_FirstWins(t *testing.T) {
	gate := newSettlement()

	assert.True(t, gate.settle(outcome{result: Result{SheetID: 1}, source: "worker"}))
	assert.False(t, gate.settle(outcome{err: errors.New("late"), source: "timeout"}))

	select {
	case <-gate.Done():
	default:
		t.Fatal("Done should be closed after the first settle")
	}

	won := gate.winner()
	assert.Equal(t, "worker", won.source)
	assert.NoError(t, won.err)
	assert.Equal(t, int64(1), won.result.SheetID)
}

func TestSettlement_ConcurrentSettleAdmitsOne(t *testing.T) {
	for i := 0; i < 200; i++ {
		gate := newSettlement()

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})

		sources := []string{"worker", "parse_error", "timeout", "context"}
		for _, source := range sources {
			wg.Add(1)
			go func(source string) {
				defer wg.Done()
				<-start
				if gate.settle(outcome{source: source}) {
					wins.Add(1)
				}
			}(source)
		}

		close(start)
		wg.Wait()

		<-gate.Done()
		assert.Equal(t, int32(1), wins.Load())
		assert.Contains(t, sources, gate.winner().source)
	}
}
