package sink

import (
	"sync"

	"github.com/google/btree"

	"github.com/yairfalse/saasmeter/pkg/emission"
)

// Series is one written gauge series.
type Series struct {
	Key    string
	Name   string
	Labels emission.Labels
	Value  float64
}

func seriesLess(a, b Series) bool { return a.Key < b.Key }

// SeriesTracker tracks which series were written in the current pass and in the
// last committed pass. Iteration is ordered by series key.
type SeriesTracker struct {
	mu        sync.RWMutex
	previous  *btree.BTreeG[Series]
	current   *btree.BTreeG[Series]
	committed bool
}

// NewSeriesTracker creates an empty tracker.
func NewSeriesTracker() *SeriesTracker {
	return &SeriesTracker{
		previous: btree.NewG(32, seriesLess),
		current:  btree.NewG(32, seriesLess),
	}
}

// Observe records a write to the current pass. It reports the previous value and
// true when the same series was already written in this pass with a different value.
func (t *SeriesTracker) Observe(name string, labels emission.Labels, value float64) (float64, bool) {
	s := Series{Key: emission.SeriesKey(name, labels), Name: name, Labels: labels, Value: value}

	t.mu.Lock()
	defer t.mu.Unlock()

	old, replaced := t.current.ReplaceOrInsert(s)
	if replaced && old.Value != value {
		return old.Value, true
	}
	return 0, false
}

// Reset discards the series written so far in the current pass.
func (t *SeriesTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Clear(false)
}

// Stale returns series of the last committed pass that the current pass did not write.
// Returns nil before the first commit.
func (t *SeriesTracker) Stale() []Series {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.committed {
		return nil
	}

	var stale []Series
	t.previous.Ascend(func(s Series) bool {
		if !t.current.Has(s) {
			stale = append(stale, s)
		}
		return true
	})
	return stale
}

// Commit makes the current pass the baseline for the next one.
func (t *SeriesTracker) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.previous = t.current
	t.current = btree.NewG(32, seriesLess)
	t.committed = true
}

// Active returns the series of the last committed pass in key order.
func (t *SeriesTracker) Active() []Series {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Series, 0, t.previous.Len())
	t.previous.Ascend(func(s Series) bool {
		out = append(out, s)
		return true
	})
	return out
}
