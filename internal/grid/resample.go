// Package grid turns irregular raw snapshots into one-second batches of
// evenly spaced rows.
//
// Each window [start, start+1s) produces 1s/interval rows. The row at grid
// instant g carries the tags of the newest snapshot whose timestamp is <= g
// (zero-order hold). The held tag set survives across windows, so a window
// without snapshots repeats the last known values.
package grid

import (
	"sort"
	"time"

	"github.com/xtxerr/gridrelay/internal/types"
)

// Resample builds the rows of the window starting at start.
//
// samples need not be ordered; they are sorted by timestamp (stable, so
// snapshots sharing a timestamp keep arrival order). held is the tag set in
// effect before the window. Resample returns the rows and the tag set in
// effect after the window.
func Resample(start time.Time, interval time.Duration, samples []types.Snapshot, held types.Tags) ([]types.GridRow, types.Tags) {
	n := int(time.Second / interval)
	rows := make([]types.GridRow, n)

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	cursor := 0
	for k := 0; k < n; k++ {
		instant := start.Add(time.Duration(k) * interval)
		for cursor < len(samples) && !samples[cursor].Timestamp.After(instant) {
			held = samples[cursor].Tags
			cursor++
		}
		rows[k] = types.GridRow{Timestamp: instant, Tags: held}
	}

	// Snapshots after the last grid instant but inside the window are held
	// for the next window's first rows.
	if len(samples) > 0 && cursor < len(samples) {
		held = samples[len(samples)-1].Tags
	}

	return rows, held
}
