// internal/heal/regression.go
package heal

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Detector guards the healing loop against silent regressions and
// non-convergence. It keeps a bounded sliding window of state snapshots; a
// state that recurs inside the window means the loop is cycling.
type Detector struct {
	logger             *zap.Logger
	window             int
	requireNetProgress bool

	history []TestStateSnapshot
	hashes  map[string]int
}

// NewDetector builds a detector with the given oscillation window.
func NewDetector(window int, requireNetProgress bool, logger *zap.Logger) *Detector {
	if window <= 0 {
		window = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		logger:             logger.Named("regression"),
		window:             window,
		requireNetProgress: requireNetProgress,
		hashes:             map[string]int{},
	}
}

// RecordState snapshots a result map into the window, evicting the oldest
// snapshot and its hash membership on overflow.
func (d *Detector) RecordState(results map[string]bool) TestStateSnapshot {
	snap := NewSnapshot(results)
	d.history = append(d.history, snap)

	if len(d.history) > d.window {
		evicted := d.history[0]
		d.history = d.history[1:]
		if d.hashes[evicted.Hash] > 0 {
			d.hashes[evicted.Hash]--
			if d.hashes[evicted.Hash] == 0 {
				delete(d.hashes, evicted.Hash)
			}
		}
	}
	d.hashes[snap.Hash]++
	return snap
}

// CheckRegression compares two snapshots. Tests present in only one snapshot
// are excluded from both lists.
func (d *Detector) CheckRegression(before, after TestStateSnapshot) RegressionReport {
	var newlyFailing, newlyPassing []string
	for name, was := range before.Results {
		now, ok := after.Results[name]
		if !ok || was == now {
			continue
		}
		if was && !now {
			newlyFailing = append(newlyFailing, name)
		} else {
			newlyPassing = append(newlyPassing, name)
		}
	}
	sort.Strings(newlyFailing)
	sort.Strings(newlyPassing)

	net := len(newlyPassing) - len(newlyFailing)
	report := RegressionReport{
		HasRegression: len(newlyFailing) > 0,
		NewlyFailing:  newlyFailing,
		NewlyPassing:  newlyPassing,
		NetChange:     net,
	}

	switch {
	case report.HasRegression:
		report.Message = fmt.Sprintf("REGRESSION: %d tests now failing", len(newlyFailing))
	case net > 0:
		report.Message = fmt.Sprintf("IMPROVEMENT: %d more tests passing", net)
	case net == 0:
		report.Message = "NO CHANGE: same number of tests passing/failing"
	default:
		report.Message = fmt.Sprintf("NET REGRESSION: %d fewer tests passing", -net)
	}
	return report
}

// DetectOscillation reports whether the target snapshot's state matches any
// earlier snapshot in the window. With a nil target the latest snapshot is
// checked. An empty window never oscillates.
func (d *Detector) DetectOscillation(target *TestStateSnapshot) bool {
	var hash string
	switch {
	case target != nil:
		hash = target.Hash
	case len(d.history) > 0:
		hash = d.history[len(d.history)-1].Hash
	default:
		return false
	}

	for _, snap := range d.history[:max(len(d.history)-1, 0)] {
		if snap.Hash == hash {
			return true
		}
	}
	return false
}

// ShouldStop decides whether the loop is done. A clean suite always stops the
// session, regardless of oscillation state or the net-progress setting.
func (d *Detector) ShouldStop(current, initial TestStateSnapshot) (bool, string) {
	if current.FailedCount() == 0 {
		return true, "all tests passing"
	}

	if d.DetectOscillation(&current) {
		return true, "oscillation detected - same state seen twice"
	}

	if d.requireNetProgress {
		report := d.CheckRegression(initial, current)
		if report.NetChange < 0 {
			return true, fmt.Sprintf("no net progress - %d more failures than start", -report.NetChange)
		}
	}

	return false, ""
}

// HistorySummary renders the window for operator display.
func (d *Detector) HistorySummary() string {
	if len(d.history) == 0 {
		return "No history recorded"
	}
	lines := []string{"State History:"}
	for i, snap := range d.history {
		lines = append(lines, fmt.Sprintf("  %d. [%s] %d/%d passed (%s)",
			i+1, snap.Hash, snap.PassedCount(), snap.TotalCount(),
			snap.CreatedAt.Format("15:04:05")))
	}
	return strings.Join(lines, "\n")
}

// Reset clears the window.
func (d *Detector) Reset() {
	d.history = nil
	d.hashes = map[string]int{}
	d.logger.Debug("detector reset")
}
