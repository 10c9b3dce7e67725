// Package scheduler holds the SchedulerState entity: the singleton DCA
// scheduler row.
package scheduler

import "time"

// State is the single persisted row backing the DCA scheduler. At most one
// row may exist (id=1); LastRunAt is monotonic non-decreasing.
type State struct {
	LastRunAt  *time.Time
	IntervalMS int64
	UpdatedAt  time.Time
}
