package report

import (
	"fmt"

	"github.com/banshee-data/mobile-manipulator/internal/telemetry"
	"github.com/banshee-data/mobile-manipulator/internal/tasks"
)

// CollectorFromRun rebuilds a collector from a run stored in the telemetry
// database, so that a past run can be plotted offline.
func CollectorFromRun(db *telemetry.DB, runID string) (*Collector, error) {
	cycles, err := db.Cycles(runID)
	if err != nil {
		return nil, fmt.Errorf("load cycles of run %s: %w", runID, err)
	}
	if len(cycles) == 0 {
		return nil, fmt.Errorf("run %s has no recorded cycles", runID)
	}
	records, err := db.TaskErrors(runID, "")
	if err != nil {
		return nil, fmt.Errorf("load task errors of run %s: %w", runID, err)
	}

	history := tasks.NewErrorHistory(len(cycles))
	for _, r := range records {
		if !r.Skipped && !r.Inactive {
			history.Record(r.Name, r.Timestamp, r.Error)
		}
	}

	c := NewCollector(history, len(cycles))
	for _, cy := range cycles {
		c.poses = append(c.poses, PoseSample{
			Time:            cy.Timestamp,
			X:               cy.Position[0],
			Y:               cy.Position[1],
			CovarianceTrace: cy.CovarianceTrace,
			VisionDegraded:  cy.VisionDegraded,
		})
	}
	return c, nil
}
