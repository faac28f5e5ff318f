package models

import "time"

// ReviewRun is one recorded review in the history store.
type ReviewRun struct {
	ID         string
	Mode       string // pr, rev, or wip
	PR         int    // 0 unless Mode == "pr"
	Commit     string
	Systems    []string
	Built      int
	Failed     int
	Broken     int
	Success    bool
	ReportPath string
	Duration   time.Duration
	CreatedAt  time.Time
}
