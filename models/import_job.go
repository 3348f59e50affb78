package models

import "time"

// JobStatus is a step in the import job lifecycle.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusParsing     JobStatus = "parsing"
	JobStatusImporting   JobStatus = "importing"
	JobStatusValidating  JobStatus = "validating"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// jobChain is the only forward path a job may take. failed is reachable
// from any non-terminal state and is kept out of the chain.
var jobChain = []JobStatus{
	JobStatusPending,
	JobStatusDownloading,
	JobStatusParsing,
	JobStatusImporting,
	JobStatusValidating,
	JobStatusCompleted,
}

func (s JobStatus) rank() int {
	for i, st := range jobChain {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no further mutation of the job is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	return s == JobStatusFailed || s.rank() >= 0
}

// CanTransitionTo reports whether a job in status s may move to next.
// Transitions only follow the chain one step at a time, or go to failed
// from any non-terminal status.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !s.IsValid() || s.IsTerminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	from, to := s.rank(), next.rank()
	return from >= 0 && to == from+1
}

// Predecessors lists the statuses from which next can be entered.
func (s JobStatus) Predecessors() []JobStatus {
	if s == JobStatusFailed {
		out := make([]JobStatus, 0, len(jobChain)-1)
		for _, st := range jobChain {
			if !st.IsTerminal() {
				out = append(out, st)
			}
		}
		return out
	}
	if r := s.rank(); r > 0 {
		return []JobStatus{jobChain[r-1]}
	}
	return nil
}

// After reports whether s is strictly further along the chain than other.
func (s JobStatus) After(other JobStatus) bool {
	return s.rank() > other.rank()
}

// ImportJob records one ingestion attempt of an uploaded catalog file.
type ImportJob struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UploadID      string    `json:"upload_id" gorm:"size:255;index"`
	Status        JobStatus `json:"status" gorm:"type:varchar(64);not null;index"`
	TotalRows     int64     `json:"total_rows" gorm:"not null"`
	ProcessedRows int64     `json:"processed_rows" gorm:"not null"`
	Error         *string   `json:"error,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

// Progress returns the lightweight event describing the job's current state.
func (j *ImportJob) Progress() ProgressEvent {
	return ProgressEvent{
		Status:    j.Status,
		Processed: j.ProcessedRows,
		Total:     j.TotalRows,
		Error:     j.Error,
	}
}
