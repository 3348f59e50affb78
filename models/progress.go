package models

// ProgressEvent is broadcast after every job transition and committed batch.
type ProgressEvent struct {
	Status    JobStatus `json:"status"`
	Processed int64     `json:"processed"`
	Total     int64     `json:"total"`
	Error     *string   `json:"error"`
}

// Terminal reports whether the event closes the job's progress stream.
func (e ProgressEvent) Terminal() bool {
	return e.Status.IsTerminal()
}
