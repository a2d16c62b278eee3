package domain

// JobStatus is the status of a remote bulk export job.
type JobStatus string

const (
	JobCreated   JobStatus = "CREATED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCanceled  JobStatus = "CANCELED"
	JobCanceling JobStatus = "CANCELING"
	JobExpired   JobStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCanceled, JobExpired:
		return true
	default:
		return false
	}
}

// ExportJob is an asynchronous full-catalog export on the remote platform.
type ExportJob struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	URL         string    `json:"url,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	ObjectCount int64     `json:"objectCount,omitempty"`
}
