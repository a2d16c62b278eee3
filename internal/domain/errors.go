package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLockContention means another run holds the catalog lock.
	ErrLockContention = errors.New("catalog is locked by another run")

	// ErrPollTimeout means the export job did not reach a terminal state in time.
	ErrPollTimeout = errors.New("export job polling timed out")

	// ErrDocumentNotFound is returned by partial updates of missing documents.
	ErrDocumentNotFound = errors.New("document not found")
)

// TransientRemoteError is a network or 5xx failure that may succeed on retry.
type TransientRemoteError struct {
	Op  string
	Err error
}

func (e *TransientRemoteError) Error() string {
	return fmt.Sprintf("%s: transient remote error: %v", e.Op, e.Err)
}

func (e *TransientRemoteError) Unwrap() error { return e.Err }

// SchemaIncompatibilityError means the remote API rejected a field of our query.
type SchemaIncompatibilityError struct {
	Message string
}

func (e *SchemaIncompatibilityError) Error() string {
	return "remote schema incompatible: " + e.Message
}

// TerminalJobError means the export job itself ended as FAILED or CANCELED.
type TerminalJobError struct {
	JobID     string
	Status    JobStatus
	ErrorCode string
}

func (e *TerminalJobError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("export job %s %s: %s", e.JobID, e.Status, e.ErrorCode)
	}
	return fmt.Sprintf("export job %s %s", e.JobID, e.Status)
}

// RowParseError is a malformed export line.
type RowParseError struct {
	Line int64
	Err  error
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowParseError) Unwrap() error { return e.Err }

// WriteError is a single document rejected by the search index.
type WriteError struct {
	ID     string
	Status int
	Type   string
	Reason string
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %d %s: %s", e.ID, e.Status, e.Type, e.Reason)
}
