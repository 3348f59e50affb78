package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an import stage failed.
type ErrorKind string

const (
	KindStorage          ErrorKind = "storage"
	KindRead             ErrorKind = "read"
	KindIncompleteUpload ErrorKind = "incomplete_upload"
	KindUploadConsumed   ErrorKind = "upload_consumed"
)

// ImportError is the error every import stage returns. The orchestrator
// turns any ImportError into a failed job carrying Error() as its text.
type ImportError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func newImportError(kind ErrorKind, message string, err error) *ImportError {
	return &ImportError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the ImportError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}
