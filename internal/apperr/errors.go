// Package apperr defines the error taxonomy shared by the encode and sync
// workflows. Every concrete error unwraps to its cause and matches one of the
// sentinel values below via errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors, one per failure class.
var (
	// ErrFileLoad indicates a local video file could not be stat'ed or opened.
	ErrFileLoad = errors.New("file load failed")

	// ErrSessionInit indicates the service rejected or mangled an upload session request.
	ErrSessionInit = errors.New("upload session init failed")

	// ErrUploadTransport indicates streaming file bytes to a destination failed.
	ErrUploadTransport = errors.New("upload transport failed")

	// ErrMalformedResponse indicates a response lacked expected fields.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrService indicates a remote failure during profile reconciliation.
	ErrService = errors.New("service error")

	// ErrPollTimeout indicates the progress poller hit its iteration or time cap.
	ErrPollTimeout = errors.New("poll timeout")
)

// FileLoadError is returned when a video file record cannot be constructed.
type FileLoadError struct {
	Path string
	Err  error
}

func (e *FileLoadError) Error() string {
	return fmt.Sprintf("loading video file %s: %v", e.Path, e.Err)
}

func (e *FileLoadError) Unwrap() error { return e.Err }

// Is reports ErrFileLoad as matching.
func (e *FileLoadError) Is(target error) bool { return target == ErrFileLoad }

// SessionInitError is returned when an upload session cannot be created for a file.
type SessionInitError struct {
	Path string
	Err  error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("creating upload session for %s: %v", e.Path, e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// Is reports ErrSessionInit as matching.
func (e *SessionInitError) Is(target error) bool { return target == ErrSessionInit }

// UploadTransportError is returned when streaming a file to its destination fails.
// StatusCode is zero for transport faults that never produced a response.
type UploadTransportError struct {
	Path       string
	Location   string
	StatusCode int
	Err        error
}

func (e *UploadTransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("uploading %s to %s: status %d: %v", e.Path, e.Location, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("uploading %s to %s: %v", e.Path, e.Location, e.Err)
}

func (e *UploadTransportError) Unwrap() error { return e.Err }

// Is reports ErrUploadTransport as matching.
func (e *UploadTransportError) Is(target error) bool { return target == ErrUploadTransport }

// MalformedResponseError is returned when a response body is missing a field
// the caller depends on, or carries a shape that cannot be aggregated.
type MalformedResponseError struct {
	Resource string
	Field    string
	Reason   string
}

func (e *MalformedResponseError) Error() string {
	switch {
	case e.Field != "" && e.Reason != "":
		return fmt.Sprintf("malformed response from %s: field %q: %s", e.Resource, e.Field, e.Reason)
	case e.Field != "":
		return fmt.Sprintf("malformed response from %s: missing field %q", e.Resource, e.Field)
	default:
		return fmt.Sprintf("malformed response from %s: %s", e.Resource, e.Reason)
	}
}

// Is reports ErrMalformedResponse as matching.
func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

// ServiceError wraps a remote failure raised while reconciling profiles.
type ServiceError struct {
	Op      string
	Profile string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Profile != "" {
		return fmt.Sprintf("%s profile %q: %v", e.Op, e.Profile, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is reports ErrService as matching.
func (e *ServiceError) Is(target error) bool { return target == ErrService }

// PollTimeoutError is returned when the completion monitor gives up.
type PollTimeoutError struct {
	Iterations int
	Elapsed    time.Duration
	Progress   string
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("encoding did not complete after %d polls (%s elapsed, last progress %s%%)",
		e.Iterations, e.Elapsed.Round(time.Second), e.Progress)
}

// Is reports ErrPollTimeout as matching.
func (e *PollTimeoutError) Is(target error) bool { return target == ErrPollTimeout }

// ItemError records the failure of one item in a batch, keyed by input index.
type ItemError struct {
	Index int
	Err   error
}

// BatchError collects per-item failures when a batch runs in continue-on-error mode.
type BatchError struct {
	Phase string
	Total int
	Items []ItemError
}

func (e *BatchError) Error() string {
	msgs := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		msgs = append(msgs, it.Err.Error())
	}
	return fmt.Sprintf("%s: %d of %d items failed: %s", e.Phase, len(e.Items), e.Total, strings.Join(msgs, "; "))
}

// Unwrap exposes every item error so errors.Is and errors.As see through the batch.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Items))
	for _, it := range e.Items {
		errs = append(errs, it.Err)
	}
	return errs
}
