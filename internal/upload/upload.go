// Package upload transfers local video files to the remote encoding service.
//
// Sessions are requested and files streamed by a bounded pool of workers.
// Results always come back in input order.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/jmylchreest/pandactl/internal/apperr"
	"github.com/jmylchreest/pandactl/internal/catalog"
	"github.com/jmylchreest/pandactl/internal/panda"
	"github.com/jmylchreest/pandactl/pkg/httpclient"
)

// DefaultPathFormat is the storage path template sent with every session request.
const DefaultPathFormat = "profiling/:date/:video_id/:profile/:id"

// Batch phase names used in BatchError.
const (
	PhaseSessions = "upload sessions"
	PhaseUploads  = "uploads"
)

// SessionAPI requests upload destinations.
type SessionAPI interface {
	CreateUploadSession(ctx context.Context, req panda.UploadRequest) (string, error)
}

// TransferAPI streams file bytes to an upload destination.
type TransferAPI interface {
	UploadFile(ctx context.Context, location string, open func() (io.ReadCloser, error), size int64) (string, error)
}

// API is the subset of the remote client an Uploader needs.
type API interface {
	SessionAPI
	TransferAPI
}

// Session binds one file to the destination it must be streamed to.
type Session struct {
	File     *catalog.VideoFile
	Location string
}

func (s *Session) String() string { return s.Location }

// Video is a remote video resource created from an uploaded file.
// Progress is only written by the completion monitor.
type Video struct {
	File         *catalog.VideoFile
	ID           string
	ResourcePath string
	Progress     decimal.Decimal
}

func (v *Video) String() string {
	return fmt.Sprintf("%s @ %s (%s%%)", v.File.Name(), v.ResourcePath, v.Progress.StringFixed(2))
}

// Options configures the worker pool shared by both phases.
type Options struct {
	// Workers bounds concurrent remote calls. Zero selects DefaultWorkers.
	Workers int
	// ContinueOnError attempts every item and reports failures together
	// instead of aborting on the first one.
	ContinueOnError bool
	// PathFormat overrides DefaultPathFormat.
	PathFormat string
}

// Observer is notified as files move through the pipeline. Calls may arrive
// concurrently from several workers.
type Observer interface {
	SessionRequested(file *catalog.VideoFile)
	UploadStarted(session *Session)
	UploadFinished(video *Video)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) SessionRequested(*catalog.VideoFile) {}
func (NopObserver) UploadStarted(*Session) {}
func (NopObserver) UploadFinished(*Video) {}

// Initiator requests one upload session per file.
type Initiator struct {
	api      SessionAPI
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// NewInitiator creates an Initiator.
func NewInitiator(api SessionAPI, opts Options) *Initiator {
	if opts.PathFormat == "" {
		opts.PathFormat = DefaultPathFormat
	}
	return &Initiator{
		api:      api,
		opts:     opts,
		observer: NopObserver{},
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the initiator.
func (in *Initiator) WithLogger(logger *slog.Logger) *Initiator {
	in.logger = logger
	return in
}

// WithObserver sets the progress observer.
func (in *Initiator) WithObserver(o Observer) *Initiator {
	if o != nil {
		in.observer = o
	}
	return in
}

// Initiate requests a session for every file. sessions[i] always belongs to
// files[i]. Any failure is reported as a *apperr.SessionInitError.
func (in *Initiator) Initiate(ctx context.Context, files []*catalog.VideoFile) ([]*Session, error) {
	workers := resolveWorkers(in.opts.Workers)
	in.logger.Debug("requesting upload sessions",
		slog.Int("files", len(files)),
		slog.Int("workers", workers),
	)

	return runPool(ctx, PhaseSessions, workers, len(files), in.opts.ContinueOnError,
		func(ctx context.Context, i int) (*Session, error) {
			file := files[i]
			in.observer.SessionRequested(file)

			location, err := in.api.CreateUploadSession(ctx, panda.UploadRequest{
				FileName:       file.Name(),
				FileSize:       file.Size(),
				UseAllProfiles: true,
				PathFormat:     in.opts.PathFormat,
			})
			if err != nil {
				return nil, &apperr.SessionInitError{Path: file.Path(), Err: err}
			}

			in.logger.Debug("upload session created",
				slog.String("file", file.Path()),
				slog.String("location", location),
			)
			return &Session{File: file, Location: location}, nil
		})
}

// Executor streams each session's file to its destination.
type Executor struct {
	api      TransferAPI
	fs       afero.Fs
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// NewExecutor creates an Executor reading files from fsys.
func NewExecutor(api TransferAPI, fsys afero.Fs, opts Options) *Executor {
	return &Executor{
		api:      api,
		fs:       fsys,
		opts:     opts,
		observer: NopObserver{},
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the executor.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithObserver sets the progress observer.
func (e *Executor) WithObserver(o Observer) *Executor {
	if o != nil {
		e.observer = o
	}
	return e
}

// Upload streams every session's file. videos[i] always belongs to
// sessions[i].
func (e *Executor) Upload(ctx context.Context, sessions []*Session) ([]*Video, error) {
	workers := resolveWorkers(e.opts.Workers)
	e.logger.Debug("uploading files",
		slog.Int("files", len(sessions)),
		slog.Int("workers", workers),
	)

	return runPool(ctx, PhaseUploads, workers, len(sessions), e.opts.ContinueOnError,
		func(ctx context.Context, i int) (*Video, error) {
			return e.uploadOne(ctx, sessions[i])
		})
}

func (e *Executor) uploadOne(ctx context.Context, s *Session) (*Video, error) {
	path := s.File.Path()
	open := func() (io.ReadCloser, error) {
		return e.fs.Open(path)
	}

	e.observer.UploadStarted(s)
	id, err := e.api.UploadFile(ctx, s.Location, open, s.File.Size())
	if err != nil {
		return nil, classifyUploadError(s, err)
	}

	v := &Video{
		File:         s.File,
		ID:           id,
		ResourcePath: panda.VideoPath(id),
		Progress:     decimal.Zero,
	}
	e.logger.Debug("file uploaded",
		slog.String("file", path),
		slog.String("video_id", id),
	)
	e.observer.UploadFinished(v)
	return v, nil
}

func classifyUploadError(s *Session, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, apperr.ErrMalformedResponse) {
		return err
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &apperr.FileLoadError{Path: s.File.Path(), Err: err}
	}

	transportErr := &apperr.UploadTransportError{Path: s.File.Path(), Location: s.Location, Err: err}
	var (
		apiErr    *panda.APIError
		statusErr *httpclient.StatusError
	)
	switch {
	case errors.As(err, &apiErr):
		transportErr.StatusCode = apiErr.StatusCode
	case errors.As(err, &statusErr):
		transportErr.StatusCode = statusErr.StatusCode
	}
	return transportErr
}

// Uploader runs both phases for a batch of files.
type Uploader struct {
	initiator *Initiator
	executor  *Executor
}

// NewUploader creates an Uploader sharing opts between both phases.
func NewUploader(api API, fsys afero.Fs, opts Options) *Uploader {
	return &Uploader{
		initiator: NewInitiator(api, opts),
		executor:  NewExecutor(api, fsys, opts),
	}
}

// WithLogger sets the logger for both phases.
func (u *Uploader) WithLogger(logger *slog.Logger) *Uploader {
	u.initiator.WithLogger(logger)
	u.executor.WithLogger(logger)
	return u
}

// WithObserver sets the observer for both phases.
func (u *Uploader) WithObserver(o Observer) *Uploader {
	u.initiator.WithObserver(o)
	u.executor.WithObserver(o)
	return u
}

// Run requests sessions for files and uploads them. In continue-on-error mode
// the videos that made it through both phases are returned together with the
// joined batch errors of both phases.
func (u *Uploader) Run(ctx context.Context, files []*catalog.VideoFile) ([]*Video, error) {
	sessions, sessErr := u.initiator.Initiate(ctx, files)
	if sessErr != nil && !isBatch(sessErr) {
		return nil, sessErr
	}

	videos, upErr := u.executor.Upload(ctx, sessions)
	if upErr != nil && !isBatch(upErr) {
		return nil, upErr
	}

	return videos, errors.Join(sessErr, upErr)
}

func isBatch(err error) bool {
	var batch *apperr.BatchError
	return errors.As(err, &batch)
}
