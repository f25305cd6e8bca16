// Package monitor polls the remote service until every encoding derived from
// an uploaded batch has finished.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmylchreest/pandactl/internal/apperr"
	"github.com/jmylchreest/pandactl/internal/panda"
	"github.com/jmylchreest/pandactl/internal/upload"
)

// Complete is the batch progress at which polling stops.
var Complete = decimal.NewFromInt(100)

// DefaultInterval is the pause between polling iterations.
const DefaultInterval = 3 * time.Second

// EncodingLister fetches the encodings derived from one video.
type EncodingLister interface {
	ListEncodings(ctx context.Context, path string) ([]panda.Encoding, error)
}

// Config holds the poller settings.
type Config struct {
	// Interval is the pause between iterations.
	// Default: 3 seconds
	Interval time.Duration

	// MaxIterations stops polling with a *apperr.PollTimeoutError after this
	// many incomplete iterations. Zero means unlimited.
	MaxIterations int

	// Timeout stops polling with a *apperr.PollTimeoutError once this much
	// time has passed. Zero means unlimited.
	Timeout time.Duration
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval}
}

// Result summarises a finished polling run.
type Result struct {
	Elapsed    time.Duration
	Seconds    int64
	Iterations int
}

// Poller repeatedly queries the encodings of a batch of videos.
type Poller struct {
	api    EncodingLister
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(api EncodingLister, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Poller{
		api:    api,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// WithLogger sets the logger for the poller.
func (p *Poller) WithLogger(logger *slog.Logger) *Poller {
	p.logger = logger
	return p
}

// Run polls until the batch reaches 100% and reports the elapsed time.
// onTick, when non-nil, receives the truncated batch percentage after every
// iteration. Each video's Progress is updated as soon as it is queried.
func (p *Poller) Run(ctx context.Context, videos []*upload.Video, onTick func(int)) (Result, error) {
	start := p.now()
	if len(videos) == 0 {
		return Result{}, nil
	}

	iterations := 0
	for {
		if err := ctx.Err(); err != nil {
			return p.result(start, iterations), err
		}

		batch, err := p.poll(ctx, videos)
		if err != nil {
			return p.result(start, iterations), err
		}
		iterations++

		if onTick != nil {
			onTick(int(batch.IntPart()))
		}
		p.logger.Debug("encoding progress",
			slog.Int("iteration", iterations),
			slog.String("progress", batch.StringFixed(2)),
		)

		if batch.GreaterThanOrEqual(Complete) {
			res := p.result(start, iterations)
			p.logger.Info("encoding complete",
				slog.Int("videos", len(videos)),
				slog.Int("iterations", iterations),
				slog.Duration("elapsed", res.Elapsed),
			)
			return res, nil
		}

		elapsed := p.now().Sub(start)
		if (p.cfg.MaxIterations > 0 && iterations >= p.cfg.MaxIterations) ||
			(p.cfg.Timeout > 0 && elapsed >= p.cfg.Timeout) {
			return p.result(start, iterations), &apperr.PollTimeoutError{
				Iterations: iterations,
				Elapsed:    elapsed,
				Progress:   batch.StringFixed(2),
			}
		}

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.result(start, iterations), ctx.Err()
		case <-timer.C:
		}
	}
}

// poll queries every video once and returns the batch progress.
func (p *Poller) poll(ctx context.Context, videos []*upload.Video) (decimal.Decimal, error) {
	values := make([]decimal.Decimal, 0, len(videos))
	for _, v := range videos {
		path := panda.EncodingsPath(v.ResourcePath)
		encodings, err := p.api.ListEncodings(ctx, path)
		if err != nil {
			return decimal.Zero, fmt.Errorf("querying encodings of %s: %w", v.ID, err)
		}

		progress, err := VideoProgress(encodings)
		if err != nil {
			var malformed *apperr.MalformedResponseError
			if errors.As(err, &malformed) {
				malformed.Resource = path
			}
			return decimal.Zero, err
		}
		v.Progress = progress
		values = append(values, progress)
	}
	return BatchProgress(values), nil
}

func (p *Poller) result(start time.Time, iterations int) Result {
	elapsed := p.now().Sub(start)
	return Result{
		Elapsed:    elapsed,
		Seconds:    int64(elapsed / time.Second),
		Iterations: iterations,
	}
}

// VideoProgress is the mean progress of a video's encodings. A missing or
// null value counts as zero. A video without encodings has no defined
// progress and yields a *apperr.MalformedResponseError.
func VideoProgress(encodings []panda.Encoding) (decimal.Decimal, error) {
	if len(encodings) == 0 {
		return decimal.Zero, &apperr.MalformedResponseError{
			Field:  "encodings",
			Reason: "empty encoding list",
		}
	}

	values := make([]decimal.Decimal, len(encodings))
	for i, e := range encodings {
		if e.Progress.Valid {
			values[i] = e.Progress.Decimal
		}
	}
	return mean(values), nil
}

// BatchProgress is the unweighted mean of per-video progress values.
func BatchProgress(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return mean(values)
}

func mean(values []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, values...).Div(decimal.NewFromInt(int64(len(values))))
}
