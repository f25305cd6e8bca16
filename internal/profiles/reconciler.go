package profiles

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/pandactl/internal/apperr"
)

// API is the subset of the remote client the reconciler needs.
type API interface {
	ListProfiles(ctx context.Context) ([]map[string]any, error)
	UpdateProfile(ctx context.Context, id string, attrs map[string]any) error
	CreateProfile(ctx context.Context, attrs map[string]any) error
}

// Options configures a Reconciler.
type Options struct {
	SkipUnchanged bool
	// DryRun plans without issuing any write.
	DryRun bool
}

// Observer is told about every action once it has been applied, or planned
// in dry-run mode.
type Observer interface {
	ActionApplied(action Action, dryRun bool)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(action Action, dryRun bool)

func (f ObserverFunc) ActionApplied(action Action, dryRun bool) { f(action, dryRun) }

// Report lists what a reconciliation run did.
type Report struct {
	Planned []Action
	Applied []Action
	DryRun  bool
}

// Created counts applied creates.
func (r *Report) Created() int { return r.count(ActionCreate) }

// Updated counts applied updates.
func (r *Report) Updated() int { return r.count(ActionUpdate) }

func (r *Report) count(kind ActionKind) int {
	n := 0
	for _, a := range r.Applied {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// Reconciler aligns remote profiles with declared ones.
type Reconciler struct {
	api      API
	opts     Options
	observer Observer
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(api API, opts Options) *Reconciler {
	return &Reconciler{
		api:    api,
		opts:   opts,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the reconciler.
func (r *Reconciler) WithLogger(logger *slog.Logger) *Reconciler {
	r.logger = logger
	return r
}

// WithObserver sets the observer notified after each action.
func (r *Reconciler) WithObserver(o Observer) *Reconciler {
	r.observer = o
	return r
}

// Run fetches the remote profiles and applies the planned writes in order.
// The first remote failure stops the run and is returned as a
// *apperr.ServiceError together with the report of what was already applied.
// Nothing is rolled back.
func (r *Reconciler) Run(ctx context.Context, desired map[string]Profile) (*Report, error) {
	report := &Report{DryRun: r.opts.DryRun}

	remote, err := r.api.ListProfiles(ctx)
	if err != nil {
		return report, &apperr.ServiceError{Op: "fetching profiles", Err: err}
	}

	report.Planned = Plan(FromRemote(remote), desired, PlanOptions{SkipUnchanged: r.opts.SkipUnchanged})
	r.logger.Debug("profile plan computed",
		slog.Int("remote", len(remote)),
		slog.Int("desired", len(desired)),
		slog.Int("actions", len(report.Planned)),
	)

	for _, action := range report.Planned {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !r.opts.DryRun {
			if err := r.apply(ctx, action); err != nil {
				return report, err
			}
		}

		report.Applied = append(report.Applied, action)
		r.logger.Info("profile reconciled",
			slog.String("action", string(action.Kind)),
			slog.String("profile", action.Name),
			slog.Bool("dry_run", r.opts.DryRun),
		)
		if r.observer != nil {
			r.observer.ActionApplied(action, r.opts.DryRun)
		}
	}
	return report, nil
}

func (r *Reconciler) apply(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionUpdate:
		if err := r.api.UpdateProfile(ctx, action.ID, action.Payload); err != nil {
			return &apperr.ServiceError{Op: "updating", Profile: action.Name, Err: err}
		}
	case ActionCreate:
		if err := r.api.CreateProfile(ctx, action.Payload); err != nil {
			return &apperr.ServiceError{Op: "creating", Profile: action.Name, Err: err}
		}
	}
	return nil
}
