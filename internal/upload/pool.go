package upload

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/pandactl/internal/apperr"
)

// DefaultWorkers returns twice the number of logical CPUs.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return 2 * n
}

func resolveWorkers(n int) int {
	if n > 0 {
		return n
	}
	return DefaultWorkers()
}

// runPool calls fn for every index in [0, n) with at most workers calls in
// flight. Results are stored by index, so their order never depends on
// completion order.
//
// In abort mode the first failure cancels the context handed to the
// remaining calls and is returned alone. With continueOnError every index is
// attempted; the successful results are returned compacted in input order
// alongside a *apperr.BatchError describing the failures.
func runPool[T any](ctx context.Context, phase string, workers, n int, continueOnError bool, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	results := make([]T, n)
	if n == 0 {
		return results, nil
	}

	if !continueOnError {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := fn(gctx, i)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}

	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			r, err := fn(ctx, i)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok    = make([]T, 0, n)
		batch = &apperr.BatchError{Phase: phase, Total: n}
	)
	for i := range results {
		if errs[i] != nil {
			batch.Items = append(batch.Items, apperr.ItemError{Index: i, Err: errs[i]})
			continue
		}
		ok = append(ok, results[i])
	}
	if len(batch.Items) > 0 {
		return ok, batch
	}
	return ok, nil
}
