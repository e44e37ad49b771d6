package bench

import (
	"context"
	"time"

	"github.com/wippyai/wasm-sandbox/errors"
)

// Result is the timing of one workload.
type Result struct {
	Workload   Workload
	Iterations int
	Total      time.Duration
	Min        time.Duration
	Max        time.Duration
	Err        error
}

// PerOp returns the mean time per iteration.
func (r Result) PerOp() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Total / time.Duration(r.Iterations)
}

// Measure prepares w, runs it iterations times and times each iteration.
// progress, if set, is called after every iteration. The first failing
// iteration stops the run and is reported in Result.Err.
func Measure(ctx context.Context, env *Env, w Workload, iterations int, progress func(done int)) (res Result) {
	res.Workload = w
	fx, err := w.Prepare(ctx, env)
	if err != nil {
		res.Err = errors.Wrap(errors.PhaseSchedule, errors.KindInstantiation, err, "prepare "+w.ID())
		return res
	}
	defer func() {
		if cerr := fx.Close(ctx); cerr != nil && res.Err == nil {
			res.Err = cerr
		}
	}()

	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		start := time.Now()
		err := fx.Op(ctx)
		d := time.Since(start)
		if err != nil {
			res.Err = err
			return res
		}

		res.Iterations++
		res.Total += d
		if res.Min == 0 || d < res.Min {
			res.Min = d
		}
		if d > res.Max {
			res.Max = d
		}
		if progress != nil {
			progress(res.Iterations)
		}
	}
	return res
}
