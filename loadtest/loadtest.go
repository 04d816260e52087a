package loadtest

import (
	"context"
	"time"

	"github.com/AaronZLT/CL-EDEN-kernel-sub009/buffers"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/engine"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/handles"
	"github.com/AaronZLT/CL-EDEN-kernel-sub009/scheduler"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Tolerance of the output comparison.
const Tolerance = 1e-5

// sessionState is the caller-owned memory and statistics of one session. It is only touched by the
// goroutine currently driving the session.
type sessionState struct {
	id          handles.SessionID
	a, b, out   []byte
	iteration   int
	submittedAt time.Time
	stats       SessionStats
}

// Runner runs the load test of one configuration on an engine.
type Runner struct {
	cfg    *Config
	engine *engine.Engine
	runID  string

	// OnExecution, if set, is called after each execution is checked. It may be called concurrently.
	OnExecution func()

	model    handles.ModelID
	sessions []*sessionState
}

// NewRunner validates the configuration and returns a Runner for it.
func NewRunner(e *engine.Engine, cfg *Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, engine: e, runID: uuid.NewString()}, nil
}

// RunID identifies this run in logs and dump file names.
func (r *Runner) RunID() string { return r.runID }

// TotalExecutions that Run will perform.
func (r *Runner) TotalExecutions() int { return r.cfg.SessionCount * r.cfg.IterationCount }

// Run opens the demo model, binds and commits every session, drives them according to the configured mode,
// and closes the model. The report is returned even if some outputs didn't match, along with an error.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	table, graphConfig, err := DemoModel(r.cfg.Elements)
	if err != nil {
		return nil, err
	}
	r.model, err = r.engine.OpenModel(table, graphConfig)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.engine.CloseModel(r.model); err != nil {
			klog.Warningf("Load test %s: failed to close %s: %+v", r.runID, r.model, err)
		}
	}()
	if err = r.setup(); err != nil {
		return nil, err
	}

	klog.V(1).Infof("Load test %s: %d sessions x %d iterations of %s in %s mode", r.runID,
		r.cfg.SessionCount, r.cfg.IterationCount, r.model, r.cfg.Mode)
	start := time.Now()
	switch r.cfg.Mode {
	case ModePipeline:
		err = r.runPipeline(ctx)
	default:
		err = r.runThreads(ctx)
	}
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.WithMessagef(err, "load test %s", r.runID)
	}

	report := r.report(elapsed)
	if r.cfg.DumpPrefix != "" {
		prefix := r.cfg.DumpPrefix + "_" + r.runID
		report.DumpFiles, err = r.engine.Registry().Dump(r.model, 0, prefix)
		if err != nil {
			return report, errors.WithMessagef(err, "load test %s", r.runID)
		}
	}
	if report.Mismatches > 0 {
		return report, errors.Errorf("load test %s: %d output elements differ from the expected values", r.runID, report.Mismatches)
	}
	return report, nil
}

// setup generates the buffer space, binds the memory of every session and commits them.
func (r *Runner) setup() error {
	reg, sched := r.engine.Registry(), r.engine.Scheduler()
	if err := sched.GenerateBufferSpace(r.model, r.cfg.SessionCount); err != nil {
		return err
	}
	size := 4 * r.cfg.Elements
	r.sessions = make([]*sessionState, r.cfg.SessionCount)
	for ii := range r.sessions {
		state := &sessionState{
			id:  handles.SessionID(ii),
			a:   make([]byte, size),
			b:   make([]byte, size),
			out: make([]byte, size),
		}
		state.stats.ID = state.id
		r.sessions[ii] = state
		for name, data := range map[string][]byte{"a": state.a, "b": state.b, "out": state.out} {
			if err := reg.BindByName(r.model, ii, name, buffers.NewHostObject(data)); err != nil {
				return err
			}
		}
		if _, err := reg.BindExtRegions(r.engine.AuxiliaryPool(), r.model, ii); err != nil {
			return err
		}
		if err := sched.Commit(r.model, state.id); err != nil {
			return err
		}
	}
	return nil
}

// submit fills the inputs of the session for its next iteration and executes it.
func (r *Runner) submit(state *sessionState) error {
	FillInputs(state.a, state.b, int(state.id)*r.cfg.IterationCount+state.iteration)
	state.submittedAt = time.Now()
	return r.engine.Scheduler().ExecuteAsync(r.model, state.id)
}

// complete waits for the execution of the session and checks its outputs.
func (r *Runner) complete(state *sessionState) error {
	if err := r.engine.Scheduler().Wait(r.model, state.id); err != nil {
		return err
	}
	state.stats.record(time.Since(state.submittedAt))
	state.stats.Mismatches += CheckOutputs(state.a, state.b, state.out, Tolerance)
	state.iteration++
	if r.OnExecution != nil {
		r.OnExecution()
	}
	return nil
}

// runThreads drives each session from its own goroutine.
func (r *Runner) runThreads(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, state := range r.sessions {
		g.Go(func() error {
			for range r.cfg.IterationCount {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := r.submit(state); err != nil {
					return err
				}
				if err := r.complete(state); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// runPipeline submits on idle sessions from a producer goroutine, and waits on them from a consumer goroutine.
func (r *Runner) runPipeline(ctx context.Context) error {
	slots := scheduler.NewSlotPool(len(r.sessions))
	inFlight := make(chan *sessionState, len(r.sessions))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(inFlight)
		for range r.TotalExecutions() {
			sid, err := slots.Acquire(ctx)
			if err != nil {
				return err
			}
			state := r.sessions[sid]
			if err = r.submit(state); err != nil {
				return err
			}
			inFlight <- state
		}
		return nil
	})
	g.Go(func() error {
		for state := range inFlight {
			if err := r.complete(state); err != nil {
				return err
			}
			if err := slots.Release(state.id); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}

func (r *Runner) report(elapsed time.Duration) *Report {
	report := &Report{
		RunID:          r.runID,
		Config:         *r.cfg,
		Driver:         r.engine.Driver().Name(),
		Model:          r.model,
		Duration:       elapsed,
		AuxiliaryBytes: r.engine.AuxiliaryPool().TotalBytes(),
	}
	if table, err := r.engine.Registry().Table(r.model); err == nil {
		report.BoundBytes = table.TotalSize() * len(r.sessions)
	}
	for _, state := range r.sessions {
		report.Sessions = append(report.Sessions, state.stats)
		report.Executions += state.stats.Executions
		report.Mismatches += state.stats.Mismatches
	}
	return report
}
