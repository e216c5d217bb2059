package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/controller"
	"github.com/srg/scanmux/internal/controller/sim"
	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/scheduler"
	"github.com/srg/scanmux/internal/timeutil"
)

// scenarioEpoch is the virtual time every scenario starts at.
var scenarioEpoch = time.Unix(0, 0).UTC()

// CommandEntry is one controller command issued while a step ran.
type CommandEntry struct {
	Kind string `json:"kind"`
	Args string `json:"args,omitempty"`
}

// StepResult records what one scenario step did.
type StepResult struct {
	Index    int            `json:"index"`
	Op       string         `json:"op"`
	Detail   string         `json:"detail,omitempty"`
	Elapsed  time.Duration  `json:"elapsed"`
	Error    string         `json:"error,omitempty"`
	Commands []CommandEntry `json:"commands,omitempty"`
}

// Report is the outcome of a whole scenario run.
type Report struct {
	Steps    []StepResult          `json:"steps"`
	Final    scheduler.Snapshot    `json:"final"`
	Received map[scan.ClientID]int `json:"received"`
	Dropped  int                   `json:"dropped_reports"`
}

// runner drives a scheduler on the simulated controller and a virtual clock.
type runner struct {
	sched  *scheduler.Scheduler
	radio  *sim.Controller
	clock  *timeutil.MockClock
	logger *logrus.Logger

	results  map[scan.ClientID]<-chan scan.Result
	received map[scan.ClientID]int
	seen     int
}

func newRunner(opts scheduler.Options, sc *Scenario, logger *logrus.Logger) *runner {
	if sc.ScreenOn != nil {
		opts.ScreenOn = *sc.ScreenOn
	}
	if sc.LocationEnabled != nil {
		opts.LocationEnabled = *sc.LocationEnabled
	}

	radio := sim.New(sim.Options{}, logger)
	clock := timeutil.NewMockClock(scenarioEpoch)
	sched := scheduler.New(opts, radio, clock, logger)
	radio.Bind(func(id uuid.UUID, st controller.Status) { sched.OnControllerAck(id, st) })

	return &runner{
		sched:    sched,
		radio:    radio,
		clock:    clock,
		logger:   logger,
		results:  make(map[scan.ClientID]<-chan scan.Result),
		received: make(map[scan.ClientID]int),
	}
}

// Run executes every step and returns the run report. Scheduler errors are
// recorded on their step; only infrastructure failures abort the run.
func (r *runner) Run(ctx context.Context, steps []Step) (*Report, error) {
	if err := r.sched.Run(ctx); err != nil {
		return nil, err
	}
	defer r.sched.Close()

	report := &Report{Received: r.received}
	for i := range steps {
		st := &steps[i]
		res := StepResult{Index: i + 1, Op: st.Op, Detail: st.describe()}

		if err := r.exec(ctx, st); err != nil {
			res.Error = err.Error()
			r.logger.WithFields(logrus.Fields{
				"step": res.Index,
				"op":   st.Op,
			}).WithError(err).Debug("Scenario step failed")
		}
		if err := r.settle(ctx); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", res.Index, st.Op, err)
		}

		res.Elapsed = r.clock.Since(scenarioEpoch)
		res.Commands = r.newCommands()
		report.Steps = append(report.Steps, res)
	}

	final, err := r.sched.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	report.Final = final
	report.Dropped = r.radio.Dropped()
	return report, nil
}

func (r *runner) exec(ctx context.Context, st *Step) error {
	switch st.Op {
	case opStart:
		c, err := st.client()
		if err != nil {
			return err
		}
		if err := r.sched.Start(ctx, c); err != nil {
			return err
		}
		if ch, ok := r.sched.Results(c.ID); ok {
			r.results[c.ID] = ch
		}
		return nil
	case opStop:
		r.drain(scan.ClientID(st.ID))
		return r.sched.Stop(ctx, scan.ClientID(st.ID))
	case opFlush:
		return r.sched.FlushBatch(ctx, scan.ClientID(st.ID))
	case opScreenOn:
		return r.sched.OnScreenOn(ctx)
	case opScreenOff:
		return r.sched.OnScreenOff(ctx)
	case opLocation:
		return r.sched.OnLocationEnabled(ctx, st.Enabled)
	case opImportance:
		imp, err := lookup(importances, "importance", st.Importance)
		if err != nil {
			return err
		}
		return r.sched.OnForegroundChanged(ctx, st.UID, imp)
	case opCallerDied:
		return r.sched.OnCallerDied(ctx, st.UID)
	case opAdvertise:
		adv, err := st.advertisement()
		if err != nil {
			return err
		}
		if r.radio.Inject(adv) {
			return r.sched.OnScanResult(ctx, adv)
		}
		return nil
	case opAdvance:
		r.clock.Advance(st.Duration)
		return nil
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// settle waits for the loop to run everything due, then hands batch reports read
// by the controller back to the scheduler and collects delivered results.
func (r *runner) settle(ctx context.Context) error {
	if _, err := r.sched.Snapshot(ctx); err != nil {
		return err
	}
	for reports := r.radio.TakeReports(); len(reports) > 0; reports = r.radio.TakeReports() {
		for _, rep := range reports {
			if err := r.sched.OnBatchReports(ctx, rep.Type, rep.Reports); err != nil {
				return err
			}
		}
	}
	for id := range r.results {
		r.drain(id)
	}
	return nil
}

func (r *runner) drain(id scan.ClientID) {
	ch, ok := r.results[id]
	if !ok {
		return
	}
	for {
		select {
		case _, open := <-ch:
			if !open {
				delete(r.results, id)
				return
			}
			r.received[id]++
		default:
			return
		}
	}
}

func (r *runner) newCommands() []CommandEntry {
	cmds := r.radio.Commands()
	fresh := cmds[r.seen:]
	r.seen = len(cmds)

	out := make([]CommandEntry, 0, len(fresh))
	for _, c := range fresh {
		out = append(out, CommandEntry{Kind: c.Kind.String(), Args: c.Args()})
	}
	return out
}
