package batch

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/controller"
)

// Issuer sends one controller command and waits for its acknowledgement.
type Issuer interface {
	Do(ctx context.Context, cmd controller.Command) error
}

// Coordinator keeps the controller's batch configuration in line with the batch
// client set. It is owned by the scheduler loop.
type Coordinator struct {
	issuer Issuer
	logger *logrus.Logger

	applied Aggregate
	// stale is set when the last sequence was not fully acknowledged; the next
	// Apply re-issues even if the aggregate did not change.
	stale bool
}

// NewCoordinator creates a coordinator with nothing applied.
func NewCoordinator(issuer Issuer, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{
		issuer:  issuer,
		logger:  logger,
		applied: Empty,
	}
}

// Applied returns the aggregate last pushed to the controller.
func (c *Coordinator) Applied() Aggregate {
	return c.applied
}

// Stale reports whether the applied aggregate is unconfirmed.
func (c *Coordinator) Stale() bool {
	return c.stale
}

// Apply reconciles the controller with next. It reports whether any command was
// issued. Failed commands are returned joined; the aggregate is still recorded as
// applied and marked stale so the next change re-issues it.
func (c *Coordinator) Apply(ctx context.Context, next Aggregate) (bool, error) {
	if next == c.applied && !c.stale {
		return false, nil
	}

	var errs []error
	prev := c.applied
	if !prev.IsEmpty() {
		if err := c.issuer.Do(ctx, controller.StopBatch()); err != nil {
			errs = append(errs, err)
		}
		if err := c.read(ctx, prev); err != nil {
			errs = append(errs, err)
		}
	}

	if !next.IsEmpty() {
		if err := c.issuer.Do(ctx, controller.ConfigureBatchStorage(next.Storage())); err != nil {
			errs = append(errs, err)
		}
		if err := c.issuer.Do(ctx, controller.StartBatch(next.ResultType(), next.Timing())); err != nil {
			errs = append(errs, err)
		}
	}

	c.applied = next
	err := errors.Join(errs...)
	c.stale = err != nil

	fields := logrus.Fields{
		"mode":      next.ScanMode.String(),
		"full":      int(next.FullClient),
		"truncated": int(next.TruncatedClient),
	}
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("Batch reconfiguration not fully acknowledged")
	} else {
		c.logger.WithFields(fields).Info("Batch configuration applied")
	}
	return true, err
}

// Flush reads pending reports of every consumer of the applied aggregate.
func (c *Coordinator) Flush(ctx context.Context) error {
	if c.applied.IsEmpty() {
		return nil
	}
	return c.read(ctx, c.applied)
}

// read issues one ReadReports per consumer, each awaited independently.
func (c *Coordinator) read(ctx context.Context, agg Aggregate) error {
	var errs []error
	for _, rt := range agg.Consumers() {
		if err := c.issuer.Do(ctx, controller.ReadReports(rt)); err != nil {
			c.logger.WithField("result", rt.String()).WithError(err).Warn("Batch report read failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
