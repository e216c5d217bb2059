package scheduler

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/scanmux/internal/registry"
	"github.com/srg/scanmux/internal/scan"
)

// OnScanResult routes one advertisement seen by the regular scan to every active
// regular client whose filters match it.
func (s *Scheduler) OnScanResult(ctx context.Context, adv scan.Advertisement) error {
	if adv == nil {
		return nil
	}
	return s.call(ctx, "scan_result", func() error {
		res := scan.NewResult(adv, s.clock.Now())
		delivered := 0
		for _, c := range s.reg.List(registry.Regular) {
			if !scan.MatchesAny(c.Filters, adv) {
				continue
			}
			if s.deliver(c.ID, res) {
				delivered++
			}
		}
		s.logger.WithFields(logrus.Fields{
			"address":   res.Address,
			"delivered": delivered,
		}).Trace("Scan result routed")
		return nil
	})
}

// OnBatchReports delivers reports read from controller storage to the batch
// clients consuming that report flavor.
func (s *Scheduler) OnBatchReports(ctx context.Context, rt scan.ResultType, advs []scan.Advertisement) error {
	if rt != scan.ResultFull && rt != scan.ResultTruncated {
		return fmt.Errorf("batch reports must be full or truncated, got %s", rt)
	}
	return s.call(ctx, "batch_reports", func() error {
		now := s.clock.Now()
		for _, c := range s.reg.List(registry.Batch) {
			want := c.Settings.ResultType
			if (rt == scan.ResultFull && !want.WantsFull()) || (rt == scan.ResultTruncated && !want.WantsTruncated()) {
				continue
			}
			for _, adv := range advs {
				if adv == nil || !scan.MatchesAny(c.Filters, adv) {
					continue
				}
				res := scan.NewResult(adv, now)
				if rt == scan.ResultTruncated {
					res = truncate(res)
				}
				s.deliver(c.ID, res)
			}
		}
		s.logger.WithFields(logrus.Fields{
			"result":  rt.String(),
			"reports": len(advs),
		}).Debug("Batch reports routed")
		return nil
	})
}

// truncate keeps only what a truncated report carries.
func truncate(r scan.Result) scan.Result {
	return scan.Result{
		Address:   r.Address,
		RSSI:      r.RSSI,
		Truncated: true,
		Timestamp: r.Timestamp,
	}
}

func (s *Scheduler) deliver(id scan.ClientID, res scan.Result) bool {
	rc, ok := s.results.Get(id)
	if !ok {
		return false
	}
	if rc.Send(res) {
		s.logger.WithField("client_id", int(id)).Trace("Result buffer full, dropped oldest")
	}
	return true
}
