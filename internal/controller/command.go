package controller

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/srg/scanmux/internal/scan"
)

// Kind is the controller command type.
type Kind int

const (
	KindSetScanParams Kind = iota
	KindStartScan
	KindStopScan
	KindAddFilter
	KindDeleteFilterParam
	KindEnableFilter
	KindConfigureBatchStorage
	KindStartBatch
	KindStopBatch
	KindReadReports
)

var kindNames = map[Kind]string{
	KindSetScanParams:         "SetScanParams",
	KindStartScan:             "StartScan",
	KindStopScan:              "StopScan",
	KindAddFilter:             "AddFilter",
	KindDeleteFilterParam:     "DeleteFilterParam",
	KindEnableFilter:          "EnableFilter",
	KindConfigureBatchStorage: "ConfigureBatchStorage",
	KindStartBatch:            "StartBatch",
	KindStopBatch:             "StopBatch",
	KindReadReports:           "ReadReports",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Storage is the batch buffer split between full and truncated reports, in percent.
type Storage struct {
	FullPct            int
	TruncatedPct       int
	NotifyThresholdPct int
}

// Command is one request to the controller. ID correlates the acknowledgement.
type Command struct {
	ID         uuid.UUID
	Kind       Kind
	Timing     scan.Timing
	Slot       int
	Filter     scan.Filter
	Enable     bool
	Storage    Storage
	ResultType scan.ResultType
}

// Args renders the command arguments without the correlation id.
func (c Command) Args() string {
	switch c.Kind {
	case KindSetScanParams:
		return fmt.Sprintf("interval=%d window=%d",
			scan.ToControllerUnits(c.Timing.Interval), scan.ToControllerUnits(c.Timing.Window))
	case KindAddFilter:
		return fmt.Sprintf("slot=%d filter=%s", c.Slot, c.Filter)
	case KindDeleteFilterParam:
		return fmt.Sprintf("slot=%d", c.Slot)
	case KindEnableFilter:
		return fmt.Sprintf("enable=%t", c.Enable)
	case KindConfigureBatchStorage:
		return fmt.Sprintf("full=%d%% truncated=%d%% notify=%d%%",
			c.Storage.FullPct, c.Storage.TruncatedPct, c.Storage.NotifyThresholdPct)
	case KindStartBatch:
		return fmt.Sprintf("result=%s interval=%d window=%d", c.ResultType,
			scan.ToControllerUnits(c.Timing.Interval), scan.ToControllerUnits(c.Timing.Window))
	case KindReadReports:
		return fmt.Sprintf("result=%s", c.ResultType)
	default:
		return ""
	}
}

func (c Command) String() string {
	if args := c.Args(); args != "" {
		return c.Kind.String() + "(" + args + ")"
	}
	return c.Kind.String() + "()"
}

func SetScanParams(t scan.Timing) Command {
	return Command{Kind: KindSetScanParams, Timing: t}
}

func StartScan() Command { return Command{Kind: KindStartScan} }

func StopScan() Command { return Command{Kind: KindStopScan} }

func AddFilter(slot int, f scan.Filter) Command {
	return Command{Kind: KindAddFilter, Slot: slot, Filter: f}
}

func DeleteFilterParam(slot int) Command {
	return Command{Kind: KindDeleteFilterParam, Slot: slot}
}

func EnableFilter(enable bool) Command {
	return Command{Kind: KindEnableFilter, Enable: enable}
}

func ConfigureBatchStorage(s Storage) Command {
	return Command{Kind: KindConfigureBatchStorage, Storage: s}
}

func StartBatch(rt scan.ResultType, t scan.Timing) Command {
	return Command{Kind: KindStartBatch, ResultType: rt, Timing: t}
}

func StopBatch() Command { return Command{Kind: KindStopBatch} }

func ReadReports(rt scan.ResultType) Command {
	return Command{Kind: KindReadReports, ResultType: rt}
}
