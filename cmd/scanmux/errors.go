package main

import (
	"errors"
	"fmt"

	"github.com/srg/scanmux/internal/scan"
	"github.com/srg/scanmux/internal/scheduler"
	"github.com/srg/scanmux/pkg/config"
)

// FormatUserError turns an error chain into a message for the terminal, adding a
// hint for the failures a user can fix.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidScenario):
		return fmt.Sprintf("%v\nHint: run 'scanmux run --help' for the scenario format", err)
	case errors.Is(err, config.ErrInvalid):
		return fmt.Sprintf("%v\nHint: check the config file and SCANMUX_* environment variables", err)
	case errors.Is(err, scan.ErrUnknownMode):
		return fmt.Sprintf("%v\nHint: run 'scanmux modes' to list the available modes", err)
	case errors.Is(err, scheduler.ErrClosed):
		return "scheduler stopped before the scenario completed"
	default:
		return err.Error()
	}
}
