package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/scanmux/internal/scan"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario wraps every scenario parse or validation error.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a scripted sequence of scheduler events run against the simulated controller.
type Scenario struct {
	ScreenOn        *bool  `yaml:"screen_on"`
	LocationEnabled *bool  `yaml:"location_enabled"`
	Steps           []Step `yaml:"steps"`
}

// Step is one scenario event. Op selects which of the other fields apply.
type Step struct {
	Op string `yaml:"op"`

	// start, stop, flush
	ID             int           `yaml:"id"`
	UID            int           `yaml:"uid"`
	Mode           string        `yaml:"mode"`
	Filters        []string      `yaml:"filters"`
	ReportDelay    time.Duration `yaml:"report_delay"`
	Result         string        `yaml:"result"`
	Callback       string        `yaml:"callback"`
	Match          string        `yaml:"match"`
	LocationExempt bool          `yaml:"location_exempt"`

	// location
	Enabled bool `yaml:"enabled"`

	// importance (uses UID too)
	Importance string `yaml:"importance"`

	// advertise
	Name         string   `yaml:"name"`
	Address      string   `yaml:"address"`
	RSSI         int      `yaml:"rssi"`
	Services     []string `yaml:"services"`
	Manufacturer string   `yaml:"manufacturer"`

	// advance
	Duration time.Duration `yaml:"duration"`
}

const (
	opStart      = "start"
	opStop       = "stop"
	opFlush      = "flush"
	opScreenOn   = "screen_on"
	opScreenOff  = "screen_off"
	opLocation   = "location"
	opImportance = "importance"
	opCallerDied = "caller_died"
	opAdvertise  = "advertise"
	opAdvance    = "advance"
)

var (
	resultTypes = map[string]scan.ResultType{
		"":          scan.ResultFull,
		"full":      scan.ResultFull,
		"truncated": scan.ResultTruncated,
		"both":      scan.ResultBoth,
	}
	callbackTypes = map[string]scan.CallbackType{
		"":                     scan.CallbackAllMatches,
		"all_matches":          scan.CallbackAllMatches,
		"first_match":          scan.CallbackFirstMatch,
		"match_lost":           scan.CallbackMatchLost,
		"first_match_and_lost": scan.CallbackFirstMatchAndLost,
	}
	matchNums = map[string]scan.MatchNum{
		"":    scan.MatchOne,
		"one": scan.MatchOne,
		"few": scan.MatchFew,
		"max": scan.MatchMax,
	}
	importances = map[string]scan.Importance{
		"foreground":         scan.ImportanceForeground,
		"foreground_service": scan.ImportanceForegroundService,
		"background":         scan.ImportanceBackground,
	}
)

func lookup[T any](table map[string]T, what, key string) (T, error) {
	v, ok := table[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown %s %q", what, key)
	}
	return v, nil
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario and validates every step.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidScenario)
	}
	for i := range sc.Steps {
		if err := sc.Steps[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: step %d (%s): %w", ErrInvalidScenario, i+1, sc.Steps[i].Op, err)
		}
	}
	return &sc, nil
}

func (s *Step) validate() error {
	switch s.Op {
	case opStart:
		_, err := s.client()
		return err
	case opImportance:
		_, err := lookup(importances, "importance", s.Importance)
		return err
	case opAdvertise:
		_, err := s.advertisement()
		return err
	case opAdvance:
		if s.Duration <= 0 {
			return errors.New("duration must be positive")
		}
		return nil
	case opStop, opFlush, opScreenOn, opScreenOff, opLocation, opCallerDied:
		return nil
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}

// client builds the scan client a start step requests.
func (s *Step) client() (*scan.Client, error) {
	mode, err := scan.ParseMode(s.Mode)
	if err != nil {
		return nil, err
	}
	rt, err := lookup(resultTypes, "result type", s.Result)
	if err != nil {
		return nil, err
	}
	cb, err := lookup(callbackTypes, "callback type", s.Callback)
	if err != nil {
		return nil, err
	}
	mn, err := lookup(matchNums, "match count", s.Match)
	if err != nil {
		return nil, err
	}

	var filters []scan.Filter
	for _, raw := range s.Filters {
		f, err := scan.ParseFilter(raw)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	c := scan.NewClient(scan.ClientID(s.ID), s.UID, scan.Settings{
		Mode:         mode,
		CallbackType: cb,
		ReportDelay:  s.ReportDelay,
		ResultType:   rt,
		MatchNum:     mn,
	}, filters...)
	c.HasLocationExemption = s.LocationExempt
	return c, nil
}

func (s *Step) advertisement() (*advertisement, error) {
	adv := &advertisement{name: s.Name, rssi: s.RSSI}
	if s.Address != "" {
		adv.addr = ble.NewAddr(s.Address)
	}
	for _, raw := range s.Services {
		u, err := ble.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", raw, err)
		}
		adv.services = append(adv.services, u)
	}
	if s.Manufacturer != "" {
		data, err := hex.DecodeString(s.Manufacturer)
		if err != nil {
			return nil, fmt.Errorf("manufacturer data %q: %w", s.Manufacturer, err)
		}
		adv.mfr = data
	}
	return adv, nil
}

// describe renders the step for the run log.
func (s *Step) describe() string {
	switch s.Op {
	case opStart:
		parts := []string{fmt.Sprintf("client=%d uid=%d mode=%s", s.ID, s.UID, s.Mode)}
		if len(s.Filters) > 0 {
			parts = append(parts, fmt.Sprintf("filters=%d", len(s.Filters)))
		}
		if s.ReportDelay > 0 {
			parts = append(parts, "report_delay="+s.ReportDelay.String())
		}
		return strings.Join(parts, " ")
	case opStop, opFlush:
		return fmt.Sprintf("client=%d", s.ID)
	case opLocation:
		return fmt.Sprintf("enabled=%t", s.Enabled)
	case opImportance:
		return fmt.Sprintf("uid=%d importance=%s", s.UID, s.Importance)
	case opCallerDied:
		return fmt.Sprintf("uid=%d", s.UID)
	case opAdvertise:
		return fmt.Sprintf("name=%q address=%s rssi=%d", s.Name, s.Address, s.RSSI)
	case opAdvance:
		return "by " + s.Duration.String()
	default:
		return ""
	}
}

// advertisement is a static scan.Advertisement injected by scenarios.
type advertisement struct {
	name     string
	addr     ble.Addr
	rssi     int
	services []ble.UUID
	mfr      []byte
}

func (a *advertisement) LocalName() string        { return a.name }
func (a *advertisement) ManufacturerData() []byte { return a.mfr }
func (a *advertisement) Services() []ble.UUID     { return a.services }
func (a *advertisement) RSSI() int                { return a.rssi }
func (a *advertisement) Addr() ble.Addr           { return a.addr }
