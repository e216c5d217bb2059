package scan

import (
	"fmt"
	"strings"
	"time"
)

// Mode is a named power/latency tier controlling scan interval and window.
type Mode int

const (
	ModeOpportunistic Mode = iota
	ModeScreenOff
	ModeLowPower
	ModeScreenOffBalanced
	ModeBalanced
	ModeAmbientDiscovery
	ModeLowLatency
)

var modeNames = map[Mode]string{
	ModeOpportunistic:     "opportunistic",
	ModeScreenOff:         "screen_off",
	ModeLowPower:          "low_power",
	ModeScreenOffBalanced: "screen_off_balanced",
	ModeBalanced:          "balanced",
	ModeAmbientDiscovery:  "ambient_discovery",
	ModeLowLatency:        "low_latency",
}

// AllModes lists every mode in rank order.
var AllModes = []Mode{
	ModeOpportunistic,
	ModeScreenOff,
	ModeLowPower,
	ModeScreenOffBalanced,
	ModeBalanced,
	ModeAmbientDiscovery,
	ModeLowLatency,
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Rank returns the priority rank of the mode. Balanced and AmbientDiscovery share a rank.
func (m Mode) Rank() int {
	switch m {
	case ModeOpportunistic:
		return 0
	case ModeScreenOff:
		return 1
	case ModeLowPower:
		return 2
	case ModeScreenOffBalanced:
		return 3
	case ModeBalanced, ModeAmbientDiscovery:
		return 4
	case ModeLowLatency:
		return 5
	default:
		return -1
	}
}

// MoreAggressive reports whether m ranks strictly above other.
func (m Mode) MoreAggressive(other Mode) bool {
	return m.Rank() > other.Rank()
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// ParseMode converts a mode name (case-insensitive, '-' or '_' separated) to a Mode.
func ParseMode(s string) (Mode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for m, name := range modeNames {
		if name == norm {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Timing is a controller scan interval/window pair.
type Timing struct {
	Interval time.Duration
	Window   time.Duration
}

// IsZero reports whether no timing is set.
func (t Timing) IsZero() bool {
	return t.Interval == 0 && t.Window == 0
}

func (t Timing) String() string {
	return fmt.Sprintf("interval=%s window=%s", t.Interval, t.Window)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

var regularTimings = map[Mode]Timing{
	ModeScreenOff:         {Interval: ms(10240), Window: ms(512)},
	ModeLowPower:          {Interval: ms(1400), Window: ms(140)},
	ModeScreenOffBalanced: {Interval: ms(730), Window: ms(183)},
	ModeBalanced:          {Interval: ms(730), Window: ms(183)},
	ModeAmbientDiscovery:  {Interval: ms(640), Window: ms(128)},
	ModeLowLatency:        {Interval: ms(100), Window: ms(100)},
}

// RegularTiming returns the controller interval/window for a regular scan in mode m.
// Opportunistic scans never drive the controller and return a zero Timing.
func RegularTiming(m Mode) Timing {
	return regularTimings[m]
}

// BatchTiming returns the controller interval/window for a batch scan in mode m.
func BatchTiming(m Mode) Timing {
	switch m {
	case ModeLowLatency:
		return Timing{Interval: ms(5000), Window: ms(1500)}
	case ModeBalanced, ModeAmbientDiscovery:
		return Timing{Interval: ms(15000), Window: ms(650)}
	default:
		return Timing{Interval: ms(150000), Window: ms(150)}
	}
}

// ControllerUnitDuration is the controller's interval/window granularity.
const ControllerUnitDuration = 625 * time.Microsecond

// ToControllerUnits converts d to controller time slots.
func ToControllerUnits(d time.Duration) int {
	return int(d / ControllerUnitDuration)
}
