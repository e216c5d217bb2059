package scan

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
)

// ClientID identifies one admitted discovery request. It is assigned by the caller.
type ClientID int

// NoClient marks an absent client id.
const NoClient ClientID = -1

// Importance is the foreground/background standing of a caller.
type Importance int

const (
	ImportanceForeground Importance = iota
	ImportanceForegroundService
	ImportanceBackground
)

func (i Importance) String() string {
	switch i {
	case ImportanceForeground:
		return "foreground"
	case ImportanceForegroundService:
		return "foreground_service"
	case ImportanceBackground:
		return "background"
	default:
		return fmt.Sprintf("importance(%d)", int(i))
	}
}

// Client is one admitted discovery request.
type Client struct {
	ID                   ClientID
	CallerUID            int
	Filters              []Filter
	Settings             Settings
	RequestedMode        Mode
	HasLocationExemption bool
	StartedAt            time.Time

	// Upgraded is set while a start boost is pending revert.
	Upgraded bool
	// TimedOut is set once the client has been downgraded for running too long.
	TimedOut bool
}

// NewClient creates a client requesting settings.Mode.
func NewClient(id ClientID, callerUID int, settings Settings, filters ...Filter) *Client {
	return &Client{
		ID:            id,
		CallerUID:     callerUID,
		Filters:       filters,
		Settings:      settings,
		RequestedMode: settings.Mode,
	}
}

// EffectiveMode is the mode the client currently runs in.
func (c *Client) EffectiveMode() Mode {
	return c.Settings.Mode
}

// SetEffectiveMode switches the running mode. It reports whether anything changed.
func (c *Client) SetEffectiveMode(m Mode) bool {
	if c.Settings.Mode == m {
		return false
	}
	c.Settings = c.Settings.WithMode(m)
	return true
}

// IsBatch reports whether the client is served by the batch configuration.
func (c *Client) IsBatch() bool {
	return c.Settings.IsBatch()
}

// IsOpportunistic reports whether the client only piggybacks on other scans.
func (c *Client) IsOpportunistic() bool {
	return c.Settings.Mode == ModeOpportunistic
}

// IsFiltered reports whether the client carries at least one match predicate.
func (c *Client) IsFiltered() bool {
	return len(c.Filters) > 0
}

// IsFirstMatch reports whether the client only wants found/lost notifications.
func (c *Client) IsFirstMatch() bool {
	return c.Settings.CallbackType.TracksMatches()
}

// MatchTrackingBudget returns the number of tracking entries the client needs out of total.
func (c *Client) MatchTrackingBudget(total int) int {
	if !c.IsFiltered() || !c.Settings.CallbackType.TracksMatches() {
		return 0
	}
	return c.Settings.MatchNum.Trackers(total) * len(c.Filters)
}

// Clone returns a deep-enough copy that the scheduler can own.
func (c *Client) Clone() *Client {
	cp := *c
	cp.Filters = append([]Filter(nil), c.Filters...)
	return &cp
}

// Result is one advertisement delivered to a client.
type Result struct {
	Address          string
	Name             string
	RSSI             int
	Services         []ble.UUID
	ManufacturerData []byte
	Truncated        bool
	Timestamp        time.Time
}

// NewResult captures the fields of adv observed at ts.
func NewResult(adv Advertisement, ts time.Time) Result {
	r := Result{
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		Services:         adv.Services(),
		ManufacturerData: adv.ManufacturerData(),
		Timestamp:        ts,
	}
	if adv.Addr() != nil {
		r.Address = adv.Addr().String()
	}
	return r
}
