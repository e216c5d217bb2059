package scan

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
)

// Advertisement is the subset of ble.Advertisement the scheduler matches on.
// Any ble.Advertisement satisfies it.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	Services() []ble.UUID
	RSSI() int
	Addr() ble.Addr
}

// Filter is one match predicate offloaded to a controller filter slot.
// Unset fields match anything.
type Filter struct {
	Address          string
	Name             string
	ServiceUUID      ble.UUID
	ManufacturerID   uint16
	HasManufacturer  bool
	ManufacturerData []byte
}

// Matches reports whether adv satisfies every field set on f.
func (f Filter) Matches(adv Advertisement) bool {
	if f.Address != "" && (adv.Addr() == nil || !strings.EqualFold(adv.Addr().String(), f.Address)) {
		return false
	}
	if f.Name != "" && adv.LocalName() != f.Name {
		return false
	}
	if f.ServiceUUID != nil {
		found := false
		for _, u := range adv.Services() {
			if u.Equal(f.ServiceUUID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HasManufacturer {
		md := adv.ManufacturerData()
		if len(md) < 2 {
			return false
		}
		id := uint16(md[0]) | uint16(md[1])<<8
		if id != f.ManufacturerID || !bytes.HasPrefix(md[2:], f.ManufacturerData) {
			return false
		}
	}
	return true
}

func (f Filter) String() string {
	var parts []string
	if f.Address != "" {
		parts = append(parts, "addr="+f.Address)
	}
	if f.Name != "" {
		parts = append(parts, "name="+f.Name)
	}
	if f.ServiceUUID != nil {
		parts = append(parts, "service="+f.ServiceUUID.String())
	}
	if f.HasManufacturer {
		m := fmt.Sprintf("manufacturer=%04x", f.ManufacturerID)
		if len(f.ManufacturerData) > 0 {
			m += ":" + hex.EncodeToString(f.ManufacturerData)
		}
		parts = append(parts, m)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ",")
}

// MatchesAny reports whether adv passes at least one filter. An empty set matches everything.
func MatchesAny(filters []Filter, adv Advertisement) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if f.Matches(adv) {
			return true
		}
	}
	return false
}

// ParseFilter parses the compact form "addr=..,name=..,service=180d,manufacturer=004c:0215".
func ParseFilter(s string) (Filter, error) {
	var f Filter
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return f, nil
	}
	for _, part := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || value == "" {
			return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, part)
		}
		switch strings.ToLower(key) {
		case "addr", "address":
			f.Address = value
		case "name":
			f.Name = value
		case "service", "uuid":
			u, err := ble.Parse(value)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: service %q: %v", ErrInvalidFilter, value, err)
			}
			f.ServiceUUID = u
		case "manufacturer", "mfr":
			idStr, dataStr, _ := strings.Cut(value, ":")
			id, err := strconv.ParseUint(idStr, 16, 16)
			if err != nil {
				return Filter{}, fmt.Errorf("%w: manufacturer id %q: %v", ErrInvalidFilter, idStr, err)
			}
			f.ManufacturerID = uint16(id)
			f.HasManufacturer = true
			if dataStr != "" {
				data, err := hex.DecodeString(dataStr)
				if err != nil {
					return Filter{}, fmt.Errorf("%w: manufacturer data %q: %v", ErrInvalidFilter, dataStr, err)
				}
				f.ManufacturerData = data
			}
		default:
			return Filter{}, fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, key)
		}
	}
	return f, nil
}
