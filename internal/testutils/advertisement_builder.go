package testutils

import (
	"github.com/go-ble/ble"
)

// Advertisement is a static advertisement usable wherever scan.Advertisement is expected.
type Advertisement struct {
	Name     string
	Address  string
	Rssi     int
	Svcs     []ble.UUID
	MfrData  []byte
	Conn     bool
	TxPower  int
	SvcData  []ble.ServiceData
	Overflow []ble.UUID
}

func (a *Advertisement) LocalName() string             { return a.Name }
func (a *Advertisement) ManufacturerData() []byte      { return a.MfrData }
func (a *Advertisement) Services() []ble.UUID          { return a.Svcs }
func (a *Advertisement) RSSI() int                     { return a.Rssi }
func (a *Advertisement) Connectable() bool             { return a.Conn }
func (a *Advertisement) TxPowerLevel() int             { return a.TxPower }
func (a *Advertisement) ServiceData() []ble.ServiceData { return a.SvcData }
func (a *Advertisement) OverflowService() []ble.UUID   { return a.Overflow }

func (a *Advertisement) Addr() ble.Addr {
	if a.Address == "" {
		return nil
	}
	return ble.NewAddr(a.Address)
}

// AdvertisementBuilder builds static advertisements for tests with a fluent API.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement at -50 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{Rssi: -50, Conn: true, TxPower: 127}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
// UUIDs can be in short form (e.g., "180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	for _, s := range uuids {
		b.adv.Svcs = append(b.adv.Svcs, ble.MustParse(s))
	}
	return b
}

// WithManufacturerData sets the manufacturer-specific data, company id first (little endian).
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.MfrData = data
	return b
}

// Build returns the configured advertisement.
func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	return &adv
}
