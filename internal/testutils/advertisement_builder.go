package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
)

// FakeAddr is a fixed ble.Addr
type FakeAddr string

func (a FakeAddr) String() string { return string(a) }

// FakeAdvertisement is a static ble.Advertisement
type FakeAdvertisement struct {
	Name          string
	Address       ble.Addr
	Rssi          int
	ServiceUUIDs  []ble.UUID
	Manufacturer  []byte
	SvcData       []ble.ServiceData
	TxPower       int
	IsConnectable bool
}

func (a *FakeAdvertisement) LocalName() string              { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte       { return a.Manufacturer }
func (a *FakeAdvertisement) ServiceData() []ble.ServiceData { return a.SvcData }
func (a *FakeAdvertisement) Services() []ble.UUID           { return a.ServiceUUIDs }
func (a *FakeAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a *FakeAdvertisement) TxPowerLevel() int              { return a.TxPower }
func (a *FakeAdvertisement) Connectable() bool              { return a.IsConnectable }
func (a *FakeAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a *FakeAdvertisement) RSSI() int                      { return a.Rssi }
func (a *FakeAdvertisement) Addr() ble.Addr                 { return a.Address }

// AdvertisementBuilder builds fake BLE advertisements for testing.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a connectable advertisement at -50 dBm with
// TX power reported as unavailable.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{
		Rssi:          -50,
		TxPower:       127,
		IsConnectable: true,
	}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = FakeAddr(addr)
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithServices adds service UUIDs; short ("180F") and full forms are accepted.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	for _, u := range uuids {
		b.adv.ServiceUUIDs = append(b.adv.ServiceUUIDs, ble.MustParse(u))
	}
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.Manufacturer = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.adv.SvcData = append(b.adv.SvcData, ble.ServiceData{UUID: ble.MustParse(uuid), Data: data})
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Only fields present in the JSON are changed. Panics on invalid JSON as
// this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name        *string  `json:"name"`
		Address     *string  `json:"address"`
		RSSI        *int     `json:"rssi"`
		Services    []string `json:"services"`
		TxPower     *int     `json:"txPower"`
		Connectable *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("AdvertisementBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.TxPower != nil {
		b.adv.TxPower = *data.TxPower
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build returns a copy of the configured advertisement
func (b *AdvertisementBuilder) Build() ble.Advertisement {
	adv := b.adv
	return &adv
}
