//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/vecs/internal/testutils/mocks"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write_nr,notify"
	Value      []byte `json:"value,omitempty"`
	NoCCCD     bool   `json:"no_cccd,omitempty"`
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProfileConfig represents the complete attribute tree of a peripheral
type ProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// SensorProfileJSON is the attribute tree a VE Control Sensor exposes.
const SensorProfileJSON = `{
  "services": [
    {"uuid": "180f", "characteristics": [
      {"uuid": "2a19", "properties": "read,notify"}
    ]},
    {"uuid": "ffe0", "characteristics": [
      {"uuid": "ffe1", "properties": "notify"},
      {"uuid": "ffe2", "properties": "write"}
    ]},
    {"uuid": "fff0", "characteristics": [
      {"uuid": "fff1", "properties": "read,write"},
      {"uuid": "fff2", "properties": "read,write"},
      {"uuid": "fff3", "properties": "read,write_nr"},
      {"uuid": "fff4", "properties": "notify"},
      {"uuid": "fff5", "properties": "read"}
    ]}
  ]
}`

// ProfileBuilder builds go-ble profiles for mocked peripherals
type ProfileBuilder struct {
	profile ProfileConfig
}

// NewProfileBuilder creates an empty profile builder
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{profile: ProfileConfig{Services: []ServiceConfig{}}}
}

// NewSensorProfileBuilder starts from the VE Control Sensor attribute tree
func NewSensorProfileBuilder() *ProfileBuilder {
	return NewProfileBuilder().FromJSON(SensorProfileJSON)
}

// WithService adds a service to the profile
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{
		UUID:            uuid,
		Characteristics: []CharacteristicConfig{},
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string, value []byte) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithoutService drops a service, simulating firmware that lacks it
func (b *ProfileBuilder) WithoutService(uuid string) *ProfileBuilder {
	kept := b.profile.Services[:0]
	for _, s := range b.profile.Services {
		if !strings.EqualFold(s.UUID, uuid) {
			kept = append(kept, s)
		}
	}
	b.profile.Services = kept
	return b
}

// FromJSON replaces the profile with one parsed from JSON
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config ProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("ProfileBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// parseCharacteristicProperties converts a comma separated property list to ble.Property flags
func parseCharacteristicProperties(props string) ble.Property {
	var property ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= ble.CharRead
		case "write":
			property |= ble.CharWrite
		case "write_nr":
			property |= ble.CharWriteNR
		case "notify":
			property |= ble.CharNotify
		case "indicate":
			property |= ble.CharIndicate
		case "":
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", p))
		}
	}
	return property
}

// Build creates the go-ble profile. Notifying characteristics get a CCCD
// unless the config says otherwise.
func (b *ProfileBuilder) Build() *ble.Profile {
	profile := &ble.Profile{}
	for _, svcConfig := range b.profile.Services {
		svc := &ble.Service{UUID: ble.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			c := &ble.Characteristic{
				UUID:     ble.MustParse(charConfig.UUID),
				Property: parseCharacteristicProperties(charConfig.Properties),
				Value:    charConfig.Value,
			}
			if c.Property&(ble.CharNotify|ble.CharIndicate) != 0 && !charConfig.NoCCCD {
				c.CCCD = &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID}
				c.Descriptors = append(c.Descriptors, c.CCCD)
			}
			svc.Characteristics = append(svc.Characteristics, c)
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}

// BuildClient returns a mock client that reports the built profile on
// discovery and accepts disconnects. Per-characteristic expectations are
// left to the test.
func (b *ProfileBuilder) BuildClient() (*mocks.MockClient, *ble.Profile) {
	profile := b.Build()
	client := &mocks.MockClient{}
	client.On("DiscoverProfile", true).Return(profile, nil)
	client.On("CancelConnection").Return(nil).Maybe()
	return client, profile
}

// FindCharacteristic looks up a characteristic in a built profile, panicking if absent
func FindCharacteristic(p *ble.Profile, uuid string) *ble.Characteristic {
	want := ble.MustParse(uuid)
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if c.UUID.Equal(want) {
				return c
			}
		}
	}
	panic(fmt.Sprintf("characteristic %s not in profile", uuid))
}
