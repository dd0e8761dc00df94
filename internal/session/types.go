package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/vecs/internal/packet"
)

// ConnectionState is the link state of a Session
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Role decides what the orchestrator does with a device when a session starts
type Role int

const (
	RoleUndefined Role = iota
	RoleDoctor
	RolePatientHand
	RolePatientBack
)

var roleNames = map[Role]string{
	RoleUndefined:   "undefined",
	RoleDoctor:      "doctor",
	RolePatientHand: "patient_hand",
	RolePatientBack: "patient_back",
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Label is the human readable role name
func (r Role) Label() string {
	switch r {
	case RoleDoctor:
		return "Doctor"
	case RolePatientHand:
		return "Patient (on hand)"
	case RolePatientBack:
		return "Patient (on back)"
	default:
		return "Undefined"
	}
}

// IsPatient reports whether the role streams motion data
func (r Role) IsPatient() bool {
	return r == RolePatientHand || r == RolePatientBack
}

func (r Role) MarshalText() ([]byte, error) {
	n, ok := roleNames[r]
	if !ok {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(n), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	v, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRole accepts role names in any case, with '-' or '_' separators.
func ParseRole(s string) (Role, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for r, n := range roleNames {
		if n == norm {
			return r, nil
		}
	}
	return RoleUndefined, fmt.Errorf("invalid role %q (must be undefined, doctor, patient_hand or patient_back)", s)
}

// Limits applied by the Settings setters
const (
	MinMPURate          = 1
	MaxMPURate          = 200
	MinBatteryInterval  = time.Second
	ReconnectDelay      = 500 * time.Millisecond
	DefaultBatteryLevel = 100
)

// Settings is the per-device configuration persisted between runs
type Settings struct {
	Role             Role              `yaml:"role" json:"role"`
	AccelRange       packet.AccelRange `yaml:"accel_range" json:"accel_range"`
	GyroRange        packet.GyroRange  `yaml:"gyro_range" json:"gyro_range"`
	Interval         time.Duration     `yaml:"interval" json:"interval" default:"5s"`
	MaxReconnections int               `yaml:"reconnections" json:"reconnections" default:"3"`
	MPURate          int               `yaml:"mpu_rate" json:"mpu_rate" default:"100"`
}

// DefaultSettings returns the configuration of a never seen device
func DefaultSettings() Settings {
	var s Settings
	defaults.SetDefaults(&s)
	return s
}

// Normalize clamps every field into its valid range
func (s Settings) Normalize() Settings {
	s.MPURate = clampRate(s.MPURate)
	s.Interval = clampInterval(s.Interval)
	if s.MaxReconnections < 0 {
		s.MaxReconnections = 0
	}
	if !s.AccelRange.Valid() {
		s.AccelRange = packet.Accel2G
	}
	if !s.GyroRange.Valid() {
		s.GyroRange = packet.Gyro250DPS
	}
	if _, ok := roleNames[s.Role]; !ok {
		s.Role = RoleUndefined
	}
	return s
}

func clampRate(rate int) int {
	if rate < MinMPURate {
		return MinMPURate
	}
	if rate > MaxMPURate {
		return MaxMPURate
	}
	return rate
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinBatteryInterval {
		return MinBatteryInterval
	}
	return d
}

func clampBattery(level int) int {
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
