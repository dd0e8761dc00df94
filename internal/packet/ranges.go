package packet

import (
	"fmt"
	"strings"
)

// AccelRange is the accelerometer full scale setting; its value is the wire byte.
type AccelRange uint8

const (
	Accel2G AccelRange = iota
	Accel4G
	Accel8G
	Accel16G
)

// G returns the full scale range in g
func (r AccelRange) G() int {
	if r > Accel16G {
		return 0
	}
	return 2 << r
}

func (r AccelRange) Valid() bool { return r <= Accel16G }

func (r AccelRange) String() string {
	if !r.Valid() {
		return fmt.Sprintf("AccelRange(%d)", uint8(r))
	}
	return fmt.Sprintf("%dg", r.G())
}

func (r AccelRange) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid accelerometer range %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *AccelRange) UnmarshalText(text []byte) error {
	v, err := ParseAccelRange(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseAccelRange accepts "2g", "4", "16G" and similar.
func ParseAccelRange(s string) (AccelRange, error) {
	n := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "g")
	for r := Accel2G; r <= Accel16G; r++ {
		if fmt.Sprint(r.G()) == n {
			return r, nil
		}
	}
	return 0, fmt.Errorf("invalid accelerometer range %q (must be 2g, 4g, 8g or 16g)", s)
}

// GyroRange is the gyroscope full scale setting; its value is the wire byte.
type GyroRange uint8

const (
	Gyro250DPS GyroRange = iota
	Gyro500DPS
	Gyro1000DPS
	Gyro2000DPS
)

var gyroScales = [...]int{250, 500, 1000, 2000}

// DPS returns the full scale range in degrees per second
func (r GyroRange) DPS() int {
	if !r.Valid() {
		return 0
	}
	return gyroScales[r]
}

func (r GyroRange) Valid() bool { return r <= Gyro2000DPS }

func (r GyroRange) String() string {
	if !r.Valid() {
		return fmt.Sprintf("GyroRange(%d)", uint8(r))
	}
	return fmt.Sprintf("%ddps", r.DPS())
}

func (r GyroRange) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid gyroscope range %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *GyroRange) UnmarshalText(text []byte) error {
	v, err := ParseGyroRange(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseGyroRange accepts "250dps", "500" and similar.
func ParseGyroRange(s string) (GyroRange, error) {
	n := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "dps")
	for r := Gyro250DPS; r <= Gyro2000DPS; r++ {
		if fmt.Sprint(r.DPS()) == n {
			return r, nil
		}
	}
	return 0, fmt.Errorf("invalid gyroscope range %q (must be 250, 500, 1000 or 2000 dps)", s)
}
