package packet

import (
	"encoding/binary"
	"fmt"
)

// MotionPacketSize is the fixed length of a motion data notification.
const MotionPacketSize = 14

// DecodeErrorKind identifies the reason a packet could not be decoded
type DecodeErrorKind string

const (
	TooShort    DecodeErrorKind = "too_short"
	UnknownCode DecodeErrorKind = "unknown_code"
)

// DecodeError is returned by the codec for malformed input
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks
var (
	ErrTooShort    = &DecodeError{Kind: TooShort}
	ErrUnknownCode = &DecodeError{Kind: UnknownCode}
)

// MotionSample is one decoded accelerometer + gyroscope reading.
// Values are raw sensor counts; see Scaled for physical units.
type MotionSample struct {
	AccelX int16  `json:"accel_x"`
	AccelY int16  `json:"accel_y"`
	AccelZ int16  `json:"accel_z"`
	Index  uint16 `json:"index"`
	GyroX  int16  `json:"gyro_x"`
	GyroY  int16  `json:"gyro_y"`
	GyroZ  int16  `json:"gyro_z"`
}

// DecodeMotion decodes the first MotionPacketSize bytes of data.
// Trailing bytes are ignored and no range validation is applied.
func DecodeMotion(data []byte) (MotionSample, error) {
	if len(data) < MotionPacketSize {
		return MotionSample{}, &DecodeError{
			Kind: TooShort,
			Msg:  fmt.Sprintf("motion packet needs %d bytes, got %d", MotionPacketSize, len(data)),
		}
	}

	le := binary.LittleEndian
	return MotionSample{
		AccelX: int16(le.Uint16(data[0:2])),
		AccelY: int16(le.Uint16(data[2:4])),
		AccelZ: int16(le.Uint16(data[4:6])),
		Index:  le.Uint16(data[6:8]),
		GyroX:  int16(le.Uint16(data[8:10])),
		GyroY:  int16(le.Uint16(data[10:12])),
		GyroZ:  int16(le.Uint16(data[12:14])),
	}, nil
}

// EncodeMotion is the inverse of DecodeMotion. Used by simulators and tests.
func EncodeMotion(s MotionSample) []byte {
	buf := make([]byte, MotionPacketSize)
	le := binary.LittleEndian
	le.PutUint16(buf[0:2], uint16(s.AccelX))
	le.PutUint16(buf[2:4], uint16(s.AccelY))
	le.PutUint16(buf[4:6], uint16(s.AccelZ))
	le.PutUint16(buf[6:8], s.Index)
	le.PutUint16(buf[8:10], uint16(s.GyroX))
	le.PutUint16(buf[10:12], uint16(s.GyroY))
	le.PutUint16(buf[12:14], uint16(s.GyroZ))
	return buf
}

// Scaled converts raw counts into g and deg/s for the given full scale ranges.
func (s MotionSample) Scaled(accel AccelRange, gyro GyroRange) (ax, ay, az, gx, gy, gz float64) {
	const fullScale = 32768.0
	a := float64(accel.G()) / fullScale
	g := float64(gyro.DPS()) / fullScale
	return float64(s.AccelX) * a, float64(s.AccelY) * a, float64(s.AccelZ) * a,
		float64(s.GyroX) * g, float64(s.GyroY) * g, float64(s.GyroZ) * g
}

// ButtonClick is the classification code sent by the key service
type ButtonClick uint8

const (
	SingleClick ButtonClick = 1
	DoubleClick ButtonClick = 2
	LongClick   ButtonClick = 3
)

func (c ButtonClick) String() string {
	switch c {
	case SingleClick:
		return "single"
	case DoubleClick:
		return "double"
	case LongClick:
		return "long"
	default:
		return fmt.Sprintf("ButtonClick(%d)", uint8(c))
	}
}

// ClassifyButton maps a key press code onto a ButtonClick.
func ClassifyButton(code byte) (ButtonClick, error) {
	switch c := ButtonClick(code); c {
	case SingleClick, DoubleClick, LongClick:
		return c, nil
	default:
		return 0, &DecodeError{Kind: UnknownCode, Msg: fmt.Sprintf("button code %d", code)}
	}
}
