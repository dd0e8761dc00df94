package device

import (
	"fmt"

	"github.com/go-ble/ble"
)

// Standard Bluetooth SIG assigned numbers
var (
	BatteryServiceUUID   = ble.UUID16(0x180F)
	BatteryLevelCharUUID = ble.UUID16(0x2A19)
	CCCDUUID             = ble.ClientCharacteristicConfigUUID
)

// VE Control Sensor proprietary services and characteristics
var (
	KeyServiceUUID        = ble.UUID16(0xFFE0)
	KeyPressStateCharUUID = ble.UUID16(0xFFE1)
	KeyRequestCharUUID    = ble.UUID16(0xFFE2)

	MPUServiceUUID     = ble.UUID16(0xFFF0)
	AccelRangeCharUUID = ble.UUID16(0xFFF1)
	GyroRangeCharUUID  = ble.UUID16(0xFFF2)
	MPUControlCharUUID = ble.UUID16(0xFFF3)
	MPUDataCharUUID    = ble.UUID16(0xFFF4)
	MPUTempCharUUID    = ble.UUID16(0xFFF5)
)

// FormatUUID renders 16-bit UUIDs as 0xNNNN and longer ones in canonical form.
func FormatUUID(u ble.UUID) string {
	if u.Len() == 2 {
		return fmt.Sprintf("0x%s", u.String())
	}
	return u.String()
}

// ContainsUUID reports whether list contains u
func ContainsUUID(list []ble.UUID, u ble.UUID) bool {
	for _, v := range list {
		if v.Equal(u) {
			return true
		}
	}
	return false
}
