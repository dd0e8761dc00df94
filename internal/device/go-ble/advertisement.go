package goble

import (
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/vecs/internal/device"
)

// PeerFromAdvertisement converts a go-ble advertisement into a discovered peer.
// go-ble only reports low energy advertising, so every peer carries
// CapLowEnergy. Addresses are upper-cased.
func PeerFromAdvertisement(adv ble.Advertisement) device.Peer {
	var addr string
	if a := adv.Addr(); a != nil {
		addr = strings.ToUpper(a.String())
	}
	return device.Peer{
		Address:      addr,
		RSSI:         adv.RSSI(),
		Name:         strings.TrimSpace(adv.LocalName()),
		Capabilities: device.CapLowEnergy,
	}
}
