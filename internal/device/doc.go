// Package device defines the contract between the sensor session core and a
// Bluetooth Low Energy transport.
//
// It provides:
//   - the Transport capability (connect, discover, read, write, notify)
//   - the Event values a transport delivers asynchronously
//   - Peer records produced by a scanning agent
//   - structured errors (NotFoundError, ConnectionError and sentinels)
//   - the GATT layout of the VE Control Sensor
package device
