// Package packet decodes the fixed wire formats of the VE Control Sensor:
// the 14-byte motion notification, the 1-byte button classification code and
// the 1-byte sensor range enums written to the MPU service.
package packet
