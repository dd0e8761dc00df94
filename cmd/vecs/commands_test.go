//go:build test

package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/packet"
	"github.com/srg/vecs/internal/session"
	"github.com/stretchr/testify/suite"
)

const seededDoctor = `
AA:BB:CC:DD:EE:01:
  role: doctor
  accel_range: 8g
  mpu_rate: 50
`

func (s *CommandTestSuite) TestScanTable() {
	// GOAL: Verify scan lists only sensors, marked with their stored role
	//
	// TEST SCENARIO: One stored doctor, one unknown sensor, one foreign device → table shows the two sensors

	s.seedSettings(seededDoctor)
	s.backend.peers = []device.Peer{
		sensorPeer(TestDeviceAddress2),
		{Address: "11:22:33:44:55:66", Name: "Headphones", Capabilities: device.CapLowEnergy},
		sensorPeer(TestDeviceAddress1),
	}

	out, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	s.Contains(out, "NAME")
	s.Contains(out, TestDeviceAddress1)
	s.Contains(out, TestDeviceAddress2)
	s.Contains(out, "Doctor")
	s.Contains(out, "Undefined (new)")
	s.Contains(out, "8g")
	s.Contains(out, "50 Hz")
	s.NotContains(out, "Headphones", "non-sensor devices MUST be hidden")
	s.True(s.backend.closed, "backend MUST be closed")
}

func (s *CommandTestSuite) TestScanStreamsFoundSensors() {
	// GOAL: Verify scan reports each sensor as soon as it is seen, before the summary table
	//
	// TEST SCENARIO: Two sensors and a foreign device → two found lines in discovery order, then the table

	s.backend.peers = []device.Peer{
		sensorPeer(TestDeviceAddress2),
		{Address: "11:22:33:44:55:66", Name: "Headphones", Capabilities: device.CapLowEnergy},
		sensorPeer(TestDeviceAddress1),
		sensorPeer(TestDeviceAddress2),
	}

	out, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	found2 := "[+] Found VE Control Sensor [" + TestDeviceAddress2 + "] -50 dBm"
	found1 := "[+] Found VE Control Sensor [" + TestDeviceAddress1 + "] -50 dBm"
	s.Equal(1, strings.Count(out, found2), "a repeated advertisement MUST NOT be reported again")
	s.Equal(1, strings.Count(out, found1))
	s.Less(strings.Index(out, found2), strings.Index(out, found1), "found lines MUST follow discovery order")
	s.Less(strings.Index(out, found1), strings.Index(out, "NAME"), "found lines MUST precede the table")
	s.NotContains(out, "Headphones")
}

func (s *CommandTestSuite) TestScanAllShowsForeignDevices() {
	s.backend.peers = []device.Peer{
		{Address: "11:22:33:44:55:66", Name: "Headphones", Capabilities: device.CapLowEnergy},
	}

	out, err := s.ExecuteCommand("scan", "--all", "--duration", "50ms")
	s.Require().NoError(err)
	s.Contains(out, "Headphones")
}

func (s *CommandTestSuite) TestScanJSON() {
	s.seedSettings(seededDoctor)
	s.backend.peers = []device.Peer{sensorPeer(TestDeviceAddress1), sensorPeer(TestDeviceAddress2)}

	out, err := s.ExecuteCommand("scan", "--format", "json", "--duration", "50ms")
	s.Require().NoError(err)

	var results []struct {
		Address  string `json:"address"`
		Stored   bool   `json:"stored"`
		Settings struct {
			Role    string `json:"role"`
			MPURate int    `json:"mpu_rate"`
		} `json:"settings"`
	}
	s.Require().NoError(json.Unmarshal([]byte(out), &results), "JSON output MUST NOT carry streamed lines")
	s.Require().Len(results, 2)

	s.Equal(TestDeviceAddress1, results[0].Address)
	s.True(results[0].Stored)
	s.Equal("doctor", results[0].Settings.Role)
	s.Equal(50, results[0].Settings.MPURate)

	s.Equal(TestDeviceAddress2, results[1].Address)
	s.False(results[1].Stored)
	s.Equal("undefined", results[1].Settings.Role)
	s.Equal(100, results[1].Settings.MPURate)
}

func (s *CommandTestSuite) TestScanNothingFound() {
	out, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)
	s.Contains(out, "No sensors discovered")
}

func (s *CommandTestSuite) TestScanInvalidFormat() {
	_, err := s.ExecuteCommand("scan", "--format", "xml")
	s.Require().Error(err)
	s.Contains(err.Error(), "xml")
}

func (s *CommandTestSuite) TestScanFailure() {
	s.backend.scanErr = device.ErrBluetoothOff

	_, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().ErrorIs(err, device.ErrBluetoothOff)
}

func (s *CommandTestSuite) TestRunAppliesRoles() {
	// GOAL: Verify run connects by role and persists every seen sensor on exit
	//
	// TEST SCENARIO: Stored doctor plus an unknown sensor → doctor connected then torn down, unknown one untouched, both saved

	s.seedSettings(seededDoctor)
	s.backend.peers = []device.Peer{sensorPeer(TestDeviceAddress1), sensorPeer(TestDeviceAddress2)}

	out, err := s.ExecuteCommand("run", "--for", "100ms", "--scan", "10ms")
	s.Require().NoError(err)

	s.Contains(out, "Device found ["+TestDeviceAddress1+"]")
	s.Contains(out, "Scan finished: found 2 devices")
	s.Contains(out, "["+TestDeviceAddress1+"] state connecting")

	doctor := s.backend.transports[TestDeviceAddress1]
	s.Require().NotNil(doctor, "doctor transport MUST be created")
	s.Require().NotEmpty(doctor.Ops())
	s.Equal("connect", doctor.Ops()[0])
	s.Equal(1, doctor.Count("disconnect"), "teardown MUST disconnect the doctor")

	undefined := s.backend.transports[TestDeviceAddress2]
	s.Require().NotNil(undefined)
	s.Empty(undefined.Ops(), "undefined role MUST stay disconnected")

	store := s.openStore()
	s.Equal([]string{TestDeviceAddress1, TestDeviceAddress2}, store.Addresses())
	st, ok := store.Get(TestDeviceAddress1)
	s.Require().True(ok)
	s.Equal(session.RoleDoctor, st.Role)
	s.Equal(packet.Accel8G, st.AccelRange)
	s.Equal(50, st.MPURate)
	s.True(s.backend.closed)
}

func (s *CommandTestSuite) TestRunNoSensors() {
	out, err := s.ExecuteCommand("run", "--for", "1s", "--scan", "10ms")
	s.Require().ErrorIs(err, ErrNoSensors)
	s.Contains(out, "Scan finished: no devices found")
}

func (s *CommandTestSuite) TestRunScanFailure() {
	s.backend.scanErr = device.ErrBluetoothOff

	start := time.Now()
	_, err := s.ExecuteCommand("run", "--for", "5s", "--scan", "10ms")
	s.Require().ErrorIs(err, device.ErrBluetoothOff)
	s.Less(time.Since(start), 5*time.Second, "a failed scan MUST not wait for --for")
}

func (s *CommandTestSuite) TestRunInterruptedDuringScan() {
	// GOAL: Verify stopping run while it still scans connects nothing but keeps settings
	//
	// TEST SCENARIO: Stored doctor seen, run ends before the scan does → no connect, settings saved

	s.seedSettings(seededDoctor)
	s.backend.peers = []device.Peer{sensorPeer(TestDeviceAddress1)}
	s.backend.holdScan = true

	start := time.Now()
	out, err := s.ExecuteCommand("run", "--for", "50ms", "--scan", "10s")
	s.Require().NoError(err)
	s.Less(time.Since(start), 5*time.Second, "run MUST stop with its context, not with the scan")

	s.Contains(out, "Scan finished: found 1 devices")
	s.NotContains(out, "state connecting")
	doctor := s.backend.transports[TestDeviceAddress1]
	s.Require().NotNil(doctor)
	s.Zero(doctor.Count("connect"), "roles MUST NOT be applied after the run was stopped")

	st, ok := s.openStore().Get(TestDeviceAddress1)
	s.Require().True(ok)
	s.Equal(session.RoleDoctor, st.Role)
}

func (s *CommandTestSuite) TestRunKeyRequestFlag() {
	s.backend.peers = []device.Peer{sensorPeer(TestDeviceAddress1)}

	_, err := s.ExecuteCommand("run", "--for", "50ms", "--scan", "10ms", "--key-request", "300")
	s.Require().Error(err, "delays beyond one byte MUST be rejected")

	_, err = s.ExecuteCommand("run", "--for", "50ms", "--scan", "10ms", "--key-request", "2")
	s.Require().NoError(err)
}

func (s *CommandTestSuite) TestRunRejectsNonPositiveScan() {
	_, err := s.ExecuteCommand("run", "--scan", "0s")
	s.Require().Error(err)
	s.Contains(err.Error(), "--scan must be positive")
}

func (s *CommandTestSuite) TestSetCreatesEntry() {
	out, err := s.ExecuteCommand("set", "aa:bb:cc:dd:ee:01", "--role", "patient-hand", "--gyro", "1000dps", "--rate", "500")
	s.Require().NoError(err)

	s.Contains(out, "Motion rate 500 Hz clamped to 200 Hz")
	s.Contains(out, TestDeviceAddress1)
	s.Contains(out, "Patient (on hand)")

	st, ok := s.openStore().Get(TestDeviceAddress1)
	s.Require().True(ok)
	s.Equal(session.RolePatientHand, st.Role)
	s.Equal(packet.Gyro1000DPS, st.GyroRange)
	s.Equal(session.MaxMPURate, st.MPURate)
	s.Equal(5*time.Second, st.Interval, "unchanged fields MUST keep their defaults")
}

func (s *CommandTestSuite) TestSetKeepsOtherFields() {
	s.seedSettings(seededDoctor)

	_, err := s.ExecuteCommand("set", TestDeviceAddress1, "--interval", "200ms")
	s.Require().NoError(err)

	st, ok := s.openStore().Get(TestDeviceAddress1)
	s.Require().True(ok)
	s.Equal(session.RoleDoctor, st.Role)
	s.Equal(packet.Accel8G, st.AccelRange)
	s.Equal(50, st.MPURate)
	s.Equal(session.MinBatteryInterval, st.Interval, "interval MUST be raised to the minimum")
}

func (s *CommandTestSuite) TestSetInvalidValues() {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"role", []string{"--role", "nurse"}, "invalid role"},
		{"accel", []string{"--accel", "3g"}, "3g"},
		{"gyro", []string{"--gyro", "42dps"}, "42dps"},
		{"reconnections", []string{"--reconnections", "-1"}, "must not be negative"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.ExecuteCommand(append([]string{"set", TestDeviceAddress1}, tt.args...)...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.want)
			s.NoFileExists(s.settingsPath, "a rejected edit MUST not write the store")
		})
	}
}

func (s *CommandTestSuite) TestSetReset() {
	s.seedSettings(seededDoctor)

	out, err := s.ExecuteCommand("set", TestDeviceAddress1, "--reset")
	s.Require().NoError(err)
	s.Contains(out, "Settings of "+TestDeviceAddress1+" removed")
	s.Empty(s.openStore().Addresses())

	out, err = s.ExecuteCommand("set", TestDeviceAddress1, "--reset")
	s.Require().NoError(err)
	s.Contains(out, "No settings stored for "+TestDeviceAddress1)
}

func (s *CommandTestSuite) TestSetRequiresAddress() {
	_, err := s.ExecuteCommand("set")
	s.Require().Error(err)
}

func (s *CommandTestSuite) TestShow() {
	out, err := s.ExecuteCommand("show")
	s.Require().NoError(err)
	s.Contains(out, "No sensors stored in")

	s.seedSettings(seededDoctor + `
AA:BB:CC:DD:EE:02:
  role: patient_back
`)

	out, err = s.ExecuteCommand("show")
	s.Require().NoError(err)
	s.Contains(out, "RECONNECTIONS")
	s.Contains(out, "Doctor")
	s.Contains(out, "Patient (on back)")
	s.Less(strings.Index(out, TestDeviceAddress1), strings.Index(out, TestDeviceAddress2), "rows MUST be sorted by address")

	out, err = s.ExecuteCommand("show", "--format", "json")
	s.Require().NoError(err)

	var devices map[string]struct {
		Role       string `json:"role"`
		AccelRange string `json:"accel_range"`
	}
	s.Require().NoError(json.Unmarshal([]byte(out), &devices))
	s.Equal("doctor", devices[TestDeviceAddress1].Role)
	s.Equal("8g", devices[TestDeviceAddress1].AccelRange)
	s.Equal("patient_back", devices[TestDeviceAddress2].Role)
}

func (s *CommandTestSuite) TestConfigFileLists() {
	// GOAL: Verify allow/block lists from the config file reach the scanner
	//
	// TEST SCENARIO: Config blocks one sensor → scan hides it

	cfgPath := s.helper.TempFile("vecs.yaml", "log_level: error\nblock:\n  - "+TestDeviceAddress2+"\n")
	s.backend.peers = []device.Peer{sensorPeer(TestDeviceAddress1), sensorPeer(TestDeviceAddress2)}

	out, err := s.ExecuteCommand("scan", "--config", cfgPath, "--duration", "50ms")
	s.Require().NoError(err)
	s.Contains(out, TestDeviceAddress1)
	s.NotContains(out, TestDeviceAddress2)
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
