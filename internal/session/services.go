package session

import (
	"bytes"
	"errors"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/packet"
)

// serviceHandle is an attached remote service. It may only be used once
// its details are discovered.
type serviceHandle struct {
	uuid  ble.UUID
	state device.ServiceState
}

func (h *serviceHandle) discovered() bool {
	return h != nil && h.state == device.ServiceDiscovered
}

// ServiceState reports the discovery sub-state of the given service, or
// ServiceInvalid if it is not attached.
func (s *Session) ServiceState(service ble.UUID) device.ServiceState {
	h := s.handle(service)
	if h == nil {
		return device.ServiceInvalid
	}
	return h.state
}

func (s *Session) handle(service ble.UUID) *serviceHandle {
	switch {
	case service.Equal(device.BatteryServiceUUID):
		return s.battery
	case service.Equal(device.KeyServiceUUID):
		return s.key
	case service.Equal(device.MPUServiceUUID):
		return s.mpu
	default:
		return nil
	}
}

func (s *Session) detachServices() {
	s.battery, s.key, s.mpu = nil, nil, nil
}

func (s *Session) onDiscoveryFinished(e device.DiscoveryFinished) {
	if s.state != Connecting {
		s.log().WithField("state", s.state).Warn("Unexpected service discovery result ignored")
		return
	}

	s.battery = s.attach(e.Services, device.BatteryServiceUUID, "battery")
	s.key = s.attach(e.Services, device.KeyServiceUUID, "key")
	s.mpu = s.attach(e.Services, device.MPUServiceUUID, "mpu")

	s.log().WithField("services", len(e.Services)).Info("Connected")
	s.setState(Connected)
}

func (s *Session) attach(found []ble.UUID, service ble.UUID, name string) *serviceHandle {
	logger := s.log().WithFields(logrus.Fields{
		"service": name,
		"uuid":    device.FormatUUID(service),
	})
	if !device.ContainsUUID(found, service) {
		logger.Error("Service not found on device")
		return nil
	}

	h := &serviceHandle{uuid: service, state: device.ServiceDiscoveringDetails}
	if err := s.transport.DiscoverDetails(service); err != nil {
		logger.WithError(err).Error("Failed to start service detail discovery")
		return h
	}
	logger.Debug("Discovering service details")
	return h
}

func (s *Session) onServiceStateChanged(e device.ServiceStateChanged) {
	h := s.handle(e.Service)
	if h == nil || s.state != Connected {
		s.log().WithFields(logrus.Fields{
			"service": device.FormatUUID(e.Service),
			"state":   e.State,
		}).Debug("Service state change for detached service ignored")
		return
	}
	if h.state == e.State {
		return
	}
	h.state = e.State
	if e.State != device.ServiceDiscovered {
		return
	}

	switch h {
	case s.battery:
		s.batteryReady()
	case s.key:
		s.keyReady()
	case s.mpu:
		s.mpuReady()
	}
	s.emit(Event{Kind: ServiceReady, Service: h.uuid})
}

func (s *Session) batteryReady() {
	s.log().Debug("Battery service ready")
	s.batteryFresh = true
	s.pollBattery()
}

func (s *Session) keyReady() {
	s.log().Debug("Key service ready")
	s.notifyChar(s.key, device.KeyPressStateCharUUID, true)
}

func (s *Session) mpuReady() {
	s.log().WithField("role", s.settings.Role).Debug("MPU service ready")
	s.StopStreaming()
	if s.settings.Role.IsPatient() {
		s.StartStreaming()
	}
}

// ready guards every service operation
func (s *Session) ready(h *serviceHandle) bool {
	return s.state == Connected && h.discovered()
}

func (s *Session) opFailed(op string, h *serviceHandle, char ble.UUID, err error) {
	logger := s.log().WithFields(logrus.Fields{
		"service": device.FormatUUID(h.uuid),
		"char":    device.FormatUUID(char),
	}).WithError(err)

	var nf *device.NotFoundError
	if errors.As(err, &nf) {
		logger.Errorf("%s failed", op)
		return
	}
	logger.Warnf("%s failed", op)
	s.setStatus(device.StatusText(err))
}

func (s *Session) readChar(h *serviceHandle, char ble.UUID) bool {
	if !s.ready(h) {
		return false
	}
	if err := s.transport.ReadCharacteristic(h.uuid, char); err != nil {
		s.opFailed("Read", h, char, err)
		return false
	}
	return true
}

func (s *Session) writeChar(h *serviceHandle, char ble.UUID, value byte) bool {
	if !s.ready(h) {
		return false
	}
	if err := s.transport.WriteCharacteristic(h.uuid, char, value); err != nil {
		s.opFailed("Write", h, char, err)
		return false
	}
	return true
}

func (s *Session) notifyChar(h *serviceHandle, char ble.UUID, enable bool) bool {
	if !s.ready(h) {
		return false
	}
	if err := s.transport.SetNotifications(h.uuid, char, enable); err != nil {
		s.opFailed("Notification setup", h, char, err)
		return false
	}
	return true
}

// ReadBattery requests a fresh battery level. The result arrives as a
// BatteryChanged event if the level differs from the cached one.
func (s *Session) ReadBattery() bool {
	return s.readBattery()
}

func (s *Session) readBattery() bool {
	return s.readChar(s.battery, device.BatteryLevelCharUUID)
}

// pollBattery reads the level and arms the next poll. Transport faults are
// retried on the next tick; only a sensor without the level characteristic
// ends polling.
func (s *Session) pollBattery() {
	if !s.ready(s.battery) {
		return
	}
	if err := s.transport.ReadCharacteristic(s.battery.uuid, device.BatteryLevelCharUUID); err != nil {
		s.opFailed("Read", s.battery, device.BatteryLevelCharUUID, err)
		var nf *device.NotFoundError
		if errors.As(err, &nf) {
			s.log().Warn("Battery polling stopped")
			return
		}
	}
	s.schedulePoll()
}

func (s *Session) schedulePoll() {
	s.stopPolling()
	s.pollTimer = s.sched.AfterFunc(s.settings.Interval, func() {
		s.pollTimer = nil
		s.pollBattery()
	})
}

func (s *Session) stopPolling() {
	if s.pollTimer == nil {
		return
	}
	s.pollTimer.Stop()
	s.pollTimer = nil
}

// Polling reports whether the battery poll timer is armed
func (s *Session) Polling() bool { return s.pollTimer != nil }

// RequestKey asks the sensor to report a key press after delay.
func (s *Session) RequestKey(delay uint8) bool {
	return s.writeChar(s.key, device.KeyRequestCharUUID, delay)
}

// StartStreaming (re)configures the motion sensor and enables data
// notifications. It always stops a running stream first, so the current
// rate and ranges apply.
func (s *Session) StartStreaming() bool {
	if s.state != Connected {
		return false
	}
	s.StopStreaming()

	if !s.writeChar(s.mpu, device.MPUControlCharUUID, byte(s.settings.MPURate)) ||
		!s.writeChar(s.mpu, device.AccelRangeCharUUID, byte(s.settings.AccelRange)) ||
		!s.writeChar(s.mpu, device.GyroRangeCharUUID, byte(s.settings.GyroRange)) ||
		!s.notifyChar(s.mpu, device.MPUDataCharUUID, true) {
		return false
	}

	s.log().WithFields(logrus.Fields{
		"rate":  s.settings.MPURate,
		"accel": s.settings.AccelRange,
		"gyro":  s.settings.GyroRange,
	}).Info("Motion streaming started")
	s.setStreaming(true)
	return true
}

// StopStreaming disables data notifications and halts the motion sensor.
func (s *Session) StopStreaming() bool {
	if s.state != Connected {
		return false
	}
	if !s.notifyChar(s.mpu, device.MPUDataCharUUID, false) ||
		!s.writeChar(s.mpu, device.MPUControlCharUUID, 0) {
		return false
	}

	s.log().Debug("Motion streaming stopped")
	s.setStreaming(false)
	return true
}

func (s *Session) onCharacteristicChanged(e device.CharacteristicChanged) {
	if s.state != Connected {
		return
	}
	switch {
	case e.Char.Equal(device.KeyPressStateCharUUID):
		s.onButton(e.Value)
	case e.Char.Equal(device.MPUDataCharUUID):
		s.onMotion(e.Value)
	default:
		s.log().WithField("char", device.FormatUUID(e.Char)).Debug("Unhandled notification")
	}
}

func (s *Session) onButton(value []byte) {
	if len(value) == 0 {
		s.log().Debug("Empty key notification dropped")
		return
	}
	click, err := packet.ClassifyButton(value[0])
	if err != nil {
		s.log().WithError(err).Debug("Key notification dropped")
		return
	}

	switch click {
	case packet.SingleClick:
		s.singleClicks++
	case packet.DoubleClick:
		s.doubleClicks++
	case packet.LongClick:
		s.longClicks++
	}
	s.emit(Event{Kind: ButtonPressed, Click: click})
}

func (s *Session) onMotion(value []byte) {
	sample, err := packet.DecodeMotion(value)
	if err != nil {
		s.log().WithError(err).Debug("Motion packet dropped")
		return
	}
	s.sample = sample
	s.emit(Event{Kind: MotionUpdated, Raw: bytes.Clone(value), Sample: sample})
}

func (s *Session) onCharacteristicRead(e device.CharacteristicRead) {
	if s.state != Connected || !e.Char.Equal(device.BatteryLevelCharUUID) {
		return
	}
	if len(e.Value) == 0 {
		s.log().Debug("Empty battery read dropped")
		return
	}

	level := clampBattery(int(int8(e.Value[0])))
	if level == s.batteryLevel && !s.batteryFresh {
		return
	}
	s.batteryFresh = false
	s.batteryLevel = level
	s.log().WithField("level", level).Debug("Battery level")
	s.emit(Event{Kind: BatteryChanged, Battery: level})
}

// reportError is used for failures outside a specific characteristic
func (s *Session) reportError(msg string, err error) {
	s.log().WithError(err).Error(msg)
	s.setStatus(device.StatusText(err))
}
