package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
)

// Connect starts a connection attempt. It is a no-op unless the session is
// disconnected. A pending automatic reconnect is cancelled.
func (s *Session) Connect() {
	if s.state != Disconnected {
		s.log().WithField("state", s.state).Debug("Connect ignored")
		return
	}
	s.cancelReconnect()

	s.log().Info("Connecting")
	s.setState(Connecting)
	if err := s.transport.Connect(); err != nil {
		s.log().WithError(err).Error("Failed to start connection")
		s.setStatus(device.StatusText(err))
		s.setState(Disconnected)
	}
}

// Disconnect tears the link down. It always counts as user initiated: no
// automatic reconnect follows and a pending one is cancelled.
func (s *Session) Disconnect() {
	s.userDisconnect = true
	s.cancelReconnect()
	s.stopPolling()

	if s.state == Disconnected {
		return
	}

	s.log().Info("Disconnecting")
	s.detachServices()
	if err := s.transport.Disconnect(); err != nil {
		s.log().WithError(err).Warn("Transport disconnect failed")
	}
	s.enterDisconnected()
}

// HandleEvent applies a transport event to the session. It must run on the
// event loop.
func (s *Session) HandleEvent(ev device.Event) {
	switch e := ev.(type) {
	case device.Connected:
		s.onConnected()
	case device.Disconnected:
		s.onDisconnected()
	case device.DiscoveryFinished:
		s.onDiscoveryFinished(e)
	case device.ServiceStateChanged:
		s.onServiceStateChanged(e)
	case device.CharacteristicChanged:
		s.onCharacteristicChanged(e)
	case device.CharacteristicRead:
		s.onCharacteristicRead(e)
	case device.ControllerError:
		s.onControllerError(e)
	default:
		s.log().WithField("event", ev).Warn("Unknown transport event")
	}
}

func (s *Session) onConnected() {
	if s.state != Connecting {
		s.log().WithField("state", s.state).Warn("Unexpected connected event ignored")
		return
	}

	s.log().Info("Link established, discovering services")
	s.userDisconnect = false
	s.reconnections = 0
	s.singleClicks, s.doubleClicks, s.longClicks = 0, 0, 0
	s.status = ""

	if err := s.transport.DiscoverServices(); err != nil {
		s.reportError("Failed to start service discovery", err)
	}
}

func (s *Session) onDisconnected() {
	if s.state == Disconnected {
		return
	}

	s.stopPolling()
	s.detachServices()
	s.enterDisconnected()

	if s.userDisconnect {
		return
	}

	logger := s.log().WithFields(logrus.Fields{
		"attempt": s.reconnections + 1,
		"max":     s.settings.MaxReconnections,
	})
	if s.reconnections >= s.settings.MaxReconnections {
		logger.Warn("Link lost, reconnect budget exhausted")
		return
	}

	s.reconnections++
	logger.Info("Link lost, scheduling reconnect")
	s.reconnectTimer = s.sched.AfterFunc(ReconnectDelay, func() {
		s.reconnectTimer = nil
		s.Connect()
	})
}

func (s *Session) onControllerError(e device.ControllerError) {
	s.log().WithError(e.Err).Error("Controller error")
	s.setStatus(device.StatusText(e.Err))
}

func (s *Session) enterDisconnected() {
	s.setState(Disconnected)
	if s.streaming {
		s.setStreaming(false)
	}
}

func (s *Session) cancelReconnect() {
	if s.reconnectTimer == nil {
		return
	}
	s.reconnectTimer.Stop()
	s.reconnectTimer = nil
	s.log().Debug("Pending reconnect cancelled")
}
