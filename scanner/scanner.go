package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/ringchan"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type DeviceEvent struct {
	Type DeviceEventType
	Peer device.Peer
}

// PeerHandler is called once for every newly discovered qualifying peer.
// It runs on the radio's goroutine.
type PeerHandler func(device.Peer)

// Scanner handles BLE device discovery
type Scanner struct {
	dev     device.ScanningDevice
	devices *hashmap.Map[string, device.Peer]
	events  *ringchan.RingChannel[DeviceEvent]
	logger  *logrus.Logger
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	AllowDuplicates bool
	Product         string // substring the advertised name must contain; empty admits all
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		AllowDuplicates: true,
	}
}

// NewScanner creates a new BLE scanner over dev
func NewScanner(dev device.ScanningDevice, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		dev:     dev,
		devices: hashmap.New[string, device.Peer](),
		events:  ringchan.New[DeviceEvent](100),
		logger:  logger,
	}
}

// Scan performs BLE discovery with the provided options and returns the
// qualifying peers sorted by address. onPeer may be nil.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, onPeer PeerHandler) ([]device.Peer, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if onPeer == nil {
		onPeer = func(device.Peer) {}
	}

	s.devices = hashmap.New[string, device.Peer]()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"product":  opts.Product,
	}).Info("Starting BLE scan...")

	err := s.dev.Scan(ctx, opts.AllowDuplicates, func(p device.Peer) {
		s.handlePeer(p, opts, onPeer)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	return s.Peers(), nil
}

// handlePeer updates an existing or adds a new device
func (s *Scanner) handlePeer(p device.Peer, opts *ScanOptions, onPeer PeerHandler) {
	if p.Address == "" {
		return
	}
	id := strings.ToUpper(p.Address)

	if _, existing := s.devices.Get(id); existing {
		s.devices.Set(id, p)
		s.events.Send(DeviceEvent{Type: EventUpdated, Peer: p})
		return
	}

	if !shouldIncludePeer(id, p, opts) {
		return
	}
	if _, loaded := s.devices.GetOrInsert(id, p); loaded {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":  p.Name,
		"address": p.Address,
		"rssi":    p.RSSI,
	}).Info("Discovered new device")

	s.events.Send(DeviceEvent{Type: EventNew, Peer: p})
	onPeer(p)
}

// shouldIncludePeer applies the allow, block and product filters
func shouldIncludePeer(id string, p device.Peer, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if strings.EqualFold(id, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(id, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if opts.Product != "" && !p.MatchesProduct(opts.Product) {
		return false
	}

	return true
}

// Peers returns a snapshot of discovered peers sorted by address
func (s *Scanner) Peers() []device.Peer {
	peers := make([]device.Peer, 0, s.devices.Len())
	s.devices.Range(func(_ string, p device.Peer) bool {
		peers = append(peers, p)
		return true
	})
	sort.Slice(peers, func(i, j int) bool {
		return strings.ToUpper(peers[i].Address) < strings.ToUpper(peers[j].Address)
	})
	return peers
}

// Events return a read-only channel of device events. The channel keeps
// the latest events only and is closed by Close.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Close closes the events channel
func (s *Scanner) Close() {
	s.events.Close()
}
