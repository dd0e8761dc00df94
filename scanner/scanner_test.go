//go:build test

package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/vecs/internal/device"
	"github.com/srg/vecs/internal/testutils"
	"github.com/srg/vecs/scanner"
	"github.com/stretchr/testify/suite"
)

// fakeRadio replays a fixed list of peers and then ends the scan
type fakeRadio struct {
	peers    []device.Peer
	err      error
	allowDup bool
	hadLimit bool
}

func (r *fakeRadio) Scan(ctx context.Context, allowDup bool, handler func(device.Peer)) error {
	r.allowDup = allowDup
	_, r.hadLimit = ctx.Deadline()
	for _, p := range r.peers {
		handler(p)
	}
	if r.err != nil {
		return r.err
	}
	return context.DeadlineExceeded
}

func sensorPeer(addr string, rssi int) device.Peer {
	return device.Peer{Address: addr, RSSI: rssi, Name: "VE Control Sensor", Capabilities: device.CapLowEnergy}
}

type ScannerTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
	radio  *fakeRadio
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.radio = &fakeRadio{peers: []device.Peer{
		sensorPeer("AA:BB:CC:DD:EE:02", -60),
		sensorPeer("AA:BB:CC:DD:EE:01", -45),
		{Address: "11:22:33:44:55:66", RSSI: -50, Name: "Headphones", Capabilities: device.CapLowEnergy},
		{Address: "99:88:77:66:55:44", RSSI: -70, Name: "VE Control Sensor", Capabilities: device.CapBasicRate},
		sensorPeer("aa:bb:cc:dd:ee:02", -52),
	}}
}

func (suite *ScannerTestSuite) TestNewScanner() {
	suite.Run("creates scanner with provided logger", func() {
		suite.NotNil(scanner.NewScanner(suite.radio, suite.helper.Logger))
	})

	suite.Run("creates scanner with nil logger", func() {
		suite.NotNil(scanner.NewScanner(suite.radio, nil))
	})
}

func (suite *ScannerTestSuite) TestProductFilterAndDedupe() {
	// GOAL: Verify only low energy peers naming the product qualify and each is reported once
	//
	// TEST SCENARIO: five advertisements (one duplicate, one foreign, one classic) → two peers in discovery order

	s := scanner.NewScanner(suite.radio, suite.helper.Logger)
	var reported []string
	peers, err := s.Scan(context.Background(), &scanner.ScanOptions{
		Duration:        time.Second,
		AllowDuplicates: true,
		Product:         "VE Control Sensor",
	}, func(p device.Peer) { reported = append(reported, p.Address) })
	suite.Require().NoError(err, "scan ended by its deadline MUST not be an error")

	suite.Equal([]string{"AA:BB:CC:DD:EE:02", "AA:BB:CC:DD:EE:01"}, reported, "handler MUST fire once per peer in discovery order")

	suite.Require().Len(peers, 2)
	suite.Equal("AA:BB:CC:DD:EE:01", peers[0].Address, "results MUST be sorted by address")
	suite.Equal(-52, peers[1].RSSI, "duplicate advertisement MUST refresh the peer")

	suite.True(suite.radio.allowDup)
	suite.True(suite.radio.hadLimit, "duration MUST bound the scan")
}

func (suite *ScannerTestSuite) TestAllowAndBlockLists() {
	tests := []struct {
		name  string
		allow []string
		block []string
		want  []string
	}{
		{"block wins", nil, []string{"aa:bb:cc:dd:ee:02"}, []string{"AA:BB:CC:DD:EE:01"}},
		{"allow restricts", []string{"AA:BB:CC:DD:EE:01"}, nil, []string{"AA:BB:CC:DD:EE:01"}},
		{"allow and block", []string{"AA:BB:CC:DD:EE:01"}, []string{"AA:BB:CC:DD:EE:01"}, nil},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			s := scanner.NewScanner(suite.radio, suite.helper.Logger)
			peers, err := s.Scan(context.Background(), &scanner.ScanOptions{
				Product:   "VE Control Sensor",
				AllowList: tt.allow,
				BlockList: tt.block,
			}, nil)
			suite.Require().NoError(err)
			var got []string
			for _, p := range peers {
				got = append(got, p.Address)
			}
			suite.Equal(tt.want, got)
		})
	}
}

func (suite *ScannerTestSuite) TestNoProductAdmitsAll() {
	s := scanner.NewScanner(suite.radio, suite.helper.Logger)
	peers, err := s.Scan(context.Background(), &scanner.ScanOptions{}, nil)
	suite.Require().NoError(err)
	suite.Len(peers, 4)
	suite.False(suite.radio.hadLimit, "zero duration MUST leave the caller's context alone")
}

func (suite *ScannerTestSuite) TestEvents() {
	s := scanner.NewScanner(suite.radio, suite.helper.Logger)
	_, err := s.Scan(context.Background(), &scanner.ScanOptions{Product: "VE Control Sensor"}, nil)
	suite.Require().NoError(err)
	s.Close()

	var got []scanner.DeviceEventType
	for ev := range s.Events() {
		got = append(got, ev.Type)
	}
	suite.Equal([]scanner.DeviceEventType{scanner.EventNew, scanner.EventNew, scanner.EventUpdated}, got)
	suite.Equal("updated", got[2].String())
}

func (suite *ScannerTestSuite) TestScanError() {
	suite.radio.err = device.ErrBluetoothOff
	s := scanner.NewScanner(suite.radio, suite.helper.Logger)

	peers, err := s.Scan(context.Background(), nil, nil)
	suite.Nil(peers)
	suite.ErrorIs(err, device.ErrBluetoothOff)
	suite.Contains(err.Error(), "scan failed")
}

func (suite *ScannerTestSuite) TestCancelledScanIsNotAnError() {
	suite.radio.err = context.Canceled
	suite.radio.peers = nil
	s := scanner.NewScanner(suite.radio, suite.helper.Logger)

	peers, err := s.Scan(context.Background(), nil, nil)
	suite.NoError(err)
	suite.Empty(peers)
	suite.False(errors.Is(err, context.Canceled))
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
