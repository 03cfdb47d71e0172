package command

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
)

var epoch = time.Unix(1700000000, 0)

// pollClock is a fake clock whose Sleep advances time itself and counts
// calls. onSleep runs after each sleep with the 1-based sleep count.
type pollClock struct {
	*clock.FakeClock
	sleeps  atomic.Int32
	onSleep func(n int)
}

func newPollClock() *pollClock {
	return &pollClock{FakeClock: clock.Fake(epoch)}
}

func (c *pollClock) Sleep(d time.Duration) {
	n := int(c.sleeps.Add(1))
	c.FakeClock.Advance(d)
	if c.onSleep != nil {
		c.onSleep(n)
	}
}

func (c *pollClock) Sleeps() int { return int(c.sleeps.Load()) }

type fakeDevice struct {
	id        uint64
	handshake atomic.Bool
	connected atomic.Bool
}

func connectedDevice(id uint64) *fakeDevice {
	d := &fakeDevice{id: id}
	d.connected.Store(true)
	return d
}

func handshakingDevice(id uint64) *fakeDevice {
	d := &fakeDevice{id: id}
	d.handshake.Store(true)
	return d
}

func (d *fakeDevice) complete() {
	d.connected.Store(true)
	d.handshake.Store(false)
}

func (d *fakeDevice) NodeID() uint64              { return d.id }
func (d *fakeDevice) IsHandshakeInProgress() bool { return d.handshake.Load() }
func (d *fakeDevice) IsSecurelyConnected() bool   { return d.connected.Load() }

type fakeProvider struct {
	devices map[uint64]Device
	err     error
}

func providerWith(devs ...*fakeDevice) *fakeProvider {
	p := &fakeProvider{devices: make(map[uint64]Device)}
	for _, d := range devs {
		p.devices[d.id] = d
	}
	return p
}

func (p *fakeProvider) ResolveDevice(nodeID uint64) (Device, error) {
	if p.err != nil {
		return nil, p.err
	}
	dev, ok := p.devices[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node 0x%X not paired", ErrDeviceNotFound, nodeID)
	}
	return dev, nil
}

// fakeDispatcher records each Send and the responder it was given, and runs
// hook, if set, inside it.
type fakeDispatcher struct {
	mu         sync.Mutex
	sent       []Command
	responders []Responder
	err        error
	hook       func(r Responder)
	calls      atomic.Int32
}

func (d *fakeDispatcher) Send(dev Device, cmd Command, r Responder) error {
	d.calls.Add(1)
	d.mu.Lock()
	d.sent = append(d.sent, cmd)
	d.responders = append(d.responders, r)
	d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.hook != nil {
		d.hook(r)
	}
	return nil
}

func (d *fakeDispatcher) responder(t *testing.T, i int) Responder {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.responders) {
		t.Fatalf("send %d not seen, have %d", i, len(d.responders))
	}
	return d.responders[i]
}

type recordingObserver struct {
	mu         sync.Mutex
	outcomes   []string
	iterations []int
}

func (o *recordingObserver) ObserveRun(_ Command, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveSessionWait(iterations int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.iterations = append(o.iterations, iterations)
}

var errLinkDown = errors.New("link down")
