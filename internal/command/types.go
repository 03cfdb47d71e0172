package command

import "fmt"

// DeviceProvider resolves paired devices. A miss returns an error wrapping
// ErrDeviceNotFound; any other error is reported as a generic failure.
type DeviceProvider interface {
	ResolveDevice(nodeID uint64) (Device, error)
}

// Device is a borrowed handle on one remote device's session state. Both
// predicates must be safe to call from any goroutine.
type Device interface {
	NodeID() uint64
	IsHandshakeInProgress() bool
	IsSecurelyConnected() bool
}

// Dispatcher transmits a command. On success the dispatcher owes r exactly
// one OnResponse call, which may arrive before Send returns.
type Dispatcher interface {
	Send(dev Device, cmd Command, r Responder) error
}

type Responder interface {
	OnResponse(success bool)
}

// Command is one cluster command addressed to an endpoint. Args are encoded
// by the dispatcher and carry no meaning here.
type Command struct {
	ClusterID  uint32
	CommandID  uint32
	EndpointID uint16
	Args       map[string]any
}

func (c Command) String() string {
	return fmt.Sprintf("cluster=0x%04X command=0x%02X endpoint=%d", c.ClusterID, c.CommandID, c.EndpointID)
}

func FormatNodeID(id uint64) string {
	return fmt.Sprintf("0x%016X", id)
}
