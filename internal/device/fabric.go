package device

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/clusterctl/internal/command"
)

var (
	ErrZeroNodeID       = errors.New("device: node_id must be non-zero")
	ErrDuplicateNode    = errors.New("device: duplicate node_id")
	ErrAddressRequired  = errors.New("device: address required")
	ErrUnknownDevice    = fmt.Errorf("device: unknown node (%w)", command.ErrDeviceNotFound)
	ErrProviderClosed   = errors.New("device: provider closed")
	ErrNotConnected     = errors.New("device: session not connected")
	ErrEstablishRefused = errors.New("device: establish rejected")
	ErrPeerMismatch     = errors.New("device: peer identity mismatch")
)

// Entry is one paired device.
type Entry struct {
	NodeID       uint64
	Address      string
	PeerIdentity string
}

// Fabric is the read-only set of paired devices known to this controller.
type Fabric struct {
	entries map[uint64]Entry
}

func NewFabric(entries []Entry) (*Fabric, error) {
	f := &Fabric{entries: make(map[uint64]Entry, len(entries))}
	for i, e := range entries {
		e.Address = strings.TrimSpace(e.Address)
		e.PeerIdentity = strings.TrimSpace(e.PeerIdentity)
		if e.NodeID == 0 {
			return nil, fmt.Errorf("%w: devices[%d]", ErrZeroNodeID, i)
		}
		if e.Address == "" {
			return nil, fmt.Errorf("%w: devices[%d] node %s", ErrAddressRequired, i, command.FormatNodeID(e.NodeID))
		}
		if _, exists := f.entries[e.NodeID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, command.FormatNodeID(e.NodeID))
		}
		f.entries[e.NodeID] = e
	}
	return f, nil
}

func (f *Fabric) Lookup(nodeID uint64) (Entry, bool) {
	e, ok := f.entries[nodeID]
	return e, ok
}

func (f *Fabric) Len() int { return len(f.entries) }

// List returns entries ordered by node id.
func (f *Fabric) List() []Entry {
	out := make([]Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
