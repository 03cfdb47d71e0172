package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/clusterctl/internal/clock"
	"github.com/danmuck/clusterctl/internal/codec"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/config"
	"github.com/danmuck/clusterctl/internal/observability"
	"github.com/danmuck/clusterctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Device holds the simulated endpoint and attribute state.
type Device struct {
	nodeID uint64
	clk    clock.Clock
	fail   map[config.CommandRef]struct{}

	mu        sync.Mutex
	endpoints map[uint16]map[uint32]Cluster
}

// Outcome is the result of one invoke.
type Outcome struct {
	Status  uint8
	Message string
	// Report is set when an attribute changed.
	Report *session.StatusReport
}

// EndpointState is the admin view of one endpoint.
type EndpointState struct {
	ID       uint16                    `json:"id"`
	Clusters map[string]map[string]any `json:"clusters"`
}

func NewDevice(cfg config.DeviceConfig, clk clock.Clock) (*Device, error) {
	if clk == nil {
		clk = clock.Real()
	}
	fail, err := cfg.FailSet()
	if err != nil {
		return nil, err
	}
	d := &Device{
		nodeID:    cfg.NodeID,
		clk:       clk,
		fail:      fail,
		endpoints: make(map[uint16]map[uint32]Cluster, len(cfg.Endpoints)),
	}
	for _, ep := range cfg.Endpoints {
		clusters := make(map[uint32]Cluster, len(ep.Clusters))
		for _, name := range ep.Clusters {
			c, err := newCluster(name)
			if err != nil {
				return nil, fmt.Errorf("endpoint %d: %w", ep.ID, err)
			}
			clusters[c.ID()] = c
		}
		d.endpoints[ep.ID] = clusters
	}
	return d, nil
}

func (d *Device) NodeID() uint64 { return d.nodeID }

// Invoke runs req against the endpoint state and maps the result to a
// response status.
func (d *Device) Invoke(req session.InvokeRequest) Outcome {
	out := d.invoke(req)
	observability.RecordSimInvoke(req.ClusterID, req.CommandID, session.StatusName(out.Status))
	log.Info().
		Uint64("exchange_id", req.ExchangeID).
		Str("local_node", command.FormatNodeID(req.SourceNode)).
		Uint16("endpoint", req.EndpointID).
		Uint32("cluster", req.ClusterID).
		Uint32("command", req.CommandID).
		Str("args", codec.Diagnose(req.Payload)).
		Str("status", session.StatusName(out.Status)).
		Msg("sim invoke")
	return out
}

func (d *Device) invoke(req session.InvokeRequest) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	clusters, ok := d.endpoints[req.EndpointID]
	if !ok {
		return Outcome{Status: session.StatusUnsupportedEndpoint, Message: fmt.Sprintf("no endpoint %d", req.EndpointID)}
	}
	c, ok := clusters[req.ClusterID]
	if !ok {
		return Outcome{Status: session.StatusUnsupportedCluster, Message: fmt.Sprintf("no cluster 0x%04X", req.ClusterID)}
	}
	if _, inject := d.fail[config.CommandRef{ClusterID: req.ClusterID, CommandID: req.CommandID}]; inject {
		return Outcome{Status: session.StatusFailure, Message: "injected failure"}
	}
	args, err := codec.DecodeArgs(req.Payload)
	if err != nil {
		return Outcome{Status: session.StatusFailure, Message: err.Error()}
	}

	now := d.clk.Now()
	changed, err := c.Invoke(req.CommandID, args, now)
	switch {
	case errors.Is(err, ErrUnsupportedCommand):
		return Outcome{Status: session.StatusUnsupportedCommand, Message: err.Error()}
	case err != nil:
		return Outcome{Status: session.StatusFailure, Message: err.Error()}
	}

	out := Outcome{Status: session.StatusSuccess}
	if changed {
		payload, err := codec.EncodeArgs(c.Attributes(now))
		if err != nil {
			log.Warn().Err(err).Msg("sim encode attributes failed")
			return out
		}
		out.Report = &session.StatusReport{
			SourceNode: d.nodeID,
			EndpointID: req.EndpointID,
			ClusterID:  req.ClusterID,
			Payload:    payload,
		}
	}
	return out
}

// Snapshot returns endpoint state ordered by endpoint id.
func (d *Device) Snapshot() []EndpointState {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clk.Now()
	out := make([]EndpointState, 0, len(d.endpoints))
	for id, clusters := range d.endpoints {
		state := EndpointState{ID: id, Clusters: make(map[string]map[string]any, len(clusters))}
		for _, c := range clusters {
			state.Clusters[c.Name()] = c.Attributes(now)
		}
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
