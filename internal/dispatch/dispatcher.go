// Package dispatch turns commands into invoke frames and routes invoke
// responses back to the waiting responder.
//
// Send is called by command.Runner with the stack guard held. Deliver,
// FailNode and exchange timeouts run as stack loop tasks, also under the
// guard, so exchange resolution never races transmission.
package dispatch

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/clusterctl/internal/clock"
	"github.com/danmuck/clusterctl/internal/codec"
	"github.com/danmuck/clusterctl/internal/command"
	"github.com/danmuck/clusterctl/internal/observability"
	"github.com/danmuck/clusterctl/internal/protocol/frame"
	"github.com/danmuck/clusterctl/internal/protocol/schema"
	"github.com/danmuck/clusterctl/internal/protocol/session"
	"github.com/danmuck/clusterctl/internal/stack"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotTransmitter = errors.New("dispatch: device handle cannot transmit")
	ErrNotConnected   = errors.New("dispatch: device not securely connected")
	ErrEncodeArgs     = errors.New("dispatch: encode command args")
	ErrExchangeInUse  = errors.New("dispatch: exchange id already pending")
)

// Transmitter is a device handle that can carry encoded frames.
type Transmitter interface {
	command.Device
	Transmit(raw []byte) error
}

type Config struct {
	LocalNodeID     uint64
	ExchangeTimeout time.Duration
	Clock           clock.Clock
}

func DefaultConfig() Config {
	return Config{ExchangeTimeout: 8 * time.Second}
}

// ReportHandler receives unsolicited status reports. Runs on the loop.
type ReportHandler func(nodeID uint64, report session.StatusReport)

type exchange struct {
	responder command.Responder
	timer     *clock.Timer
}

type Dispatcher struct {
	cfg      Config
	loop     *stack.Loop
	table    *session.ExchangeTable[*exchange]
	onReport ReportHandler

	nextExchange atomic.Uint64
	nextMessage  atomic.Uint64
}

var _ command.Dispatcher = (*Dispatcher)(nil)

func New(cfg Config, loop *stack.Loop) (*Dispatcher, error) {
	if cfg.LocalNodeID == 0 {
		return nil, errors.New("dispatch: local node id required")
	}
	if cfg.ExchangeTimeout <= 0 {
		return nil, errors.New("dispatch: exchange timeout must be positive")
	}
	if loop == nil {
		return nil, errors.New("dispatch: loop required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	d := &Dispatcher{
		cfg:   cfg,
		loop:  loop,
		table: session.NewExchangeTable[*exchange](),
	}
	d.nextExchange.Store(uint64(cfg.Clock.Now().UnixNano()) & 0xFFFFFFFF)
	return d, nil
}

func (d *Dispatcher) OnReport(h ReportHandler) { d.onReport = h }

// Send encodes cmd, registers the exchange, arms its timeout and transmits.
// On error no callback is owed to r.
func (d *Dispatcher) Send(dev command.Device, cmd command.Command, r command.Responder) error {
	tx, ok := dev.(Transmitter)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotTransmitter, dev)
	}
	if !tx.IsSecurelyConnected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, command.FormatNodeID(tx.NodeID()))
	}
	payload, err := codec.EncodeArgs(cmd.Args)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeArgs, err)
	}

	exchangeID := d.nextExchange.Add(1)
	raw, err := session.EncodeInvokeRequestFrame(d.nextMessage.Add(1), session.InvokeRequest{
		ExchangeID:      exchangeID,
		SourceNode:      d.cfg.LocalNodeID,
		DestinationNode: tx.NodeID(),
		EndpointID:      cmd.EndpointID,
		ClusterID:       cmd.ClusterID,
		CommandID:       cmd.CommandID,
		Payload:         payload,
	})
	if err != nil {
		return err
	}

	now := d.cfg.Clock.Now()
	ex := &exchange{responder: r}
	inserted := d.table.Insert(session.PendingExchange[*exchange]{
		ExchangeID: exchangeID,
		NodeID:     tx.NodeID(),
		EndpointID: cmd.EndpointID,
		ClusterID:  cmd.ClusterID,
		CommandID:  cmd.CommandID,
		SentAt:     now,
		DeadlineAt: now.Add(d.cfg.ExchangeTimeout),
		Attached:   ex,
	})
	if !inserted {
		return fmt.Errorf("%w: %d", ErrExchangeInUse, exchangeID)
	}
	ex.timer = d.cfg.Clock.AfterFunc(d.cfg.ExchangeTimeout, func() {
		if err := d.loop.Post(func() { d.expire(exchangeID) }); err != nil {
			log.Debug().Err(err).Uint64("exchange_id", exchangeID).Msg("dispatch timeout not delivered")
		}
	})

	if err := tx.Transmit(raw); err != nil {
		if _, ok := d.table.Take(exchangeID); ok {
			ex.timer.Stop()
		}
		observability.RecordExchange("send_error")
		return err
	}
	log.Debug().
		Uint64("exchange_id", exchangeID).
		Str("remote_node", command.FormatNodeID(tx.NodeID())).
		Str("command", cmd.String()).
		Str("args", codec.Diagnose(payload)).
		Msg("dispatch invoke sent")
	return nil
}

// Deliver handles one inbound frame from nodeID. Must run on the loop.
func (d *Dispatcher) Deliver(nodeID uint64, f frame.Frame) {
	switch f.Header.MessageType {
	case schema.MsgInvokeResponse:
		d.deliverResponse(nodeID, f)
	case schema.MsgStatusReport:
		report, err := session.DecodeStatusReportFrame(f)
		if err != nil {
			log.Warn().Err(err).Str("remote_node", command.FormatNodeID(nodeID)).Msg("dispatch bad status report")
			return
		}
		log.Info().
			Str("remote_node", command.FormatNodeID(report.SourceNode)).
			Uint16("endpoint", report.EndpointID).
			Uint32("cluster", report.ClusterID).
			Str("attributes", codec.Diagnose(report.Payload)).
			Msg("dispatch status report")
		if d.onReport != nil {
			d.onReport(nodeID, report)
		}
	default:
		log.Warn().
			Str("remote_node", command.FormatNodeID(nodeID)).
			Str("message", schema.MessageName(f.Header.MessageType)).
			Msg("dispatch unexpected message dropped")
	}
}

func (d *Dispatcher) deliverResponse(nodeID uint64, f frame.Frame) {
	resp, err := session.DecodeInvokeResponseFrame(f)
	if err != nil {
		log.Warn().Err(err).Str("remote_node", command.FormatNodeID(nodeID)).Msg("dispatch bad invoke response")
		return
	}
	pending, ok := d.table.Get(resp.ExchangeID)
	if !ok || pending.NodeID != nodeID {
		log.Debug().
			Uint64("exchange_id", resp.ExchangeID).
			Str("remote_node", command.FormatNodeID(nodeID)).
			Msg("dispatch response for unknown exchange dropped")
		return
	}
	if _, ok := d.table.Take(resp.ExchangeID); !ok {
		return
	}
	pending.Attached.timer.Stop()

	success := resp.Status == session.StatusSuccess
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	observability.RecordExchange(outcome)
	log.Info().
		Uint64("exchange_id", resp.ExchangeID).
		Str("remote_node", command.FormatNodeID(nodeID)).
		Str("status", session.StatusName(resp.Status)).
		Str("message", resp.Message).
		Dur("rtt", d.cfg.Clock.Now().Sub(pending.SentAt)).
		Msg("dispatch invoke response")
	pending.Attached.responder.OnResponse(success)
}

// FailNode fails every exchange pending on nodeID. Must run on the loop.
func (d *Dispatcher) FailNode(nodeID uint64, cause error) {
	for _, pending := range d.table.TakeNode(nodeID) {
		pending.Attached.timer.Stop()
		observability.RecordExchange("disconnected")
		log.Warn().
			Err(cause).
			Uint64("exchange_id", pending.ExchangeID).
			Str("remote_node", command.FormatNodeID(nodeID)).
			Msg("dispatch exchange failed by disconnect")
		pending.Attached.responder.OnResponse(false)
	}
}

func (d *Dispatcher) expire(exchangeID uint64) {
	pending, ok := d.table.Take(exchangeID)
	if !ok {
		return
	}
	observability.RecordExchange("timeout")
	log.Warn().
		Uint64("exchange_id", exchangeID).
		Str("remote_node", command.FormatNodeID(pending.NodeID)).
		Dur("timeout", d.cfg.ExchangeTimeout).
		Msg("dispatch exchange timed out")
	pending.Attached.responder.OnResponse(false)
}

// PendingInfo describes one unresolved exchange.
type PendingInfo struct {
	ExchangeID uint64
	NodeID     uint64
	EndpointID uint16
	ClusterID  uint32
	CommandID  uint32
	SentAt     time.Time
	DeadlineAt time.Time
}

func (d *Dispatcher) Pending() []PendingInfo {
	items := d.table.List()
	out := make([]PendingInfo, 0, len(items))
	for _, item := range items {
		out = append(out, PendingInfo{
			ExchangeID: item.ExchangeID,
			NodeID:     item.NodeID,
			EndpointID: item.EndpointID,
			ClusterID:  item.ClusterID,
			CommandID:  item.CommandID,
			SentAt:     item.SentAt,
			DeadlineAt: item.DeadlineAt,
		})
	}
	return out
}
