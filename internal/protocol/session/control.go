package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeEstablish    = "session.establish"
	controlTypeEstablishAck = "session.establish.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	// Rejection codes carried in EstablishAck.Code.
	CodeNodeMismatch     uint32 = 1001
	CodeIdentityMismatch uint32 = 1002
	CodePeerBlocked      uint32 = 1003

	maxControlLineBytes = 128 * 1024
)

var (
	ErrInvalidEstablish       = errors.New("session: invalid establish")
	ErrInvalidEstablishAck    = errors.New("session: invalid establish ack")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Establish is the controller->device session-start payload.
type Establish struct {
	LocalNodeID  uint64 `json:"local_node_id"`
	RemoteNodeID uint64 `json:"remote_node_id"`
	PeerIdentity string `json:"peer_identity,omitempty"`
}

func (e Establish) Validate() error {
	if e.LocalNodeID == 0 {
		return fmt.Errorf("%w: missing local_node_id", ErrInvalidEstablish)
	}
	if e.RemoteNodeID == 0 {
		return fmt.Errorf("%w: missing remote_node_id", ErrInvalidEstablish)
	}
	if e.LocalNodeID == e.RemoteNodeID {
		return fmt.Errorf("%w: local and remote node ids are equal", ErrInvalidEstablish)
	}
	return nil
}

// EstablishAck is the device->controller session-start response.
type EstablishAck struct {
	Status      string `json:"status"`
	Code        uint32 `json:"code"`
	Message     string `json:"message"`
	SessionID   uint64 `json:"session_id"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a EstablishAck) Accepted() bool {
	return a.Status == AckStatusAccepted
}

func (a EstablishAck) Validate() error {
	status := strings.TrimSpace(a.Status)
	if status != AckStatusAccepted && status != AckStatusRejected {
		return fmt.Errorf("%w: invalid status", ErrInvalidEstablishAck)
	}
	if status == AckStatusAccepted && a.SessionID == 0 {
		return fmt.Errorf("%w: missing session_id", ErrInvalidEstablishAck)
	}
	if a.TimestampMS == 0 {
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidEstablishAck)
	}
	return nil
}

type controlEnvelope struct {
	Type      string        `json:"type"`
	Establish *Establish    `json:"establish,omitempty"`
	Ack       *EstablishAck `json:"establish_ack,omitempty"`
}

func WriteEstablish(w io.Writer, e Establish) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeEstablish, Establish: &e})
}

func ReadEstablish(r *bufio.Reader) (Establish, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Establish{}, err
	}
	if env.Type != controlTypeEstablish || env.Establish == nil {
		return Establish{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidEstablish, env.Type)
	}
	if err := env.Establish.Validate(); err != nil {
		return Establish{}, err
	}
	return *env.Establish, nil
}

func WriteEstablishAck(w io.Writer, ack EstablishAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeEstablishAck, Ack: &ack})
}

func ReadEstablishAck(r *bufio.Reader) (EstablishAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return EstablishAck{}, err
	}
	if env.Type != controlTypeEstablishAck || env.Ack == nil {
		return EstablishAck{}, fmt.Errorf("%w: unexpected control type %q", ErrInvalidEstablishAck, env.Type)
	}
	if err := env.Ack.Validate(); err != nil {
		return EstablishAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return controlEnvelope{}, err
		}
		line = append(line, chunk...)
		if len(line) > maxControlLineBytes {
			return controlEnvelope{}, ErrControlMessageTooLarge
		}
		if !isPrefix {
			break
		}
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
