package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/clusterctl/internal/protocol/frame"
	"github.com/danmuck/clusterctl/internal/protocol/schema"
	"github.com/danmuck/clusterctl/internal/protocol/tlv"
)

// Interaction status codes carried in InvokeResponse.Status.
const (
	StatusSuccess             uint8 = 0x00
	StatusFailure             uint8 = 0x01
	StatusUnsupportedEndpoint uint8 = 0x7F
	StatusUnsupportedCommand  uint8 = 0x81
	StatusUnsupportedCluster  uint8 = 0xC3
)

var (
	ErrInvalidInvoke     = errors.New("session: invalid invoke request")
	ErrInvalidResponse   = errors.New("session: invalid invoke response")
	ErrInvalidReport     = errors.New("session: invalid status report")
	ErrUnexpectedMessage = errors.New("session: unexpected message type")
)

func StatusName(status uint8) string {
	switch status {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusUnsupportedEndpoint:
		return "unsupported_endpoint"
	case StatusUnsupportedCommand:
		return "unsupported_command"
	case StatusUnsupportedCluster:
		return "unsupported_cluster"
	default:
		return fmt.Sprintf("status_0x%02X", status)
	}
}

// InvokeRequest is one cluster command addressed to an endpoint.
type InvokeRequest struct {
	ExchangeID      uint64
	SourceNode      uint64
	DestinationNode uint64
	EndpointID      uint16
	ClusterID       uint32
	CommandID       uint32
	Payload         []byte
}

func (r InvokeRequest) Validate() error {
	if r.ExchangeID == 0 {
		return fmt.Errorf("%w: missing exchange_id", ErrInvalidInvoke)
	}
	if r.SourceNode == 0 || r.DestinationNode == 0 {
		return fmt.Errorf("%w: missing node id", ErrInvalidInvoke)
	}
	return nil
}

// InvokeResponse answers exactly one InvokeRequest by exchange id.
type InvokeResponse struct {
	ExchangeID      uint64
	SourceNode      uint64
	DestinationNode uint64
	Status          uint8
	Message         string
}

func (r InvokeResponse) Validate() error {
	if r.ExchangeID == 0 {
		return fmt.Errorf("%w: missing exchange_id", ErrInvalidResponse)
	}
	if r.SourceNode == 0 || r.DestinationNode == 0 {
		return fmt.Errorf("%w: missing node id", ErrInvalidResponse)
	}
	return nil
}

// StatusReport is an unsolicited attribute report pushed by a device after
// its state changes.
type StatusReport struct {
	SourceNode uint64
	EndpointID uint16
	ClusterID  uint32
	Payload    []byte
}

func (r StatusReport) Validate() error {
	if r.SourceNode == 0 {
		return fmt.Errorf("%w: missing source node", ErrInvalidReport)
	}
	return nil
}

func EncodeInvokeRequestFrame(messageID uint64, req InvokeRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.NewU64(schema.FieldExchangeID, req.ExchangeID),
		tlv.NewU64(schema.FieldSourceNode, req.SourceNode),
		tlv.NewU64(schema.FieldDestinationNode, req.DestinationNode),
		tlv.NewU16(schema.FieldEndpointID, req.EndpointID),
		tlv.NewU32(schema.FieldClusterID, req.ClusterID),
		tlv.NewU32(schema.FieldCommandID, req.CommandID),
		tlv.NewBytes(schema.FieldPayload, req.Payload),
	}
	return encodeMessage(messageID, schema.MsgInvokeRequest, 0, fields)
}

func DecodeInvokeRequestFrame(f frame.Frame) (InvokeRequest, error) {
	fields, err := decodeMessage(f, schema.MsgInvokeRequest)
	if err != nil {
		return InvokeRequest{}, err
	}
	var req InvokeRequest
	err = errors.Join(
		readU64(fields, schema.FieldExchangeID, &req.ExchangeID),
		readU64(fields, schema.FieldSourceNode, &req.SourceNode),
		readU64(fields, schema.FieldDestinationNode, &req.DestinationNode),
		readU16(fields, schema.FieldEndpointID, &req.EndpointID),
		readU32(fields, schema.FieldClusterID, &req.ClusterID),
		readU32(fields, schema.FieldCommandID, &req.CommandID),
		readBytes(fields, schema.FieldPayload, &req.Payload),
	)
	if err != nil {
		return InvokeRequest{}, err
	}
	return req, req.Validate()
}

func EncodeInvokeResponseFrame(messageID uint64, resp InvokeResponse) ([]byte, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.NewU64(schema.FieldExchangeID, resp.ExchangeID),
		tlv.NewU64(schema.FieldSourceNode, resp.SourceNode),
		tlv.NewU64(schema.FieldDestinationNode, resp.DestinationNode),
		tlv.NewU8(schema.FieldStatus, resp.Status),
	}
	if resp.Message != "" {
		fields = append(fields, tlv.NewString(schema.FieldMessage, resp.Message))
	}
	flags := frame.FlagIsResponse
	if resp.Status != StatusSuccess {
		flags |= frame.FlagIsError
	}
	return encodeMessage(messageID, schema.MsgInvokeResponse, flags, fields)
}

func DecodeInvokeResponseFrame(f frame.Frame) (InvokeResponse, error) {
	fields, err := decodeMessage(f, schema.MsgInvokeResponse)
	if err != nil {
		return InvokeResponse{}, err
	}
	var resp InvokeResponse
	err = errors.Join(
		readU64(fields, schema.FieldExchangeID, &resp.ExchangeID),
		readU64(fields, schema.FieldSourceNode, &resp.SourceNode),
		readU64(fields, schema.FieldDestinationNode, &resp.DestinationNode),
	)
	if err != nil {
		return InvokeResponse{}, err
	}
	statusField, _ := tlv.GetField(fields, schema.FieldStatus)
	if resp.Status, err = statusField.U8(); err != nil {
		return InvokeResponse{}, err
	}
	if msgField, ok := tlv.GetField(fields, schema.FieldMessage); ok {
		if resp.Message, err = msgField.Str(); err != nil {
			return InvokeResponse{}, err
		}
	}
	return resp, resp.Validate()
}

func EncodeStatusReportFrame(messageID uint64, report StatusReport) ([]byte, error) {
	if err := report.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{
		tlv.NewU64(schema.FieldSourceNode, report.SourceNode),
		tlv.NewU16(schema.FieldEndpointID, report.EndpointID),
		tlv.NewU32(schema.FieldClusterID, report.ClusterID),
		tlv.NewBytes(schema.FieldPayload, report.Payload),
	}
	return encodeMessage(messageID, schema.MsgStatusReport, 0, fields)
}

func DecodeStatusReportFrame(f frame.Frame) (StatusReport, error) {
	fields, err := decodeMessage(f, schema.MsgStatusReport)
	if err != nil {
		return StatusReport{}, err
	}
	var report StatusReport
	err = errors.Join(
		readU64(fields, schema.FieldSourceNode, &report.SourceNode),
		readU16(fields, schema.FieldEndpointID, &report.EndpointID),
		readU32(fields, schema.FieldClusterID, &report.ClusterID),
		readBytes(fields, schema.FieldPayload, &report.Payload),
	)
	if err != nil {
		return StatusReport{}, err
	}
	return report, report.Validate()
}

// ReadFrame reads one framed message from the stream.
func ReadFrame(r io.Reader, limits frame.Limits) (frame.Frame, error) {
	return frame.ReadFrame(r, limits)
}

func encodeMessage(messageID uint64, messageType uint32, flags uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return frame.Marshal(frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: messageType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, frame.DefaultLimits())
}

func decodeMessage(f frame.Frame, messageType uint32) ([]tlv.Field, error) {
	if f.Header.MessageType != messageType {
		return nil, fmt.Errorf(
			"%w: got %s want %s",
			ErrUnexpectedMessage,
			schema.MessageName(f.Header.MessageType),
			schema.MessageName(messageType),
		)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func readU64(fields []tlv.Field, id uint16, dst *uint64) error {
	f, _ := tlv.GetField(fields, id)
	v, err := f.U64()
	*dst = v
	return err
}

func readU32(fields []tlv.Field, id uint16, dst *uint32) error {
	f, _ := tlv.GetField(fields, id)
	v, err := f.U32()
	*dst = v
	return err
}

func readU16(fields []tlv.Field, id uint16, dst *uint16) error {
	f, _ := tlv.GetField(fields, id)
	v, err := f.U16()
	*dst = v
	return err
}

func readBytes(fields []tlv.Field, id uint16, dst *[]byte) error {
	f, _ := tlv.GetField(fields, id)
	v, err := f.Bytes()
	*dst = v
	return err
}
