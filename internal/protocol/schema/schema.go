package schema

import (
	"fmt"

	"github.com/danmuck/clusterctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

const (
	MsgInvokeRequest  uint32 = 1
	MsgInvokeResponse uint32 = 2
	MsgStatusReport   uint32 = 3
)

const (
	FieldExchangeID      uint16 = 1
	FieldSourceNode      uint16 = 2
	FieldDestinationNode uint16 = 3

	FieldEndpointID uint16 = 100
	FieldClusterID  uint16 = 101
	FieldCommandID  uint16 = 102
	FieldPayload    uint16 = 103

	FieldStatus  uint16 = 200
	FieldMessage uint16 = 201
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgInvokeRequest: {
		{FieldExchangeID, tlv.TypeU64},
		{FieldSourceNode, tlv.TypeU64},
		{FieldDestinationNode, tlv.TypeU64},
		{FieldEndpointID, tlv.TypeU16},
		{FieldClusterID, tlv.TypeU32},
		{FieldCommandID, tlv.TypeU32},
		{FieldPayload, tlv.TypeBytes},
	},
	MsgInvokeResponse: {
		{FieldExchangeID, tlv.TypeU64},
		{FieldSourceNode, tlv.TypeU64},
		{FieldDestinationNode, tlv.TypeU64},
		{FieldStatus, tlv.TypeU8},
	},
	MsgStatusReport: {
		{FieldSourceNode, tlv.TypeU64},
		{FieldEndpointID, tlv.TypeU16},
		{FieldClusterID, tlv.TypeU32},
		{FieldPayload, tlv.TypeBytes},
	},
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}

func MessageName(messageType uint32) string {
	switch messageType {
	case MsgInvokeRequest:
		return "invoke.request"
	case MsgInvokeResponse:
		return "invoke.response"
	case MsgStatusReport:
		return "status.report"
	default:
		return fmt.Sprintf("unknown(%d)", messageType)
	}
}
