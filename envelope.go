package origami

import (
	"encoding/json"
	"fmt"
)

// the wire protocol is json text frames. each frame is one envelope
// with a type tag and a type specific body.

var DefaultMaxEnvelopeByteCount = mib(4)

const (
	MessageTypeAuthRequest        = "auth_request"
	MessageTypeAuthReply          = "auth_reply"
	MessageTypeSubscribeRequest   = "subscribe_request"
	MessageTypeUnsubscribeRequest = "unsubscribe_request"
	MessageTypeSnapshotReply      = "snapshot_reply"
	MessageTypeDelta              = "delta"
	MessageTypeAck                = "ack"
	MessageTypeReject             = "reject"
	MessageTypePing               = "ping"
	MessageTypePong               = "pong"
	MessageTypeErrorReply         = "error_reply"
)

type Envelope struct {
	MessageType string          `json:"type"`
	MessageBody json.RawMessage `json:"body,omitempty"`
}

// first message on a fresh connection. the bearer token is also sent
// as a header on the websocket handshake, but the backend
// authenticates the session in band.
type AuthRequest struct {
	Token      string `json:"token"`
	ClientId   Id     `json:"client_id"`
	AppVersion string `json:"app_version,omitempty"`
}

type AuthReply struct {
	Success bool   `json:"success"`
	UserId  *Id    `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// opens or resumes a document subscription. the backend replies with a
// snapshot_reply. `resume_from_sequence` is the highest sequence the
// client has confirmed, 0 for a fresh subscription.
type SubscribeRequest struct {
	DocumentId         Id     `json:"document_id"`
	ResumeFromSequence uint64 `json:"resume_from_sequence,omitempty"`
}

type UnsubscribeRequest struct {
	DocumentId Id `json:"document_id"`
}

// the full confirmed content of a document at one sequence
type SnapshotReply struct {
	DocumentId Id              `json:"document_id"`
	Sequence   uint64          `json:"sequence"`
	Content    DocumentContent `json:"content"`
}

// one committed edit. client to backend the delta carries
// `parent_sequence`, the confirmed sequence the edit was made against.
// backend to client it carries `sequence`, the committed position.
type Delta struct {
	DocumentId     Id           `json:"document_id"`
	Sequence       uint64       `json:"sequence,omitempty"`
	ParentSequence uint64       `json:"parent_sequence,omitempty"`
	EditId         Id           `json:"edit_id"`
	ClientId       Id           `json:"client_id"`
	Operations     []*Operation `json:"operations"`
}

// commit confirmation for an edit submitted by this client.
// the ack consumes the sequence the edit was committed at.
type Ack struct {
	DocumentId Id     `json:"document_id"`
	EditId     Id     `json:"edit_id"`
	Sequence   uint64 `json:"sequence"`
}

// the backend refused an edit. rejects do not consume a sequence.
type Reject struct {
	DocumentId Id     `json:"document_id"`
	EditId     Id     `json:"edit_id"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

type Ping struct{}

type Pong struct{}

// a request failed outside of the edit flow. when `document_id` is set
// the error belongs to that document's subscription, otherwise it is a
// session level error such as `auth_expired`.
type ErrorReply struct {
	DocumentId *Id    `json:"document_id,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

func ToEnvelope(message any) (*Envelope, error) {
	var messageType string
	switch v := message.(type) {
	case *AuthRequest:
		messageType = MessageTypeAuthRequest
	case *AuthReply:
		messageType = MessageTypeAuthReply
	case *SubscribeRequest:
		messageType = MessageTypeSubscribeRequest
	case *UnsubscribeRequest:
		messageType = MessageTypeUnsubscribeRequest
	case *SnapshotReply:
		messageType = MessageTypeSnapshotReply
	case *Delta:
		messageType = MessageTypeDelta
	case *Ack:
		messageType = MessageTypeAck
	case *Reject:
		messageType = MessageTypeReject
	case *Ping:
		messageType = MessageTypePing
	case *Pong:
		messageType = MessageTypePong
	case *ErrorReply:
		messageType = MessageTypeErrorReply
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEnvelopeType, v)
	}
	b, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		MessageType: messageType,
		MessageBody: b,
	}, nil
}

func RequireToEnvelope(message any) *Envelope {
	envelope, err := ToEnvelope(message)
	if err != nil {
		panic(err)
	}
	return envelope
}

func FromEnvelope(envelope *Envelope) (any, error) {
	var message any
	switch envelope.MessageType {
	case MessageTypeAuthRequest:
		message = &AuthRequest{}
	case MessageTypeAuthReply:
		message = &AuthReply{}
	case MessageTypeSubscribeRequest:
		message = &SubscribeRequest{}
	case MessageTypeUnsubscribeRequest:
		message = &UnsubscribeRequest{}
	case MessageTypeSnapshotReply:
		message = &SnapshotReply{}
	case MessageTypeDelta:
		message = &Delta{}
	case MessageTypeAck:
		message = &Ack{}
	case MessageTypeReject:
		message = &Reject{}
	case MessageTypePing:
		message = &Ping{}
	case MessageTypePong:
		message = &Pong{}
	case MessageTypeErrorReply:
		message = &ErrorReply{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnvelopeType, envelope.MessageType)
	}
	if 0 < len(envelope.MessageBody) {
		if err := json.Unmarshal(envelope.MessageBody, message); err != nil {
			return nil, err
		}
	}
	return message, nil
}

func RequireFromEnvelope(envelope *Envelope) any {
	message, err := FromEnvelope(envelope)
	if err != nil {
		panic(err)
	}
	return message
}

func EncodeEnvelope(message any) ([]byte, error) {
	envelope, err := ToEnvelope(message)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	if DefaultMaxEnvelopeByteCount < ByteCount(len(b)) {
		return nil, ErrEnvelopeTooLarge
	}
	return b, nil
}

// DecodeEnvelope never panics on adversarial input. a malformed or
// oversized frame is an error the session can log and drop. a dropped
// delta shows up as a sequence gap, which resync repairs.
func DecodeEnvelope(b []byte) (any, error) {
	if DefaultMaxEnvelopeByteCount < ByteCount(len(b)) {
		return nil, ErrEnvelopeTooLarge
	}
	envelope := &Envelope{}
	if err := json.Unmarshal(b, envelope); err != nil {
		return nil, err
	}
	return FromEnvelope(envelope)
}
