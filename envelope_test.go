package origami

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEnvelopeCodec(t *testing.T) {
	documentId := NewId()
	clientId := NewId()
	editId := NewId()

	messages := []any{
		&AuthRequest{
			Token:      "test-token",
			ClientId:   clientId,
			AppVersion: Version,
		},
		&SubscribeRequest{
			DocumentId: documentId,
		},
		&SubscribeRequest{
			DocumentId:         documentId,
			ResumeFromSequence: 42,
		},
		&UnsubscribeRequest{
			DocumentId: documentId,
		},
		&SnapshotReply{
			DocumentId: documentId,
			Sequence:   7,
			Content: DocumentContent{
				"cells/a/source": json.RawMessage(`"x = 1"`),
			},
		},
		&Delta{
			DocumentId:     documentId,
			ParentSequence: 7,
			EditId:         editId,
			ClientId:       clientId,
			Operations: []*Operation{
				RequireSetOperation("cells/a/source", "x = 2"),
				NewDeleteOperation("cells/b"),
			},
		},
		&Ack{
			DocumentId: documentId,
			EditId:     editId,
			Sequence:   8,
		},
		&Reject{
			DocumentId: documentId,
			EditId:     editId,
			Code:       ErrorCodeConflict,
			Message:    "concurrent write",
		},
		&Ping{},
		&Pong{},
		&ErrorReply{
			Code:    ErrorCodeAuthExpired,
			Message: "token expired",
		},
	}

	for _, message := range messages {
		b, err := EncodeEnvelope(message)
		assert.Equal(t, err, nil)

		decoded, err := DecodeEnvelope(b)
		assert.Equal(t, err, nil)
		assert.Equal(t, decoded, message)
	}
}

func TestEnvelopeDocumentError(t *testing.T) {
	documentId := NewId()

	b, err := EncodeEnvelope(&ErrorReply{
		DocumentId: &documentId,
		Code:       ErrorCodeForbidden,
		Message:    "no access",
	})
	assert.Equal(t, err, nil)

	decoded, err := DecodeEnvelope(b)
	assert.Equal(t, err, nil)

	errorReply, ok := decoded.(*ErrorReply)
	assert.Equal(t, ok, true)
	assert.NotEqual(t, errorReply.DocumentId, nil)
	assert.Equal(t, *errorReply.DocumentId, documentId)
}

func TestEnvelopeUnknownType(t *testing.T) {
	type notAMessage struct{}
	_, err := ToEnvelope(&notAMessage{})
	assert.Equal(t, errors.Is(err, ErrUnknownEnvelopeType), true)

	_, err = FromEnvelope(&Envelope{MessageType: "bogus"})
	assert.Equal(t, errors.Is(err, ErrUnknownEnvelopeType), true)

	_, err = DecodeEnvelope([]byte(`{"type":"bogus","body":{}}`))
	assert.Equal(t, errors.Is(err, ErrUnknownEnvelopeType), true)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	// none of these may panic
	bad := [][]byte{
		nil,
		[]byte(``),
		[]byte(`garbage`),
		[]byte(`{`),
		[]byte(`[]`),
		[]byte(`{"type":`),
		[]byte(`{"body":{}}`),
		[]byte(`{"type":"delta","body":{"sequence":"not-a-number"}}`),
		[]byte(`{"type":"delta","body":[1,2,3]}`),
		[]byte(`{"type":"ack","body":{"edit_id":"not-a-uuid"}}`),
	}
	for _, b := range bad {
		_, err := DecodeEnvelope(b)
		assert.NotEqual(t, err, nil)
	}
}

func TestEnvelopeSizeCap(t *testing.T) {
	oversized := bytes.Repeat([]byte{'a'}, int(DefaultMaxEnvelopeByteCount)+1)
	_, err := DecodeEnvelope(oversized)
	assert.Equal(t, errors.Is(err, ErrEnvelopeTooLarge), true)

	delta := &Delta{
		DocumentId: NewId(),
		EditId:     NewId(),
		ClientId:   NewId(),
		Operations: []*Operation{
			RequireSetOperation("cells/a/source", strings.Repeat("a", int(DefaultMaxEnvelopeByteCount))),
		},
	}
	_, err = EncodeEnvelope(delta)
	assert.Equal(t, errors.Is(err, ErrEnvelopeTooLarge), true)
}

func TestEnvelopeWireShape(t *testing.T) {
	// the wire field names are a compatibility contract with the backend
	delta := &Delta{
		DocumentId:     NewId(),
		ParentSequence: 3,
		EditId:         NewId(),
		ClientId:       NewId(),
		Operations: []*Operation{
			RequireSetOperation("cells/a/source", "x = 1"),
		},
	}

	b, err := EncodeEnvelope(delta)
	assert.Equal(t, err, nil)

	var frame map[string]json.RawMessage
	err = json.Unmarshal(b, &frame)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(frame["type"]), `"delta"`)

	var body map[string]json.RawMessage
	err = json.Unmarshal(frame["body"], &body)
	assert.Equal(t, err, nil)
	for _, key := range []string{"document_id", "parent_sequence", "edit_id", "client_id", "operations"} {
		_, ok := body[key]
		assert.Equal(t, ok, true)
	}

	var operations []map[string]json.RawMessage
	err = json.Unmarshal(body["operations"], &operations)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(operations), 1)
	assert.Equal(t, string(operations[0]["kind"]), `"set"`)
	assert.Equal(t, string(operations[0]["path"]), `"cells/a/source"`)
}
