package maelstrom

import "encoding/json"

// Message represents an envelope sent from Src to Dest. The body is kept
// as unparsed JSON so a handler can decode it into whatever payload type
// its own "type" tag expects.
type Message struct {
	Src  NodeID          `json:"src,omitempty"`
	Dest NodeID          `json:"dest,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Type returns the "type" field from the message body. Returns an empty
// string if the field is absent or the body cannot be parsed.
func (m *Message) Type() string {
	var body MessageBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return ""
	}
	return body.Type
}

// RPCError extracts the RPC error carried by the message body, if any.
// A malformed body is reported as a Crash error so callers never have to
// special-case decode failures separately from domain errors. Checking
// the "type" tag (rather than, say, a zero Code) matters here: Timeout
// is error code 0, indistinguishable from "absent" if Code itself were
// the test.
func (m *Message) RPCError() *RPCError {
	var body MessageBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return NewRPCError(Crash, err.Error())
	} else if body.Type != "error" {
		return nil
	}
	return NewRPCError(body.Code, body.Text)
}

// MessageBody represents the reserved keys every body carries, regardless
// of payload. Payload-specific fields are decoded separately by the
// handler via the message's raw Body.
type MessageBody struct {
	Type string `json:"type,omitempty"`

	// MsgID is unique to the sending node for the life of the process.
	MsgID uint64 `json:"msg_id,omitempty"`

	// InReplyTo is set on responses to correlate them with a request.
	InReplyTo uint64 `json:"in_reply_to,omitempty"`

	// Code and Text are populated on error bodies only.
	Code int    `json:"code,omitempty"`
	Text string `json:"text,omitempty"`
}

// InitMessageBody is the payload of the bootstrap "init" message.
type InitMessageBody struct {
	MessageBody
	NodeID  NodeID   `json:"node_id,omitempty"`
	NodeIDs []NodeID `json:"node_ids,omitempty"`
}

// HandlerFunc processes a single inbound message. Returning a *RPCError
// causes the runtime to send that error back to the sender; any other
// error is reported to the caller as a Crash.
type HandlerFunc func(msg Message) error
