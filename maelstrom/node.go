// Package maelstrom implements a runtime for the Maelstrom workbench
// protocol: a single-stream duplex transport (line-delimited JSON over
// stdin/stdout) multiplexed into concurrent request/response RPCs, with
// handler dispatch, correlation tracking, and graceful shutdown.
package maelstrom

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"
)

// Node represents a single node in the network. The zero value is not
// usable; construct one with NewNode.
type Node struct {
	outMu sync.Mutex // serializes writes to Stdout
	wg    sync.WaitGroup

	id      NodeID
	nodeIDs []NodeID

	nextMsgID atomic.Uint64

	handlersMu sync.Mutex
	handlers   map[string]HandlerFunc

	callbacksMu sync.Mutex
	callbacks   map[uint64]HandlerFunc

	ctx    context.Context
	cancel context.CancelFunc

	// Stdin is read for inbound messages from the Maelstrom network.
	Stdin io.Reader

	// Stdout is written for outbound messages to the Maelstrom network.
	Stdout io.Writer
}

// NewNode returns a new Node wired to the process's stdin/stdout.
func NewNode() *Node {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return &Node{
		handlers:  make(map[string]HandlerFunc),
		callbacks: make(map[uint64]HandlerFunc),
		ctx:       ctx,
		cancel:    cancel,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
	}
}

// Init sets the node's identity and cluster membership directly. Normally
// this happens as a side effect of receiving an "init" message, but tests
// may call it to bootstrap a Node without driving the full runtime loop.
func (n *Node) Init(id NodeID, nodeIDs []NodeID) {
	n.id = id
	n.nodeIDs = nodeIDs
}

// ID returns this node's identifier. Only valid after "init" is received.
func (n *Node) ID() NodeID { return n.id }

// NodeIDs returns every node id in the cluster, including this one, in the
// order supplied at bootstrap. Only valid after "init" is received.
func (n *Node) NodeIDs() []NodeID { return n.nodeIDs }

// Context returns the node's cancellation signal. It is canceled when the
// input stream reaches EOF or the process receives an interrupt, and is
// the mechanism by which long-running handler code (e.g. a gossip
// retransmission loop) observes shutdown.
func (n *Node) Context() context.Context { return n.ctx }

// Handle registers a handler for a given message type. Panics if a second
// handler is registered for the same type.
func (n *Node) Handle(typ string, fn HandlerFunc) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	if _, ok := n.handlers[typ]; ok {
		panic(fmt.Sprintf("duplicate message handler for %q message type", typ))
	}
	n.handlers[typ] = fn
}

// Run executes the main event loop: it reads the bootstrap "init" message,
// then reads and dispatches every subsequent line until the input stream
// is exhausted or the node's context is canceled, waiting for in-flight
// handlers to settle before returning.
func (n *Node) Run() error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(n.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-n.ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		var line []byte
		var ok bool
		select {
		case <-n.ctx.Done():
			ok = false
		case line, ok = <-lines:
		}
		if !ok {
			break
		}
		n.dispatchLine(line)
	}

	select {
	case err := <-scanErr:
		if err != nil {
			n.cancel()
			return err
		}
	default:
	}

	n.cancel()
	n.wg.Wait()
	return nil
}

// dispatchLine decodes and routes a single inbound line. Malformed input
// whose sender cannot be recovered is logged and dropped: the
// client driving that request will simply time out. A line with a known
// sender but an unregistered message type is answered with a
// not_supported error instead, since src and msg_id are both available.
func (n *Node) dispatchLine(line []byte) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		log.Printf("dropping malformed line: %s", err)
		return
	}

	var body MessageBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		log.Printf("dropping message with malformed body: %s", err)
		return
	}
	log.Printf("Received %s", line)

	if body.InReplyTo != 0 {
		h := n.popCallback(body.InReplyTo)
		if h == nil {
			log.Printf("Ignoring reply to %d with no callback", body.InReplyTo)
			return
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := h(msg); err != nil {
				log.Printf("callback error: %s", err)
			}
		}()
		return
	}

	var h HandlerFunc
	if body.Type == "init" {
		h = n.handleInitMessage
	} else {
		n.handlersMu.Lock()
		h = n.handlers[body.Type]
		n.handlersMu.Unlock()
		if h == nil {
			h = func(msg Message) error {
				return NewRPCError(NotSupported, fmt.Sprintf("no handler for message type %q", body.Type))
			}
		}
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.handleMessage(h, msg)
	}()
}

// popCallback atomically removes and returns the correlation entry for
// msgID, so a late-arriving reply after a timeout can never be delivered
// twice: whichever of the timeout path and this path runs first wins.
func (n *Node) popCallback(msgID uint64) HandlerFunc {
	n.callbacksMu.Lock()
	defer n.callbacksMu.Unlock()
	h := n.callbacks[msgID]
	delete(n.callbacks, msgID)
	return h
}

func (n *Node) handleMessage(h HandlerFunc, msg Message) {
	err := h(msg)
	if err == nil {
		return
	}

	rpcErr, ok := err.(*RPCError)
	if !ok {
		log.Printf("handler error for %#v: %s", msg, err)
		rpcErr = NewRPCError(Crash, err.Error())
	}

	if replyErr := n.Reply(msg, rpcErr); replyErr != nil {
		log.Printf("reply error: %s", replyErr)
	}

	if IsFatal(rpcErr.Code) {
		log.Fatalf("fatal handler error (%s): %s", ErrorCodeText(rpcErr.Code), rpcErr.Text)
	}
}

func (n *Node) handleInitMessage(msg Message) error {
	var body InitMessageBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return fmt.Errorf("unmarshal init message body: %w", err)
	}
	for _, id := range append([]NodeID{body.NodeID}, body.NodeIDs...) {
		if _, err := ParseNodeID(id.String()); err != nil {
			return err
		}
	}
	n.Init(body.NodeID, body.NodeIDs)

	n.handlersMu.Lock()
	initHandler := n.handlers["init"]
	n.handlersMu.Unlock()
	if initHandler != nil {
		if err := initHandler(msg); err != nil {
			return err
		}
	}

	log.Printf("Node %s initialized", n.id)
	return n.Reply(msg, MessageBody{Type: "init_ok"})
}

// Reply sends a response to req: dest is req's source, in_reply_to is
// req's msg_id, and a freshly allocated msg_id is assigned to the
// response itself. Fire-and-forget; never awaits anything.
func (n *Node) Reply(req Message, payload any) error {
	var reqBody MessageBody
	if err := json.Unmarshal(req.Body, &reqBody); err != nil {
		return err
	}

	b, err := toBodyMap(payload)
	if err != nil {
		return err
	}
	b["in_reply_to"] = reqBody.MsgID
	b["msg_id"] = n.nextMsgID.Add(1)

	return n.send(req.Src, b)
}

// Send sends payload to dest without expecting a response. A fresh
// msg_id is allocated but no correlation entry is installed.
func (n *Node) Send(dest NodeID, payload any) error {
	b, err := toBodyMap(payload)
	if err != nil {
		return err
	}
	b["msg_id"] = n.nextMsgID.Add(1)
	return n.send(dest, b)
}

// send marshals and writes a single JSON line. All senders funnel through
// here so that outbound writes are a single critical section and whole
// documents are never interleaved.
func (n *Node) send(dest NodeID, body any) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return err
	}

	buf, err := json.Marshal(Message{Src: n.id, Dest: dest, Body: bodyJSON})
	if err != nil {
		return err
	}

	n.outMu.Lock()
	defer n.outMu.Unlock()

	log.Printf("Sent %s", buf)

	if _, err := n.Stdout.Write(buf); err != nil {
		return err
	}
	_, err = n.Stdout.Write([]byte{'\n'})
	return err
}

// RPC sends an asynchronous RPC request to dest. handler is invoked from
// a fresh goroutine when the correlated response is received; it is never
// invoked if no response ever arrives (e.g. on shutdown).
func (n *Node) RPC(dest NodeID, payload any, handler HandlerFunc) error {
	msgID := n.nextMsgID.Add(1)

	n.callbacksMu.Lock()
	n.callbacks[msgID] = handler
	n.callbacksMu.Unlock()

	b, err := toBodyMap(payload)
	if err != nil {
		n.callbacksMu.Lock()
		delete(n.callbacks, msgID)
		n.callbacksMu.Unlock()
		return err
	}
	b["msg_id"] = msgID

	if err := n.send(dest, b); err != nil {
		n.callbacksMu.Lock()
		delete(n.callbacks, msgID)
		n.callbacksMu.Unlock()
		return err
	}
	return nil
}

// SyncRPC sends payload to dest and blocks until either a correlated
// response arrives, ctx is done, or the node's own cancellation signal
// fires. A Maelstrom error response is surfaced as an *RPCError. On
// timeout/cancellation the correlation entry is removed atomically with
// the decision to fail the caller, so a later reply is logged and
// dropped rather than delivered to a caller that has already moved on.
// A deadline on ctx surfaces as an *RPCError with code Timeout, the one
// timeout-bearing error the wire protocol defines; a directly canceled
// ctx or node shutdown surfaces the raw context error instead.
func (n *Node) SyncRPC(ctx context.Context, dest NodeID, payload any) (Message, error) {
	msgID := n.nextMsgID.Add(1)

	respCh := make(chan Message, 1)
	n.callbacksMu.Lock()
	n.callbacks[msgID] = func(msg Message) error {
		respCh <- msg
		return nil
	}
	n.callbacksMu.Unlock()

	cleanup := func() {
		n.callbacksMu.Lock()
		delete(n.callbacks, msgID)
		n.callbacksMu.Unlock()
	}

	b, err := toBodyMap(payload)
	if err != nil {
		cleanup()
		return Message{}, err
	}
	b["msg_id"] = msgID

	if err := n.send(dest, b); err != nil {
		cleanup()
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		cleanup()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Message{}, NewRPCError(Timeout, fmt.Sprintf("rpc to %s timed out", dest))
		}
		return Message{}, ctx.Err()
	case <-n.ctx.Done():
		cleanup()
		return Message{}, n.ctx.Err()
	case msg := <-respCh:
		if err := msg.RPCError(); err != nil {
			return msg, err
		}
		return msg, nil
	}
}

// RPCRetry is a convenience for callers that want at-least-once delivery
// over a request/response RPC: it retries SyncRPC with a
// linearly increasing timeout (+100ms per attempt) as long as the prior
// attempt failed with a Timeout error; any other error is returned
// immediately.
func (n *Node) RPCRetry(ctx context.Context, dest NodeID, payload any, initialTimeout time.Duration) (Message, error) {
	timeout := initialTimeout
	for {
		rctx, cancel := context.WithTimeout(ctx, timeout)
		msg, err := n.SyncRPC(rctx, dest, payload)
		cancel()
		if err == nil {
			return msg, nil
		}
		if ErrorCode(err) == Timeout && ctx.Err() == nil {
			timeout += 100 * time.Millisecond
			continue
		}
		return Message{}, err
	}
}

// toBodyMap marshals payload to JSON and back into a generic map so the
// runtime can inject the reserved msg_id/in_reply_to fields without the
// caller's payload type needing to carry them.
func toBodyMap(payload any) (map[string]any, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	b := make(map[string]any)
	if err := json.Unmarshal(buf, &b); err != nil {
		return nil, err
	}
	return b, nil
}
