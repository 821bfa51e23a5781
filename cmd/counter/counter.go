package main

import (
	"context"
	"encoding/json"
	"errors"

	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
)

const counterKey = "counter"

type addBody struct {
	Type  string `json:"type"`
	Delta int    `json:"delta"`
}

type addOKBody struct {
	Type string `json:"type"`
}

type readBody struct {
	Type string `json:"type"`
}

type readOKBody struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

// counterHandler holds no counter state of its own: the value lives
// entirely in the seq-kv service, and every operation is a fresh
// conversation with it.
type counterHandler struct {
	node *maelstrom.Node
	kv   *maelstrom.KV
}

func newCounterHandler(node *maelstrom.Node) *counterHandler {
	return &counterHandler{node: node, kv: maelstrom.NewSeqKV(node)}
}

func (h *counterHandler) register() {
	h.node.Handle("add", h.handleAdd)
	h.node.Handle("read", h.handleRead)
}

func (h *counterHandler) handleAdd(msg maelstrom.Message) error {
	var body addBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return maelstrom.NewRPCError(maelstrom.MalformedRequest, err.Error())
	}

	ctx := h.node.Context()
	for {
		current, err := h.readCounter(ctx)
		if err != nil {
			if retryableAdd(err) {
				continue
			}
			return err
		}

		err = h.kv.CompareAndSwap(ctx, counterKey, current, current+body.Delta, true)
		if err == nil {
			break
		}
		if retryableAdd(err) {
			// Lost the race (someone else wrote concurrently, or the
			// key vanished between our read and our CAS), or the seq-kv
			// RPC simply timed out: retry from the read either way.
			continue
		}
		return err
	}

	return h.node.Reply(msg, addOKBody{Type: "add_ok"})
}

func (h *counterHandler) handleRead(msg maelstrom.Message) error {
	var body readBody
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return maelstrom.NewRPCError(maelstrom.MalformedRequest, err.Error())
	}

	value, err := h.readCounter(h.node.Context())
	if err != nil {
		return err
	}
	return h.node.Reply(msg, readOKBody{Type: "read_ok", Value: value})
}

// readCounter treats a missing key as value 0, since the counter never
// exists until the first successful add.
func (h *counterHandler) readCounter(ctx context.Context) (int, error) {
	value, err := h.kv.ReadInt(ctx, counterKey)
	if err != nil {
		var rpcErr *maelstrom.RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == maelstrom.KeyDoesNotExist {
			return 0, nil
		}
		return 0, err
	}
	return value, nil
}

// retryableAdd reports whether err is one the add loop should retry from
// its read step: a lost CAS race (PreconditionFailed/KeyDoesNotExist) or a
// transient seq-kv RPC Timeout, which Maelstrom induces via partitions and
// which must never crash the node.
func retryableAdd(err error) bool {
	var rpcErr *maelstrom.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case maelstrom.PreconditionFailed, maelstrom.KeyDoesNotExist, maelstrom.Timeout:
		return true
	default:
		return false
	}
}
