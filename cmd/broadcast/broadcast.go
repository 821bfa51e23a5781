package main

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/samber/lo"
	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
	"golang.org/x/exp/maps"
)

// decodeBody unmarshals msg's body into v, reporting any failure as a
// malformed_request so the caller can return it directly as a handler error.
func decodeBody(msg maelstrom.Message, v any) error {
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return maelstrom.NewRPCError(maelstrom.MalformedRequest, err.Error())
	}
	return nil
}

// gossipInterval is how often the retransmission loop resends gossip to
// any neighbor with a non-empty unacked set, bounding delivery latency
// under message loss.
const gossipInterval = 100 * time.Millisecond

// maxUnackedPerNeighbor is a soft cap: past this many pending values for a
// single neighbor we log rather than silently let the set grow without
// bound under a persistent partition.
const maxUnackedPerNeighbor = 4096

type broadcastBody struct {
	Type    string `json:"type"`
	Message uint64 `json:"message"`
}

type broadcastOKBody struct {
	Type string `json:"type"`
}

type readBody struct {
	Type string `json:"type"`
}

type readOKBody struct {
	Type     string   `json:"type"`
	Messages []uint64 `json:"messages"`
}

type topologyBody struct {
	Type     string              `json:"type"`
	Topology map[string][]string `json:"topology"`
}

type topologyOKBody struct {
	Type string `json:"type"`
}

type gossipBody struct {
	Type     string   `json:"type"`
	Messages []uint64 `json:"messages"`
}

type gossipAckBody struct {
	Type     string   `json:"type"`
	Messages []uint64 `json:"messages"`
}

// broadcastHandler implements the gossip-based broadcast replicator: every
// value ever seen is recorded in seen, neighbors is installed exactly once
// from the first topology message, and unacked tracks, per neighbor, which
// values have been sent but not yet confirmed by a gossip_ack.
type broadcastHandler struct {
	node *maelstrom.Node

	mu           sync.Mutex
	seen         map[uint64]struct{}
	neighborsSet bool
	neighbors    []maelstrom.NodeID
	unacked      map[maelstrom.NodeID]map[uint64]struct{}
}

func newBroadcastHandler(node *maelstrom.Node) *broadcastHandler {
	return &broadcastHandler{
		node:    node,
		seen:    make(map[uint64]struct{}),
		unacked: make(map[maelstrom.NodeID]map[uint64]struct{}),
	}
}

// register wires every broadcast message type into node and starts the
// background retransmission loop.
func (h *broadcastHandler) register() {
	h.node.Handle("topology", h.handleTopology)
	h.node.Handle("broadcast", h.handleBroadcast)
	h.node.Handle("read", h.handleRead)
	h.node.Handle("gossip", h.handleGossip)
	h.node.Handle("gossip_ack", h.handleGossipAck)

	go h.retransmitLoop()
}

func (h *broadcastHandler) handleTopology(msg maelstrom.Message) error {
	var body topologyBody
	if err := decodeBody(msg, &body); err != nil {
		return err
	}

	entry, ok := body.Topology[h.node.ID().String()]
	if !ok {
		return maelstrom.NewRPCError(maelstrom.NodeNotFound, "no topology entry for this node")
	}
	neighbors := make([]maelstrom.NodeID, 0, len(entry))
	for _, s := range entry {
		id, err := maelstrom.ParseNodeID(s)
		if err != nil {
			return err
		}
		neighbors = append(neighbors, id)
	}

	h.mu.Lock()
	if h.neighborsSet {
		h.mu.Unlock()
		return maelstrom.NewRPCError(maelstrom.PreconditionFailed, "topology already installed")
	}
	h.neighborsSet = true
	h.neighbors = neighbors
	for _, neighbor := range neighbors {
		h.unacked[neighbor] = make(map[uint64]struct{})
	}
	h.mu.Unlock()

	return h.node.Reply(msg, topologyOKBody{Type: "topology_ok"})
}

func (h *broadcastHandler) handleBroadcast(msg maelstrom.Message) error {
	var body broadcastBody
	if err := decodeBody(msg, &body); err != nil {
		return err
	}

	h.mu.Lock()
	h.seen[body.Message] = struct{}{}
	h.mu.Unlock()

	if err := h.node.Reply(msg, broadcastOKBody{Type: "broadcast_ok"}); err != nil {
		return err
	}

	h.gossip([]uint64{body.Message}, maelstrom.NodeID{})
	return nil
}

func (h *broadcastHandler) handleRead(msg maelstrom.Message) error {
	var body readBody
	if err := decodeBody(msg, &body); err != nil {
		return err
	}

	h.mu.Lock()
	messages := maps.Keys(h.seen)
	h.mu.Unlock()

	return h.node.Reply(msg, readOKBody{Type: "read_ok", Messages: messages})
}

func (h *broadcastHandler) handleGossip(msg maelstrom.Message) error {
	var body gossipBody
	if err := decodeBody(msg, &body); err != nil {
		return err
	}

	// gossip is sent via Node.Send (fire-and-forget, no correlation entry
	// installed on the sender), so the ack must go back as its own fresh
	// request rather than via Reply: a Reply sets in_reply_to, which on
	// the original sender's dispatchLine routes to popCallback instead of
	// the registered "gossip_ack" handler, and since no callback was ever
	// installed for that msg_id the ack would be logged and dropped.
	if err := h.node.Send(msg.Src, gossipAckBody{Type: "gossip_ack", Messages: body.Messages}); err != nil {
		return err
	}

	h.mu.Lock()
	var fresh []uint64
	for _, v := range body.Messages {
		if _, ok := h.seen[v]; !ok {
			h.seen[v] = struct{}{}
			fresh = append(fresh, v)
		}
	}
	h.mu.Unlock()

	if len(fresh) > 0 {
		h.gossip(fresh, msg.Src)
	}
	return nil
}

func (h *broadcastHandler) handleGossipAck(msg maelstrom.Message) error {
	var body gossipAckBody
	if err := decodeBody(msg, &body); err != nil {
		return err
	}

	h.mu.Lock()
	if pending, ok := h.unacked[msg.Src]; ok {
		for _, v := range body.Messages {
			delete(pending, v)
		}
	}
	h.mu.Unlock()
	return nil
}

// gossip extends unacked[neighbor] with values for every installed
// neighbor except exclude (the peer we just received them from, if any),
// then immediately sends each neighbor its full pending set. It does not
// wait for the acks; the retransmission loop and handleGossipAck take it
// from there.
func (h *broadcastHandler) gossip(values []uint64, exclude maelstrom.NodeID) {
	h.mu.Lock()
	if !h.neighborsSet {
		h.mu.Unlock()
		return
	}
	targets := h.neighbors
	if !exclude.IsZero() {
		targets = lo.Without(targets, exclude)
	}

	type send struct {
		neighbor maelstrom.NodeID
		messages []uint64
	}
	sends := make([]send, 0, len(targets))
	for _, neighbor := range targets {
		pending := h.unacked[neighbor]
		for _, v := range values {
			pending[v] = struct{}{}
		}
		if len(pending) > maxUnackedPerNeighbor {
			log.Printf("broadcast: %d messages pending for %s, link may be down", len(pending), neighbor)
		}
		sends = append(sends, send{neighbor: neighbor, messages: maps.Keys(pending)})
	}
	h.mu.Unlock()

	for _, s := range sends {
		if err := h.node.Send(s.neighbor, gossipBody{Type: "gossip", Messages: s.messages}); err != nil {
			log.Printf("broadcast: gossip to %s failed: %s", s.neighbor, err)
		}
	}
}

// retransmitLoop periodically resends every neighbor's full pending set,
// guaranteeing eventual delivery as long as at least one of infinitely
// many retries gets through.
func (h *broadcastHandler) retransmitLoop() {
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.node.Context().Done():
			return
		case <-ticker.C:
			h.resendPending()
		}
	}
}

func (h *broadcastHandler) resendPending() {
	h.mu.Lock()
	if !h.neighborsSet {
		h.mu.Unlock()
		return
	}
	type send struct {
		neighbor maelstrom.NodeID
		messages []uint64
	}
	var sends []send
	for _, neighbor := range h.neighbors {
		pending := h.unacked[neighbor]
		if len(pending) == 0 {
			continue
		}
		sends = append(sends, send{neighbor: neighbor, messages: maps.Keys(pending)})
	}
	h.mu.Unlock()

	for _, s := range sends {
		if err := h.node.Send(s.neighbor, gossipBody{Type: "gossip", Messages: s.messages}); err != nil {
			log.Printf("broadcast: retransmit to %s failed: %s", s.neighbor, err)
		}
	}
}
