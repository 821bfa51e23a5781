package maelstrom

import (
	"fmt"
	"strconv"
)

// Kind distinguishes the families of identifiers that appear on the
// Maelstrom wire: nodes participating in the cluster, external clients
// driving requests against it, and named external services (the seq-kv
// store, most notably) that the bootstrap-provided node_ids list never
// mentions but the wire protocol addresses all the same.
type Kind uint8

// The zero Kind is reserved so that the zero NodeID is distinguishable
// from the real node "n0" (every Maelstrom cluster has one).
const (
	// KindNode identifies a cluster participant, serialized as "n<id>".
	KindNode Kind = iota + 1
	// KindClient identifies an external client, serialized as "c<id>".
	KindClient
	// KindService identifies an external collaborator service (e.g.
	// "seq-kv") addressed by name rather than the n/c<id> convention.
	KindService
)

func (k Kind) prefix() byte {
	if k == KindClient {
		return 'c'
	}
	return 'n'
}

// NodeID is a structured, total-ordered identifier for a node, client, or
// named service. It marshals to and from the bare wire strings the
// protocol uses ("n3", "c7", "seq-kv"), so it can be used directly as a
// map key or struct field without a separate parsing step.
type NodeID struct {
	Kind    Kind
	ID      uint32
	Service string
}

// NewNodeID returns the node identifier for the given numeric id.
func NewNodeID(id uint32) NodeID { return NodeID{Kind: KindNode, ID: id} }

// NewClientID returns the client identifier for the given numeric id.
func NewClientID(id uint32) NodeID { return NodeID{Kind: KindClient, ID: id} }

// NewServiceID returns the identifier for a named external service, such
// as the well-known seq-kv/lin-kv/lww-kv addresses.
func NewServiceID(name string) NodeID { return NodeID{Kind: KindService, Service: name} }

// ParseNodeID parses a node or client wire identifier such as "n3" or
// "c12": the first byte selects the kind and the remainder must be an
// unsigned 32-bit decimal. Any other shape is a malformed request. This
// is the strict parsing rule used wherever the protocol promises a real
// node or client id (bootstrap membership, topology entries) — it is not
// used for generic envelope src/dest, which must also tolerate named
// service addresses; see parseEnvelopeID.
func ParseNodeID(s string) (NodeID, error) {
	if len(s) < 2 {
		return NodeID{}, NewRPCError(MalformedRequest, fmt.Sprintf("invalid node id %q", s))
	}

	var kind Kind
	switch s[0] {
	case 'n':
		kind = KindNode
	case 'c':
		kind = KindClient
	default:
		return NodeID{}, NewRPCError(MalformedRequest, fmt.Sprintf("invalid node id %q", s))
	}

	id, err := strconv.ParseUint(s[1:], 10, 32)
	if err != nil {
		return NodeID{}, NewRPCError(MalformedRequest, fmt.Sprintf("invalid node id %q: %s", s, err))
	}

	return NodeID{Kind: kind, ID: uint32(id)}, nil
}

// parseEnvelopeID decodes a raw src/dest field from the wire. It tries the
// strict node/client form first and otherwise treats the string as a
// named service address, since outbound KV requests address "seq-kv" and
// its replies carry that same string back as src.
func parseEnvelopeID(s string) NodeID {
	if id, err := ParseNodeID(s); err == nil {
		return id
	}
	return NewServiceID(s)
}

// String returns the wire representation of the identifier.
func (n NodeID) String() string {
	if n.Kind == KindService {
		return n.Service
	}
	return fmt.Sprintf("%c%d", n.Kind.prefix(), n.ID)
}

// Compare returns -1, 0, or 1 according to a total order over NodeID:
// nodes sort before clients, which sort before services; within a kind,
// nodes/clients order by numeric id and services order by name.
func (n NodeID) Compare(other NodeID) int {
	if n.Kind != other.Kind {
		if n.Kind < other.Kind {
			return -1
		}
		return 1
	}
	if n.Kind == KindService {
		switch {
		case n.Service < other.Service:
			return -1
		case n.Service > other.Service:
			return 1
		default:
			return 0
		}
	}
	switch {
	case n.ID < other.ID:
		return -1
	case n.ID > other.ID:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether n is the zero value (no identifier assigned).
func (n NodeID) IsZero() bool { return n == NodeID{} }

// MarshalText implements encoding.TextMarshaler so NodeID serializes as a
// bare wire string both as a JSON value and as a JSON object key.
func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. It is lenient: any
// string that isn't a well-formed node/client id becomes a service id
// rather than an error, since envelope src/dest routinely carries named
// service addresses that were never part of the bootstrap node list.
func (n *NodeID) UnmarshalText(text []byte) error {
	*n = parseEnvelopeID(string(text))
	return nil
}
