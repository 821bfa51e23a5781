// Command unique-ids generates globally unique identifiers without any
// inter-node coordination: each id is a UUIDv6 whose node-id segment
// encodes this node's numeric id, so no two nodes can ever collide and
// the timestamp component keeps ids roughly time-ordered.
package main

import (
	"encoding/json"
	"log"

	"github.com/google/uuid"
	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
)

type generateBody struct {
	Type string `json:"type"`
}

type generateOKBody struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// newID returns a UUIDv6 whose 6-byte node-id segment is the little-endian
// encoding of nodeID followed by two zero bytes, per the node-id encoding
// contract: uniqueness then follows from the UUID's timestamp component
// combined with the per-node-id construction, with zero coordination.
func newID(nodeID uint32) (uuid.UUID, error) {
	id, err := uuid.NewV6()
	if err != nil {
		return uuid.UUID{}, err
	}
	id[10] = byte(nodeID)
	id[11] = byte(nodeID >> 8)
	id[12] = byte(nodeID >> 16)
	id[13] = byte(nodeID >> 24)
	id[14] = 0
	id[15] = 0
	return id, nil
}

func main() {
	n := maelstrom.NewNode()

	n.Handle("generate", func(msg maelstrom.Message) error {
		var body generateBody
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return maelstrom.NewRPCError(maelstrom.MalformedRequest, err.Error())
		}

		id, err := newID(n.ID().ID)
		if err != nil {
			return maelstrom.NewRPCError(maelstrom.Crash, err.Error())
		}

		return n.Reply(msg, generateOKBody{Type: "generate_ok", ID: id.String()})
	})

	if err := n.Run(); err != nil {
		log.Fatal(err)
	}
}
