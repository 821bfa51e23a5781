// Command broadcast replicates a set of integers across every node in the
// cluster by gossiping new values to neighbors until every neighbor has
// acknowledged them, tolerating message loss and network partitions.
package main

import (
	"log"

	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
)

func main() {
	n := maelstrom.NewNode()

	h := newBroadcastHandler(n)
	h.register()

	if err := n.Run(); err != nil {
		log.Fatal(err)
	}
}
