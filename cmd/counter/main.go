// Command counter implements a stateless, sequentially-consistent global
// counter on top of the Maelstrom seq-kv service: no in-memory counter
// state exists here at all, only a compare-and-swap retry loop.
package main

import (
	"log"

	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
)

func main() {
	n := maelstrom.NewNode()

	h := newCounterHandler(n)
	h.register()

	if err := n.Run(); err != nil {
		log.Fatal(err)
	}
}
