// Command echo is the minimal exemplar workload: it replies to every
// "echo" request with the same payload it received.
package main

import (
	"encoding/json"
	"log"

	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
)

type echoBody struct {
	Type string `json:"type"`
	Echo string `json:"echo"`
}

func main() {
	n := maelstrom.NewNode()

	n.Handle("echo", func(msg maelstrom.Message) error {
		var body echoBody
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return maelstrom.NewRPCError(maelstrom.MalformedRequest, err.Error())
		}
		return n.Reply(msg, echoBody{Type: "echo_ok", Echo: body.Echo})
	})

	if err := n.Run(); err != nil {
		log.Fatal(err)
	}
}
