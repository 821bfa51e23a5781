package maelstrom_test

import (
	"encoding/json"
	"errors"
	"testing"

	maelstrom "github.com/swlody/gossip-glomers/maelstrom"
)

func TestParseNodeID(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want maelstrom.NodeID
	}{
		{"n0", maelstrom.NewNodeID(0)},
		{"n3", maelstrom.NewNodeID(3)},
		{"n4294967295", maelstrom.NewNodeID(4294967295)},
		{"c1", maelstrom.NewClientID(1)},
		{"c42", maelstrom.NewClientID(42)},
	} {
		got, err := maelstrom.ParseNodeID(tt.in)
		if err != nil {
			t.Errorf("ParseNodeID(%q): %s", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNodeID(%q)=%v, want %v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("ParseNodeID(%q).String()=%q, want %q", tt.in, got.String(), tt.in)
		}
	}
}

func TestParseNodeID_Malformed(t *testing.T) {
	for _, in := range []string{
		"",
		"n",
		"c",
		"x3",
		"seq-kv",
		"n-1",
		"n3x",
		"n4294967296", // one past uint32 max
		"nn3",
	} {
		_, err := maelstrom.ParseNodeID(in)
		var rpcErr *maelstrom.RPCError
		if !errors.As(err, &rpcErr) || rpcErr.Code != maelstrom.MalformedRequest {
			t.Errorf("ParseNodeID(%q) err=%v, want MalformedRequest", in, err)
		}
	}
}

func TestNodeID_Compare(t *testing.T) {
	n1, n2 := maelstrom.NewNodeID(1), maelstrom.NewNodeID(2)
	c1 := maelstrom.NewClientID(1)
	kv := maelstrom.NewServiceID("seq-kv")

	for _, tt := range []struct {
		a, b maelstrom.NodeID
		want int
	}{
		{n1, n1, 0},
		{n1, n2, -1},
		{n2, n1, 1},
		{n1, c1, -1}, // nodes sort before clients
		{c1, kv, -1}, // clients sort before services
		{kv, maelstrom.NewServiceID("lin-kv"), 1},
	} {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%v.Compare(%v)=%d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNodeID_JSON(t *testing.T) {
	// src/dest round-trip as bare wire strings, and a NodeID works as a
	// JSON object key (the topology message's map shape).
	msg := struct {
		Src  maelstrom.NodeID            `json:"src"`
		Dest maelstrom.NodeID            `json:"dest"`
		Tops map[maelstrom.NodeID][]bool `json:"tops"`
	}{
		Src:  maelstrom.NewClientID(7),
		Dest: maelstrom.NewNodeID(0),
		Tops: map[maelstrom.NodeID][]bool{maelstrom.NewNodeID(1): nil},
	}

	buf, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(buf), `{"src":"c7","dest":"n0","tops":{"n1":null}}`; got != want {
		t.Fatalf("marshaled=%s, want %s", got, want)
	}

	var back struct {
		Src  maelstrom.NodeID `json:"src"`
		Dest maelstrom.NodeID `json:"dest"`
	}
	if err := json.Unmarshal(buf, &back); err != nil {
		t.Fatal(err)
	}
	if back.Src != msg.Src || back.Dest != msg.Dest {
		t.Fatalf("round trip=%v/%v, want %v/%v", back.Src, back.Dest, msg.Src, msg.Dest)
	}
}

func TestNodeID_UnmarshalText_ServiceFallback(t *testing.T) {
	// Envelope src/dest must tolerate named service addresses: a reply
	// from seq-kv carries "seq-kv" as its src.
	var id maelstrom.NodeID
	if err := json.Unmarshal([]byte(`"seq-kv"`), &id); err != nil {
		t.Fatal(err)
	}
	if got, want := id, maelstrom.NewServiceID("seq-kv"); got != want {
		t.Fatalf("id=%v, want %v", got, want)
	}
	if got, want := id.String(), "seq-kv"; got != want {
		t.Fatalf("String()=%q, want %q", got, want)
	}
}

func TestNodeID_IsZero(t *testing.T) {
	var zero maelstrom.NodeID
	if !zero.IsZero() {
		t.Fatal("zero value must report IsZero")
	}
	if maelstrom.NewNodeID(0).IsZero() {
		t.Fatal("n0 is a real id, not the zero value")
	}
	if got, want := maelstrom.NewNodeID(0).String(), "n0"; got != want {
		t.Fatalf("String()=%q, want %q", got, want)
	}
	if maelstrom.NewNodeID(1).IsZero() {
		t.Fatal("n1 must not report IsZero")
	}
}
