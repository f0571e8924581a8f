package transport

import (
	"context"
	"testing"

	"github.com/vnlabs-io/assetd/consensus/committee"
)

func collect(ch *LoopbackChannel) *[]*committee.Message {
	var got []*committee.Message
	ch.SetHandler(func(msg *committee.Message) {
		got = append(got, msg)
	})
	return &got
}

func TestLoopbackBroadcastIncludesSender(t *testing.T) {
	network := NewLoopbackNetwork()
	a := network.Join("a")
	b := network.Join("b")
	c := network.Join("c")
	gotA, gotB, gotC := collect(a), collect(b), collect(c)

	msg := &committee.Message{Type: committee.NewView, AssetID: "asset", NodeID: "a"}
	if err := a.Broadcast(context.Background(), msg); err != nil {
		t.Fatalf("Failed to broadcast: %v", err)
	}

	for name, got := range map[string]*[]*committee.Message{"a": gotA, "b": gotB, "c": gotC} {
		if len(*got) != 1 {
			t.Errorf("Expected node %s to receive the broadcast, got %d messages", name, len(*got))
		}
	}
}

func TestLoopbackSend(t *testing.T) {
	network := NewLoopbackNetwork()
	a := network.Join("a")
	b := network.Join("b")
	gotA, gotB := collect(a), collect(b)

	msg := &committee.Message{Type: committee.SignedProposal, AssetID: "asset", NodeID: "a"}
	if err := a.Send(context.Background(), "b", msg); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}
	if len(*gotB) != 1 {
		t.Errorf("Expected b to receive the message, got %d", len(*gotB))
	}
	if len(*gotA) != 0 {
		t.Errorf("Expected a to receive nothing, got %d", len(*gotA))
	}

	if err := a.Send(context.Background(), "missing", msg); err == nil {
		t.Error("Expected an error sending to a node not on the network")
	}
}

func TestLoopbackLeave(t *testing.T) {
	network := NewLoopbackNetwork()
	a := network.Join("a")
	b := network.Join("b")
	got := collect(b)

	network.Leave("b")
	if err := a.Broadcast(context.Background(), &committee.Message{Type: committee.Certificate}); err != nil {
		t.Fatalf("Failed to broadcast: %v", err)
	}
	if len(*got) != 0 {
		t.Errorf("Expected a departed node to receive nothing, got %d", len(*got))
	}
	if err := a.Send(context.Background(), "b", &committee.Message{}); err == nil {
		t.Error("Expected sending to a departed node to fail")
	}
}
