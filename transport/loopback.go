package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/vnlabs-io/assetd/consensus/committee"
	"github.com/vnlabs-io/assetd/types"
)

// LoopbackNetwork connects committee channels inside one process. Tests
// and single-binary demos wire several engines through it without any
// sockets.
type LoopbackNetwork struct {
	mu       sync.RWMutex
	channels map[types.NodeID]*LoopbackChannel
}

// NewLoopbackNetwork creates an empty network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{
		channels: make(map[types.NodeID]*LoopbackChannel),
	}
}

// Join adds a node to the network and returns its channel.
func (n *LoopbackNetwork) Join(nodeID types.NodeID) *LoopbackChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := &LoopbackChannel{nodeID: nodeID, network: n}
	n.channels[nodeID] = ch
	return ch
}

// Leave removes a node from the network.
func (n *LoopbackNetwork) Leave(nodeID types.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.channels, nodeID)
}

// LoopbackChannel is one node's end of a LoopbackNetwork.
type LoopbackChannel struct {
	mu      sync.RWMutex
	nodeID  types.NodeID
	network *LoopbackNetwork
	handler func(*committee.Message)
}

// Broadcast delivers the message to every node on the network,
// including the sender.
func (c *LoopbackChannel) Broadcast(ctx context.Context, msg *committee.Message) error {
	c.network.mu.RLock()
	targets := make([]*LoopbackChannel, 0, len(c.network.channels))
	for _, ch := range c.network.channels {
		targets = append(targets, ch)
	}
	c.network.mu.RUnlock()

	for _, ch := range targets {
		ch.receive(msg)
	}
	return nil
}

// Send delivers the message to one node.
func (c *LoopbackChannel) Send(ctx context.Context, nodeID types.NodeID, msg *committee.Message) error {
	c.network.mu.RLock()
	target, exists := c.network.channels[nodeID]
	c.network.mu.RUnlock()
	if !exists {
		return fmt.Errorf("node %s not on loopback network", nodeID)
	}
	target.receive(msg)
	return nil
}

// SetHandler registers the inbound message handler.
func (c *LoopbackChannel) SetHandler(handler func(*committee.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *LoopbackChannel) receive(msg *committee.Message) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

var _ committee.Channel = (*LoopbackChannel)(nil)
