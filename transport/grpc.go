package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	committeev1 "github.com/vnlabs-io/assetd/api/committee/v1"
	"github.com/vnlabs-io/assetd/consensus/committee"
	"github.com/vnlabs-io/assetd/metrics"
	"github.com/vnlabs-io/assetd/types"
)

const (
	maxMessageSize = 64 * 1024 * 1024
	dialTimeout    = 10 * time.Second
	sendTimeout    = 5 * time.Second
)

// GRPCChannel is the committee channel over gRPC. Each node runs one
// server and keeps a client connection per peer.
type GRPCChannel struct {
	mu sync.RWMutex

	nodeID   types.NodeID
	address  string
	server   *grpc.Server
	listener net.Listener

	peers   map[types.NodeID]*peerConn
	handler func(*committee.Message)
	metrics *metrics.Metrics
	logger  *log.Logger
	running bool
}

type peerConn struct {
	id     types.NodeID
	addr   string
	conn   *grpc.ClientConn
	client committeev1.CommitteeServiceClient
}

// NewGRPCChannel creates a channel listening on the given address.
func NewGRPCChannel(nodeID types.NodeID, address string, m *metrics.Metrics) *GRPCChannel {
	return &GRPCChannel{
		nodeID:  nodeID,
		address: address,
		peers:   make(map[types.NodeID]*peerConn),
		metrics: m,
		logger:  log.New(os.Stdout, "[Transport] ", log.LstdFlags),
	}
}

// Start starts the gRPC server.
func (t *GRPCChannel) Start() error {
	listener, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.address, err)
	}
	t.listener = listener

	t.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
	)
	committeev1.RegisterCommitteeServiceServer(t.server, &channelServer{channel: t})

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	go func() {
		if err := t.server.Serve(listener); err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()
			if running {
				t.logger.Printf("server error: %v", err)
			}
		}
	}()

	t.logger.Printf("listening on %s", t.address)
	return nil
}

// Stop stops the server and closes all peer connections.
func (t *GRPCChannel) Stop() {
	t.mu.Lock()
	t.running = false
	peers := t.peers
	t.peers = make(map[types.NodeID]*peerConn)
	t.mu.Unlock()

	for _, peer := range peers {
		if peer.conn != nil {
			peer.conn.Close()
		}
	}
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.logger.Printf("stopped")
}

// AddPeer connects to a committee member at the given address.
func (t *GRPCChannel) AddPeer(nodeID types.NodeID, address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(
		ctx,
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("connect to peer %s at %s: %w", nodeID, address, err)
	}

	t.mu.Lock()
	t.peers[nodeID] = &peerConn{
		id:     nodeID,
		addr:   address,
		conn:   conn,
		client: committeev1.NewCommitteeServiceClient(conn),
	}
	t.mu.Unlock()

	t.logger.Printf("peer %s added at %s", nodeID, address)
	return nil
}

// RemovePeer disconnects from a peer.
func (t *GRPCChannel) RemovePeer(nodeID types.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if peer, exists := t.peers[nodeID]; exists {
		if peer.conn != nil {
			peer.conn.Close()
		}
		delete(t.peers, nodeID)
		t.logger.Printf("peer %s removed", nodeID)
	}
}

// Broadcast sends a message to every peer and to the local handler.
func (t *GRPCChannel) Broadcast(ctx context.Context, msg *committee.Message) error {
	t.mu.RLock()
	peers := make([]*peerConn, 0, len(t.peers))
	for _, peer := range t.peers {
		peers = append(peers, peer)
	}
	handler := t.handler
	t.mu.RUnlock()

	if t.metrics != nil {
		t.metrics.IncrementMessagesSent(msg.Type.String())
	}
	wire := toWire(msg)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var lastErr error

	for _, peer := range peers {
		wg.Add(1)
		go func(p *peerConn) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()

			_, err := p.client.Broadcast(callCtx, &committeev1.BroadcastRequest{Message: wire})
			if err != nil {
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				t.logger.Printf("broadcast to %s failed: %v", p.id, err)
			}
		}(peer)
	}
	wg.Wait()

	// a broadcast includes the local node
	if handler != nil {
		handler(msg)
	}
	return lastErr
}

// Send sends a message to one peer. Sending to the local node delivers
// directly to the handler.
func (t *GRPCChannel) Send(ctx context.Context, nodeID types.NodeID, msg *committee.Message) error {
	t.mu.RLock()
	handler := t.handler
	peer, exists := t.peers[nodeID]
	t.mu.RUnlock()

	if t.metrics != nil {
		t.metrics.IncrementMessagesSent(msg.Type.String())
	}
	if nodeID == t.nodeID {
		if handler != nil {
			handler(msg)
		}
		return nil
	}
	if !exists {
		return fmt.Errorf("peer %s not found", nodeID)
	}

	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, err := peer.client.Deliver(callCtx, &committeev1.DeliverRequest{
		TargetNodeId: string(nodeID),
		Message:      toWire(msg),
	})
	return err
}

// SetHandler registers the inbound message handler.
func (t *GRPCChannel) SetHandler(handler func(*committee.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// PeerCount returns the number of connected peers.
func (t *GRPCChannel) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// channelServer is the inbound side of the channel. It is a separate
// type because the service method signatures differ from the channel's
// own Broadcast and Send.
type channelServer struct {
	channel *GRPCChannel

	committeev1.UnimplementedCommitteeServiceServer
}

// Broadcast handles an inbound broadcast from a peer.
func (s *channelServer) Broadcast(ctx context.Context, req *committeev1.BroadcastRequest) (*committeev1.BroadcastResponse, error) {
	s.channel.deliver(req.Message)
	return &committeev1.BroadcastResponse{Accepted: true}, nil
}

// Deliver handles an inbound direct message from a peer.
func (s *channelServer) Deliver(ctx context.Context, req *committeev1.DeliverRequest) (*committeev1.DeliverResponse, error) {
	s.channel.deliver(req.Message)
	return &committeev1.DeliverResponse{Accepted: true}, nil
}

// Status reports the node's transport status.
func (s *channelServer) Status(ctx context.Context, req *committeev1.StatusRequest) (*committeev1.StatusResponse, error) {
	return &committeev1.StatusResponse{
		NodeId:    string(s.channel.nodeID),
		PeerCount: int32(s.channel.PeerCount()),
	}, nil
}

func (t *GRPCChannel) deliver(wire *committeev1.Envelope) {
	if wire == nil {
		return
	}
	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		return
	}
	msg := fromWire(wire)
	if t.metrics != nil {
		t.metrics.IncrementMessagesReceived(msg.Type.String())
	}
	handler(msg)
}

// toWire converts a protocol message to the wire envelope.
func toWire(msg *committee.Message) *committeev1.Envelope {
	return &committeev1.Envelope{
		Type:     int32(msg.Type),
		AssetId:  string(msg.AssetID),
		Round:    msg.Round,
		NodeId:   string(msg.NodeID),
		Payload:  msg.Payload,
		UnixNano: msg.Timestamp.UnixNano(),
	}
}

// fromWire converts a wire envelope back to a protocol message.
func fromWire(wire *committeev1.Envelope) *committee.Message {
	return &committee.Message{
		Type:      committee.MessageType(wire.Type),
		AssetID:   types.AssetID(wire.AssetId),
		Round:     wire.Round,
		NodeID:    types.NodeID(wire.NodeId),
		Payload:   wire.Payload,
		Timestamp: time.Unix(0, wire.UnixNano).UTC(),
	}
}

// Ensure GRPCChannel implements the engine's channel contract.
var _ committee.Channel = (*GRPCChannel)(nil)
