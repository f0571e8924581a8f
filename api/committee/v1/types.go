// Package committeev1 defines the wire surface of the committee channel
// service. The message types are hand-written Go structs carried over
// gRPC with a JSON codec, so no generated protobuf code is required.
package committeev1

// Envelope is the committee protocol message as it travels between
// nodes. Payload carries the JSON-encoded protocol payload.
type Envelope struct {
	Type     int32  `json:"type"`
	AssetId  string `json:"asset_id"`
	Round    uint64 `json:"round"`
	NodeId   string `json:"node_id"`
	Payload  []byte `json:"payload"`
	UnixNano int64  `json:"unix_nano"`
}

// BroadcastRequest asks a peer to deliver a message to its local engine.
type BroadcastRequest struct {
	Message *Envelope `json:"message"`
}

// BroadcastResponse acknowledges a broadcast delivery.
type BroadcastResponse struct {
	Accepted bool `json:"accepted"`
}

// DeliverRequest carries a message addressed to one specific node.
type DeliverRequest struct {
	TargetNodeId string    `json:"target_node_id"`
	Message      *Envelope `json:"message"`
}

// DeliverResponse acknowledges a direct delivery.
type DeliverResponse struct {
	Accepted bool `json:"accepted"`
}

// StatusRequest asks a peer for its transport status.
type StatusRequest struct{}

// StatusResponse reports a peer's identity and connectivity.
type StatusResponse struct {
	NodeId    string `json:"node_id"`
	PeerCount int32  `json:"peer_count"`
}
