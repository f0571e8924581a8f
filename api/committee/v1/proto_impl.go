// Minimal proto.Message implementations so the hand-written wire types
// can pass through the gRPC call path. Serialization itself is handled
// by the JSON codec, so ProtoReflect is never exercised.
package committeev1

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

var _ proto.Message = (*Envelope)(nil)

func (*Envelope) ProtoMessage() {}

func (x *Envelope) Reset() {
	*x = Envelope{}
}

func (x *Envelope) String() string {
	return fmt.Sprintf("Envelope{Type:%d, Asset:%s, Round:%d, Node:%s}", x.Type, x.AssetId, x.Round, x.NodeId)
}

func (*Envelope) ProtoReflect() protoreflect.Message {
	return nil
}

var _ proto.Message = (*BroadcastRequest)(nil)

func (*BroadcastRequest) ProtoMessage() {}

func (x *BroadcastRequest) Reset() {
	*x = BroadcastRequest{}
}

func (x *BroadcastRequest) String() string {
	return "BroadcastRequest"
}

func (*BroadcastRequest) ProtoReflect() protoreflect.Message {
	return nil
}

var _ proto.Message = (*BroadcastResponse)(nil)

func (*BroadcastResponse) ProtoMessage() {}

func (x *BroadcastResponse) Reset() {
	*x = BroadcastResponse{}
}

func (x *BroadcastResponse) String() string {
	return fmt.Sprintf("BroadcastResponse{Accepted:%v}", x.Accepted)
}

func (*BroadcastResponse) ProtoReflect() protoreflect.Message {
	return nil
}

var _ proto.Message = (*DeliverRequest)(nil)

func (*DeliverRequest) ProtoMessage() {}

func (x *DeliverRequest) Reset() {
	*x = DeliverRequest{}
}

func (x *DeliverRequest) String() string {
	return fmt.Sprintf("DeliverRequest{Target:%s}", x.TargetNodeId)
}

func (*DeliverRequest) ProtoReflect() protoreflect.Message {
	return nil
}

var _ proto.Message = (*DeliverResponse)(nil)

func (*DeliverResponse) ProtoMessage() {}

func (x *DeliverResponse) Reset() {
	*x = DeliverResponse{}
}

func (x *DeliverResponse) String() string {
	return fmt.Sprintf("DeliverResponse{Accepted:%v}", x.Accepted)
}

func (*DeliverResponse) ProtoReflect() protoreflect.Message {
	return nil
}

var _ proto.Message = (*StatusRequest)(nil)

func (*StatusRequest) ProtoMessage() {}

func (x *StatusRequest) Reset() {
	*x = StatusRequest{}
}

func (x *StatusRequest) String() string {
	return "StatusRequest"
}

func (*StatusRequest) ProtoReflect() protoreflect.Message {
	return nil
}

var _ proto.Message = (*StatusResponse)(nil)

func (*StatusResponse) ProtoMessage() {}

func (x *StatusResponse) Reset() {
	*x = StatusResponse{}
}

func (x *StatusResponse) String() string {
	return fmt.Sprintf("StatusResponse{NodeId:%s}", x.NodeId)
}

func (*StatusResponse) ProtoReflect() protoreflect.Message {
	return nil
}
