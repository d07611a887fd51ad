package ws

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Subprotocols offered by the feed. JSON is used when the client asks
// for neither.
const (
	SubprotocolJSON     = "zerogex.json.v1"
	SubprotocolProtobuf = "zerogex.protobuf.v1"
)

type protocol int

const (
	protocolJSON protocol = iota
	protocolProtobuf
)

func (p protocol) String() string {
	if p == protocolProtobuf {
		return "protobuf"
	}
	return "json"
}

func (p protocol) messageType() int {
	if p == protocolProtobuf {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Upstream message types for internal routing
type (
	subscribeRequest struct {
		group string
		ackID *uint64
	}
	unsubscribeRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

// parseUpstreamMessage accepts a JSON text frame or a binary frame holding
// a protobuf Struct with the same fields.
func parseUpstreamMessage(messageType int, data []byte) (any, error) {
	var msg map[string]any
	if messageType == websocket.BinaryMessage {
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("unmarshal upstream struct: %w", err)
		}
		msg = s.AsMap()
	} else if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal JSON upstream message: %w", err)
	}

	msgType, _ := msg["type"].(string)
	group, _ := msg["underlying"].(string)
	var ackID *uint64
	if v, ok := msg["ackId"].(float64); ok && v >= 0 {
		id := uint64(v)
		ackID = &id
	}

	switch msgType {
	case "subscribe":
		return &subscribeRequest{group: group, ackID: ackID}, nil
	case "unsubscribe":
		return &unsubscribeRequest{group: group, ackID: ackID}, nil
	case "ping":
		return &pingRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msgType)
	}
}

func connectedMessage(connID string) map[string]any {
	return map[string]any{
		"type":         "connected",
		"connectionId": connID,
	}
}

func ackMessage(ackID uint64, success bool) map[string]any {
	return map[string]any{
		"type":    "ack",
		"ackId":   float64(ackID),
		"success": success,
	}
}

func pongMessage() map[string]any {
	return map[string]any{"type": "pong"}
}

func dataMessage(group string, payload map[string]any) map[string]any {
	return map[string]any{
		"type":       "cycle",
		"underlying": group,
		"data":       payload,
	}
}
