package ws

import (
	"fmt"

	"github.com/segmentio/encoding/json"
	"pushgate.com/internal/gateway/domain"
)

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeAck         = "ack"
	TypeError       = "error"
	TypeMessage     = "message"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Inbound 客户端发来的帧，封闭集合：SubscribeFrame | UnsubscribeFrame
type Inbound interface {
	inbound()
	Topic() TopicKey
}

type SubscribeFrame struct{ Key TopicKey }

type UnsubscribeFrame struct{ Key TopicKey }

func (SubscribeFrame) inbound()            {}
func (f SubscribeFrame) Topic() TopicKey   { return f.Key }
func (UnsubscribeFrame) inbound()          {}
func (f UnsubscribeFrame) Topic() TopicKey { return f.Key }

// Outbound 发给客户端的帧，封闭集合：Ack | ErrorFrame | Delivery
type Outbound interface {
	outbound()
}

type Ack struct {
	RequestID string
	Status    string
}

type ErrorFrame struct {
	Reason string
}

type Delivery struct {
	Message domain.Message
}

func (Ack) outbound()        {}
func (ErrorFrame) outbound() {}
func (Delivery) outbound()   {}

// FrameError 解析/校验失败，文案直接回给客户端
type FrameError struct {
	Msg string
}

func (e *FrameError) Error() string { return e.Msg }

func frameErr(format string, args ...any) error {
	return &FrameError{Msg: fmt.Sprintf(format, args...)}
}

// Decode 解析入站帧；封闭集合之外的一律返回 *FrameError，不会 panic
func Decode(raw []byte) (Inbound, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, frameErr("Invalid JSON: %v", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, frameErr("Invalid message: expected a JSON object")
	}

	typ, err := stringField(obj, "type")
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeSubscribe, TypeUnsubscribe:
	default:
		return nil, frameErr("Unknown message type: %s", typ)
	}

	topicType, err := stringField(obj, "topic_type")
	if err != nil {
		return nil, err
	}
	topicID, err := stringField(obj, "topic_id")
	if err != nil {
		return nil, err
	}
	key := TopicKey{Type: topicType, ID: topicID}

	if typ == TypeSubscribe {
		return SubscribeFrame{Key: key}, nil
	}
	return UnsubscribeFrame{Key: key}, nil
}

func stringField(obj map[string]any, name string) (string, error) {
	v, ok := obj[name]
	if !ok {
		return "", frameErr("Missing required field: %s", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", frameErr("Invalid field '%s': expected a string", name)
	}
	return s, nil
}

// 线上格式
type ackWire struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type errorWire struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type deliveryWire struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}

// Encode 出站帧序列化；created_at 走 time.Time 的 RFC3339（ISO-8601）
func Encode(o Outbound) ([]byte, error) {
	switch f := o.(type) {
	case Ack:
		return json.Marshal(ackWire{Type: TypeAck, RequestID: f.RequestID, Status: f.Status})
	case ErrorFrame:
		return json.Marshal(errorWire{Type: TypeError, Error: f.Reason})
	case Delivery:
		return json.Marshal(deliveryWire{Type: TypeMessage, Message: f.Message})
	default:
		return nil, fmt.Errorf("ws: unknown outbound frame %T", o)
	}
}
