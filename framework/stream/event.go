package stream

import "encoding/json"

// 客户端与服务端之间的事件名，与前端约定保持一致
const (
	EventFind         = "find"
	EventJoinRoom     = "join_room"
	EventWebrtcOffer  = "webrtc_offer"
	EventWebrtcAnswer = "webrtc_answer"
	EventWebrtcIce    = "webrtc_ice"
	EventMessage      = "message"
	EventLeave        = "leave"
	EventMatched      = "matched"
	EventStrangerLeft = "stranger_left"
)

// Event 事件信封，data 按事件类型解析
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// FindData find 事件载荷
type FindData struct {
	Interests []string `json:"interests"`
}

// RoomData join_room / leave / stranger_left 事件载荷
type RoomData struct {
	RoomID string `json:"roomId"`
}

// MessageData message 事件入站载荷，转发给对端时只发原始字符串
type MessageData struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// MatchedData matched 事件载荷
type MatchedData struct {
	RoomID          string   `json:"roomId"`
	CommonInterests []string `json:"commonInterests"`
}

// roomRef 只取 webrtc_* 载荷里的 roomId，其余内容对服务端是不透明的
type roomRef struct {
	RoomID string `json:"roomId"`
}

// Encode 序列化一个出站事件
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		buf, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = buf
	}
	return json.Marshal(&Event{Event: event, Data: raw})
}

// EncodeRaw 用已有的原始载荷组装出站事件，信令转发时避免二次解析
func EncodeRaw(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(&Event{Event: event, Data: data})
}

// RoomIDOf 从不透明载荷里取 roomId
func RoomIDOf(data json.RawMessage) (string, bool) {
	var ref roomRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return "", false
	}
	return ref.RoomID, ref.RoomID != ""
}
