package router

import (
	"context"
	"encoding/json"

	"relay/common/log"
	"relay/common/utils"
	"relay/framework/conn"
	"relay/framework/march"
	"relay/framework/room"
	"relay/framework/stream"
)

// Hub 连接管理器提供给路由层的能力
// 用接口收窄依赖，单元测试可以注入假 hub。
type Hub interface {
	SendToConn(connID string, buf []byte) error
	JoinGroup(roomID, connID string)
	LeaveGroup(roomID, connID string)
	GroupMembers(roomID string) []string
}

// Router 连接事件路由器
// 每个连接的事件由固定 worker 串行处理，所以单个连接内不需要状态锁；
// 跨连接的共享状态全部托付给匹配引擎和房间管理器。
type Router struct {
	hub     Hub
	matcher *march.Matchmaker
	rooms   *room.RoomManager
	limiter *utils.HitLimiter
}

func NewRouter(hub Hub, matcher *march.Matchmaker, rooms *room.RoomManager, limiter *utils.HitLimiter) *Router {
	return &Router{
		hub:     hub,
		matcher: matcher,
		rooms:   rooms,
		limiter: limiter,
	}
}

// Handlers 返回带限流保护的事件处理表
func (r *Router) Handlers() conn.LogicHandler {
	return conn.LogicHandler{
		stream.EventFind:         r.guard(r.onFind),
		stream.EventJoinRoom:     r.guard(r.onJoinRoom),
		stream.EventWebrtcOffer:  r.guard(r.relayOpaque(stream.EventWebrtcOffer)),
		stream.EventWebrtcAnswer: r.guard(r.relayOpaque(stream.EventWebrtcAnswer)),
		stream.EventWebrtcIce:    r.guard(r.relayOpaque(stream.EventWebrtcIce)),
		stream.EventMessage:      r.guard(r.onMessage),
		stream.EventLeave:        r.guard(r.onLeave),
	}
}

// guard 限流拦截，超限的事件直接丢弃，不回发错误
func (r *Router) guard(h conn.HandlerFunc) conn.HandlerFunc {
	return func(connID string, data []byte) error {
		if !r.limiter.Allow(connID) {
			log.Warn("客户端[%s] 事件超出限流阈值，丢弃", connID)
			return nil
		}
		return h(connID, data)
	}
}

// onFind 发起匹配
func (r *Router) onFind(connID string, data []byte) error {
	var find stream.FindData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &find); err != nil {
			log.Warn("客户端[%s] find 载荷解析失败: %v", connID, err)
			return nil
		}
	}

	res, err := r.matcher.Search(context.Background(), connID, find.Interests)
	if err != nil {
		return err
	}
	if !res.Matched {
		return nil
	}

	r.hub.JoinGroup(res.RoomID, connID)
	r.hub.JoinGroup(res.RoomID, res.PartnerID)

	payload, err := stream.Encode(stream.EventMatched, stream.MatchedData{
		RoomID:          res.RoomID,
		CommonInterests: res.CommonInterests,
	})
	if err != nil {
		return err
	}
	// 送达是尽力而为的，对端已经断开时由连接层静默跳过
	_ = r.hub.SendToConn(connID, payload)
	_ = r.hub.SendToConn(res.PartnerID, payload)
	return nil
}

// onJoinRoom 加入房间的投递组，重复加入是空操作
func (r *Router) onJoinRoom(connID string, data []byte) error {
	var req stream.RoomData
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		log.Warn("客户端[%s] join_room 载荷解析失败", connID)
		return nil
	}
	if _, exists := r.rooms.GetRoom(req.RoomID); !exists {
		log.Debug("客户端[%s] 加入不存在的房间 %s，忽略", connID, req.RoomID)
		return nil
	}
	r.hub.JoinGroup(req.RoomID, connID)
	return nil
}

// relayOpaque 信令中转
// 载荷对服务端是不透明的，只取 roomId 用来定位对端，原样转发。
func (r *Router) relayOpaque(event string) conn.HandlerFunc {
	return func(connID string, data []byte) error {
		roomID, ok := stream.RoomIDOf(data)
		if !ok {
			log.Warn("客户端[%s] %s 载荷缺少房间号，丢弃", connID, event)
			return nil
		}
		payload, err := stream.EncodeRaw(event, data)
		if err != nil {
			return err
		}
		r.sendToPeers(roomID, connID, payload)
		return nil
	}
}

// onMessage 聊天文本中转，给对端只发原始字符串
func (r *Router) onMessage(connID string, data []byte) error {
	var msg stream.MessageData
	if err := json.Unmarshal(data, &msg); err != nil || msg.RoomID == "" {
		log.Warn("客户端[%s] message 载荷解析失败", connID)
		return nil
	}
	payload, err := stream.Encode(stream.EventMessage, msg.Message)
	if err != nil {
		return err
	}
	r.sendToPeers(msg.RoomID, connID, payload)
	return nil
}

// onLeave 主动离开房间
func (r *Router) onLeave(connID string, data []byte) error {
	var req stream.RoomData
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == "" {
		log.Warn("客户端[%s] leave 载荷解析失败", connID)
		return nil
	}
	r.handleLeave(connID, req.RoomID)
	return nil
}

// HandleDisconnect 断线清理，作为连接管理器的断开回调注册
// 先清自己的队列条目（覆盖正在排队的情况），再扫描所有房间执行离开流程
// （覆盖已匹配的情况）。一个连接照理最多在一个房间里，这里不依赖这个前提。
func (r *Router) HandleDisconnect(connID string) {
	if err := r.matcher.RemoveFromQueue(context.Background(), connID); err != nil {
		log.Error("客户端[%s] 断线清理队列条目失败: %v", connID, err)
	}
	for _, roomID := range r.rooms.RoomsOf(connID) {
		r.handleLeave(connID, roomID)
	}
	log.Info("客户端[%s] 断线清理完成", connID)
}

// handleLeave 把 connID 从房间里送走
// 房间不存在或已被删除时是静默空操作，重复 leave 不会二次通知对端。
func (r *Router) handleLeave(connID, roomID string) {
	pair, exists := r.rooms.GetRoom(roomID)
	if !exists {
		return
	}

	partner := pair[0]
	if partner == connID {
		partner = pair[1]
	}

	// 先删房间再通知，保证并发的重复 leave 拿不到房间
	r.rooms.DeleteRoom(roomID)

	payload, err := stream.Encode(stream.EventStrangerLeft, stream.RoomData{RoomID: roomID})
	if err != nil {
		log.Error("stranger_left 序列化失败: %v", err)
	} else {
		_ = r.hub.SendToConn(partner, payload)
	}
	r.hub.LeaveGroup(roomID, connID)
}

// sendToPeers 转发给房间投递组里除发送者以外的成员
func (r *Router) sendToPeers(roomID, senderID string, payload []byte) {
	for _, member := range r.hub.GroupMembers(roomID) {
		if member == senderID {
			continue
		}
		_ = r.hub.SendToConn(member, payload)
	}
}
