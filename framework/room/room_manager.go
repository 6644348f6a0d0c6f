package room

import (
	"sync"

	"github.com/google/uuid"

	"relay/common/log"
)

// RoomManager 房间管理器
// 一个房间固定是一对连接，房间是"当前搭档是谁"的唯一事实来源。
// 房间的生命周期只由这里管理：匹配成功时创建，任一方离开或断线时销毁。
type RoomManager struct {
	rooms map[string][2]string // roomID -> 连接对
	mu    sync.RWMutex
}

// NewRoomManager 创建房间管理器
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms: make(map[string][2]string),
	}
}

// CreateRoom 为一对连接创建房间，返回房间 ID
func (rm *RoomManager) CreateRoom(connA, connB string) string {
	roomID := uuid.New().String()

	rm.mu.Lock()
	rm.rooms[roomID] = [2]string{connA, connB}
	rm.mu.Unlock()

	log.Debug("创建房间 %s: %s <-> %s", roomID, connA, connB)
	return roomID
}

// GetRoom 获取房间的连接对
func (rm *RoomManager) GetRoom(roomID string) ([2]string, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	pair, exists := rm.rooms[roomID]
	return pair, exists
}

// DeleteRoom 删除房间，删除不存在的房间是空操作
func (rm *RoomManager) DeleteRoom(roomID string) {
	rm.mu.Lock()
	delete(rm.rooms, roomID)
	rm.mu.Unlock()
}

// RoomsOf 返回包含指定连接的全部房间
// 断线清理时客户端不会带 roomID，需要全量扫描找出该连接所在的房间
// 正常情况下一个连接最多在一个房间里，这里不依赖该不变量，防御性地全找出来
func (rm *RoomManager) RoomsOf(connID string) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var roomIDs []string
	for roomID, pair := range rm.rooms {
		if pair[0] == connID || pair[1] == connID {
			roomIDs = append(roomIDs, roomID)
		}
	}
	return roomIDs
}

// Count 当前房间数
func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}
