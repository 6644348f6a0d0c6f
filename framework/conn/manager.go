package conn

import (
	"encoding/json"
	"hash/fnv"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"relay/common/log"
	"relay/framework/stream"
)

var websocketUpgrade = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: true,
}

type ClientBucket struct {
	sync.RWMutex
	clients map[string]Connection
}

func NewClientBucket() *ClientBucket {
	return &ClientBucket{
		clients: make(map[string]Connection),
	}
}

// Manager 长连接管理器
// 每个连接的事件按 connID 哈希固定路由到同一个 worker 协程，
// 保证单连接内事件有序，不同连接之间并发处理。
// 断线清理做成一个 Body 为 nil 的事件投递到同一个 worker，
// 排在该连接剩余事件之后执行，避免"正在匹配时恰好断开"的乱序。
type Manager struct {
	clientBuckets []*ClientBucket
	bucketMask    uint32

	workerCount int
	workerChans []chan *MessagePack

	// 房间的投递组，等价于 socket.io 的 room
	groupMu sync.RWMutex
	groups  map[string]map[string]struct{}

	Handlers     LogicHandler
	OnDisconnect DisconnectFunc

	closeChan chan struct{}
	closeOnce sync.Once
}

func NewManager() *Manager {
	bucketCount := 32
	bucketMask := uint32(bucketCount - 1)
	workerCount := runtime.NumCPU() * 2

	m := &Manager{
		bucketMask:  bucketMask,
		workerCount: workerCount,
		workerChans: make([]chan *MessagePack, workerCount),
		groups:      make(map[string]map[string]struct{}),
		Handlers:    make(LogicHandler),
		closeChan:   make(chan struct{}),
	}

	m.clientBuckets = make([]*ClientBucket, bucketCount)
	for i := range bucketCount {
		m.clientBuckets[i] = NewClientBucket()
	}
	for i := range workerCount {
		m.workerChans[i] = make(chan *MessagePack, 256)
	}
	return m
}

// Start 启动 worker 协程和性能监控
func (m *Manager) Start() {
	for i := range m.workerCount {
		go m.clientWorkerRoutine(i)
	}
	go m.monitorPerformance()
	log.Info("websocket manager 启动了 %d 个 worker 协程和 %d 个连接分片桶", m.workerCount, len(m.clientBuckets))
}

// UpgradeFunc 把一次 HTTP 请求升级为长连接
func (m *Manager) UpgradeFunc(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocketUpgrade.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket 升级失败: %v", err)
		return
	}
	con := NewLongConnection(wsConn, m)
	m.addClient(con)
	con.Run()
	log.Info("客户端[%s] 连接建立", con.ConnID)
}

func (m *Manager) bucketOf(connID string) *ClientBucket {
	return m.clientBuckets[fnv32(connID)&m.bucketMask]
}

func (m *Manager) addClient(con Connection) {
	bucket := m.bucketOf(con.ID())
	bucket.Lock()
	bucket.clients[con.ID()] = con
	bucket.Unlock()
}

func (m *Manager) removeClient(con *LongConnection) {
	connID := con.ConnID
	bucket := m.bucketOf(connID)
	bucket.Lock()
	_, exists := bucket.clients[connID]
	delete(bucket.clients, connID)
	bucket.Unlock()

	con.Close()

	// 只有第一次移除才触发断线清理
	if exists {
		m.dispatch(&MessagePack{ConnID: connID, Body: nil})
	}
}

// dispatch 按 connID 哈希投递到固定 worker
func (m *Manager) dispatch(pack *MessagePack) {
	idx := fnv32(pack.ConnID) % uint32(m.workerCount)
	select {
	case m.workerChans[idx] <- pack:
	case <-m.closeChan:
	}
}

func (m *Manager) clientWorkerRoutine(workerID int) {
	for {
		select {
		case pack := <-m.workerChans[workerID]:
			m.handlePack(pack)
		case <-m.closeChan:
			log.Debug("worker[%d] 退出", workerID)
			return
		}
	}
}

func (m *Manager) handlePack(pack *MessagePack) {
	// Body 为 nil 是断线标记
	if pack.Body == nil {
		if m.OnDisconnect != nil {
			m.OnDisconnect(pack.ConnID)
		}
		m.LeaveAllGroups(pack.ConnID)
		return
	}

	var event stream.Event
	if err := json.Unmarshal(pack.Body, &event); err != nil {
		log.Warn("客户端[%s] 事件解析失败，丢弃: %v", pack.ConnID, err)
		return
	}

	handler, ok := m.Handlers[event.Event]
	if !ok {
		log.Warn("客户端[%s] 未知事件 %s，丢弃", pack.ConnID, event.Event)
		return
	}
	if err := handler(pack.ConnID, event.Data); err != nil {
		// 单个连接的异常事件不影响其他连接
		log.Error("客户端[%s] 处理事件 %s 出错: %v", pack.ConnID, event.Event, err)
	}
}

// IsOnline 连接是否还在线，匹配扫描队列时用来剔除死条目
func (m *Manager) IsOnline(connID string) bool {
	bucket := m.bucketOf(connID)
	bucket.RLock()
	_, ok := bucket.clients[connID]
	bucket.RUnlock()
	return ok
}

// SendToConn 给指定连接发消息，目标不在线时静默跳过
func (m *Manager) SendToConn(connID string, buf []byte) error {
	bucket := m.bucketOf(connID)
	bucket.RLock()
	con, ok := bucket.clients[connID]
	bucket.RUnlock()
	if !ok {
		return nil
	}
	return con.SendMessage(buf)
}

// JoinGroup 把连接加入房间的投递组，重复加入是空操作
func (m *Manager) JoinGroup(roomID, connID string) {
	m.groupMu.Lock()
	group, ok := m.groups[roomID]
	if !ok {
		group = make(map[string]struct{})
		m.groups[roomID] = group
	}
	group[connID] = struct{}{}
	m.groupMu.Unlock()
}

// LeaveGroup 把连接移出投递组，组空了就删掉
func (m *Manager) LeaveGroup(roomID, connID string) {
	m.groupMu.Lock()
	if group, ok := m.groups[roomID]; ok {
		delete(group, connID)
		if len(group) == 0 {
			delete(m.groups, roomID)
		}
	}
	m.groupMu.Unlock()
}

// LeaveAllGroups 断线时把连接从所有投递组里移除
func (m *Manager) LeaveAllGroups(connID string) {
	m.groupMu.Lock()
	for roomID, group := range m.groups {
		delete(group, connID)
		if len(group) == 0 {
			delete(m.groups, roomID)
		}
	}
	m.groupMu.Unlock()
}

// GroupMembers 返回投递组成员快照
func (m *Manager) GroupMembers(roomID string) []string {
	m.groupMu.RLock()
	defer m.groupMu.RUnlock()

	group, ok := m.groups[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(group))
	for connID := range group {
		members = append(members, connID)
	}
	return members
}

// ConnCount 当前在线连接数
func (m *Manager) ConnCount() int {
	total := 0
	for _, bucket := range m.clientBuckets {
		bucket.RLock()
		total += len(bucket.clients)
		bucket.RUnlock()
	}
	return total
}

func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeChan)
		for _, bucket := range m.clientBuckets {
			bucket.Lock()
			for _, con := range bucket.clients {
				con.Close()
			}
			bucket.clients = make(map[string]Connection)
			bucket.Unlock()
		}
		log.Info("websocket manager 已关闭")
	})
}

// monitorPerformance 周期性输出进程负载
func (m *Manager) monitorPerformance() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cpuPercents, err := cpu.Percent(0, false)
			cpuUsage := 0.0
			if err == nil && len(cpuPercents) > 0 {
				cpuUsage = cpuPercents[0]
			}
			vm, err := mem.VirtualMemory()
			memUsage := 0.0
			if err == nil {
				memUsage = vm.UsedPercent
			}
			log.Debug("性能监控: 连接数=%d goroutine=%d cpu=%.1f%% mem=%.1f%%",
				m.ConnCount(), runtime.NumGoroutine(), cpuUsage, memUsage)
		case <-m.closeChan:
			return
		}
	}
}

func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}
