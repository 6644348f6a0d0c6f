package conn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relay/common/log"
)

// Connection 一条客户端长连接
// Manager 里存接口而不是具体类型，单元测试可以注入假连接
type Connection interface {
	ID() string
	SendMessage(buf []byte) error
	Close()
}

// MessagePack 读协程投递给 worker 的最小单元，Body 为 nil 表示连接断开
type MessagePack struct {
	ConnID string
	Body   []byte
}

var connIDBase uint64 = 10000

var (
	pongWait             = 60 * time.Second
	writeWait            = 10 * time.Second
	pingInterval         = (pongWait * 9) / 10
	maxMessageSize int64 = 4096
)

type LongConnection struct {
	ConnID     string
	Conn       *websocket.Conn
	manager    *Manager
	WriteChan  chan []byte
	pingTicker *time.Ticker
	closeChan  chan struct{}
	closeOnce  sync.Once
}

func (con *LongConnection) Run() {
	go con.readMessage()
	go con.writeMessage()
	con.Conn.SetPongHandler(con.PongHandler)
}

func (con *LongConnection) writeMessage() {
	con.pingTicker = time.NewTicker(pingInterval)

	for {
		select {
		case message := <-con.WriteChan:
			if err := con.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error("客户端[%s] SetWriteDeadline err :%+v", con.ConnID, err)
			}
			if err := con.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error("客户端[%s] write stream err :%+v", con.ConnID, err)
			}
		case <-con.pingTicker.C:
			if err := con.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error("客户端[%s] ping SetWriteDeadline err :%+v", con.ConnID, err)
			}
			if err := con.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error("客户端[%s] ping err :%+v", con.ConnID, err)
				con.Close()
			}
		case <-con.closeChan:
			log.Debug("客户端[%s] writeMessage stopped", con.ConnID)
			return
		}
	}
}

func (con *LongConnection) readMessage() {
	defer func() {
		log.Debug("客户端[%s] 读协程停止", con.ConnID)
		con.manager.removeClient(con)
	}()
	con.Conn.SetReadLimit(maxMessageSize)
	if err := con.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Error("SetReadDeadline err:%v", err)
		return
	}
	for {
		select {
		case <-con.closeChan:
			log.Debug("客户端[%s] 检测到关闭信号", con.ConnID)
			return
		default:
			messageType, message, err := con.Conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Error("客户端[%s] 异常错误: %v", con.ConnID, err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				log.Error("客户端[%s] 不支持的流类型 : %d", con.ConnID, messageType)
				continue
			}
			con.manager.dispatch(&MessagePack{ConnID: con.ConnID, Body: message})
		}
	}
}

func (con *LongConnection) PongHandler(data string) error {
	return con.Conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (con *LongConnection) ID() string {
	return con.ConnID
}

// SendMessage 入队出站消息，不阻塞也不保证送达
// 对端写缓冲满或连接已关闭时直接丢弃，转发协议本身是尽力而为的
func (con *LongConnection) SendMessage(buf []byte) error {
	select {
	case <-con.closeChan:
		return nil
	default:
	}
	select {
	case con.WriteChan <- buf:
	default:
		log.Warn("客户端[%s] 写缓冲已满，丢弃出站消息", con.ConnID)
	}
	return nil
}

func (con *LongConnection) Close() {
	// 确保只执行一次
	con.closeOnce.Do(func() {
		close(con.closeChan)
		if con.Conn != nil {
			_ = con.Conn.Close()
		}
		if con.pingTicker != nil {
			con.pingTicker.Stop()
		}
		log.Debug("客户端[%s] 连接关闭", con.ConnID)
		go func(conn *LongConnection) {
			time.Sleep(100 * time.Millisecond)
			GetLongConnectionPool().Put(conn)
		}(con)
	})
}

func (con *LongConnection) reset() {
	con.ConnID = ""
	con.Conn = nil
	con.manager = nil
	con.WriteChan = nil
	con.pingTicker = nil
	con.closeChan = nil
}

func NewLongConnection(conn *websocket.Conn, manager *Manager) *LongConnection {
	return GetLongConnectionPool().Get(conn, manager)
}
