package conn

// HandlerFunc 单个客户端事件的处理函数
type HandlerFunc func(connID string, data []byte) error

// LogicHandler 事件名 -> 处理函数
type LogicHandler map[string]HandlerFunc

// DisconnectFunc 连接断开后的清理回调
type DisconnectFunc func(connID string)
