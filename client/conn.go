// Package client 实现同步协议的客户端一侧：连接、位置上报与快照差异同步
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"presencesync/protocol"
)

const writeWait = 5 * time.Second

// Log 客户端日志，默认 no-op，可由宿主程序替换
var Log = zap.NewNop().Sugar()

// Conn 与服务端的一条 WebSocket 连接
// 读协程持续解码快照，只保留最近一份尚未取走的快照
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	latest    chan protocol.Snapshot
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	received atomic.Int64
	dropped  atomic.Int64
	bytesIn  atomic.Int64
}

// Dial 连接服务端，如 ws://localhost:8080/ws
func Dial(ctx context.Context, rawURL string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	c := &Conn{
		ws:     ws,
		latest: make(chan protocol.Snapshot, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Log.Warnf("read from server: %v", err)
			}
			c.setErr(err)
			return
		}
		c.bytesIn.Add(int64(len(data)))
		if mt != websocket.TextMessage {
			continue
		}
		snap, err := protocol.DecodeSnapshot(data)
		if err != nil {
			// 快照解析失败：忽略该消息，不影响连接
			c.dropped.Add(1)
			Log.Debugf("drop malformed snapshot: %v", err)
			continue
		}
		c.received.Add(1)
		c.offer(snap)
	}
}

// offer 放入最新快照；若上一份还没被取走则直接替换
func (c *Conn) offer(snap protocol.Snapshot) {
	for {
		select {
		case c.latest <- snap:
			return
		default:
		}
		select {
		case <-c.latest:
		default:
		}
	}
}

// Latest 非阻塞地取出最新快照
func (c *Conn) Latest() (protocol.Snapshot, bool) {
	select {
	case snap := <-c.latest:
		return snap, true
	default:
		return nil, false
	}
}

// Snapshots 阻塞式消费时使用
func (c *Conn) Snapshots() <-chan protocol.Snapshot { return c.latest }

// SendPosition 发送一次位置上报
func (c *Conn) SendPosition(pos protocol.Position) error {
	data, err := protocol.EncodeReport(pos)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close 发送关闭帧并断开连接，可重复调用
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Done 读协程退出后关闭
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err 读协程退出的原因
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

func (c *Conn) Received() int64 { return c.received.Load() }
func (c *Conn) Dropped() int64  { return c.dropped.Load() }
func (c *Conn) BytesIn() int64  { return c.bytesIn.Load() }
