package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"presencesync/protocol"
)

const (
	// TicksPerSecond 默认上报频率（64 Hz，与渲染端固定步长一致）
	TicksPerSecond = 64
)

// PositionSender 位置上报的发送端，*Conn 实现了该接口
type PositionSender interface {
	SendPosition(pos protocol.Position) error
}

// PositionFunc 每个 Tick 由输入层提供本地玩家当前位置
type PositionFunc func() protocol.Position

// Reporter 按固定频率将本地位置上报给服务端
type Reporter struct {
	sender  PositionSender
	source  PositionFunc
	limiter *rate.Limiter
	sent    atomic.Int64
}

// NewReporter hz <= 0 时使用 TicksPerSecond
func NewReporter(sender PositionSender, source PositionFunc, hz int) *Reporter {
	if hz <= 0 {
		hz = TicksPerSecond
	}
	return &Reporter{
		sender:  sender,
		source:  source,
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(hz)), 1),
	}
}

// Run 阻塞运行上报循环，直到 ctx 取消（返回 nil）或发送失败
func (r *Reporter) Run(ctx context.Context) error {
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			// 预计等待超过 ctx 截止时间时 Wait 会提前报错，此时等 ctx 结束即可
			<-ctx.Done()
			return nil
		}
		if err := r.sender.SendPosition(r.source()); err != nil {
			return fmt.Errorf("send position: %w", err)
		}
		r.sent.Add(1)
	}
}

// Sent 已发送的上报次数
func (r *Reporter) Sent() int64 { return r.sent.Load() }
