// Package protocol 定义客户端与服务端之间的两种线上消息及其 JSON 编解码
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed 所有解码失败都会包装该错误，调用方可用 errors.Is 判断
var ErrMalformed = errors.New("protocol: malformed message")

// ClientID 连接唯一标识，仅由服务端在接入时生成
type ClientID string

// Position 二维平面坐标（不做越界校验，原样透传）
type Position struct {
	X float64
	Y float64
}

// PositionReport 客户端上报自身位置：{"x": 1.5, "y": -2}
type PositionReport struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (r PositionReport) Position() Position {
	return Position{X: r.X, Y: r.Y}
}

// Entry 快照中的单条记录
type Entry struct {
	ID       ClientID
	Position Position
}

// Snapshot 服务端回发的其他客户端位置列表，顺序无意义
type Snapshot []Entry

type wireEntry struct {
	ID       *string     `json:"id"`
	Position *[]*float64 `json:"position"`
}

// MarshalJSON 线上格式：{"id": "...", "position": [x, y]}
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string     `json:"id"`
		Position [2]float64 `json:"position"`
	}{ID: string(e.ID), Position: [2]float64{e.Position.X, e.Position.Y}})
}

func EncodeReport(p Position) ([]byte, error) {
	return json.Marshal(PositionReport{X: p.X, Y: p.Y})
}

// DecodeReport 解析位置上报；x 与 y 必须同时存在且为数字
func DecodeReport(data []byte) (PositionReport, error) {
	var raw struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PositionReport{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.X == nil || raw.Y == nil {
		return PositionReport{}, fmt.Errorf("%w: report needs x and y", ErrMalformed)
	}
	return PositionReport{X: *raw.X, Y: *raw.Y}, nil
}

// EncodeSnapshot 序列化快照，nil 编码为 []
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if s == nil {
		s = Snapshot{}
	}
	return json.Marshal(s)
}

// DecodeSnapshot 解析快照；缺少 id 或 position 不是恰好两个数字的条目视为格式错误
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var raw []wireEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: snapshot must be an array", ErrMalformed)
	}
	snap := make(Snapshot, 0, len(raw))
	for i, we := range raw {
		if we.ID == nil || *we.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no id", ErrMalformed, i)
		}
		if we.Position == nil || len(*we.Position) != 2 {
			return nil, fmt.Errorf("%w: entry %d position must be [x, y]", ErrMalformed, i)
		}
		pos := *we.Position
		if pos[0] == nil || pos[1] == nil {
			return nil, fmt.Errorf("%w: entry %d position has null coordinate", ErrMalformed, i)
		}
		snap = append(snap, Entry{ID: ClientID(*we.ID), Position: Position{X: *pos[0], Y: *pos[1]}})
	}
	return snap, nil
}
