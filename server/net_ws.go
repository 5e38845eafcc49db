package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"presencesync/protocol"
)

// Server 持有共享注册表与指标；每个连接由独立的处理协程服务
type Server struct {
	cfg      Config
	registry *Registry
	metrics  *ServerMetrics
	upgrader websocket.Upgrader
}

// NewServer 按配置创建服务
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		metrics:  &ServerMetrics{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Registry() *Registry      { return s.registry }
func (s *Server) Metrics() *ServerMetrics { return s.metrics }

// checkOrigin 未配置白名单时允许所有来源
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Routes 注册全部 HTTP 路由
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/admin/clients", s.HandleClients)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleWS WebSocket 接入；升级失败时 upgrader 已写回 HTTP 错误
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}
	// 直接在 net/http 的处理协程中运行读循环，一个连接一个协程
	s.serveConn(ws)
}

// serveConn 单连接生命周期：注册 -> 读上报/回快照 -> 退出时移除
func (s *Server) serveConn(ws *websocket.Conn) {
	defer ws.Close()

	id := s.registry.Register()
	s.metrics.IncAccepted()
	Log.Infof("client connected: id=%s remote=%s", id, ws.RemoteAddr())

	// 正常关闭与 I/O 错误走同一条清理路径
	defer func() {
		s.registry.Remove(id)
		s.metrics.IncClosed()
		Log.Infof("client disconnected: id=%s", id)
	}()

	ws.SetReadLimit(s.cfg.ReadLimit)
	s.extendReadDeadline(ws)
	if s.cfg.IdleTimeout > 0 {
		ws.SetPongHandler(func(string) error { s.extendReadDeadline(ws); return nil })
	}

	for {
		mt, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				Log.Warnf("read error: id=%s err=%v", id, err)
			}
			return
		}
		s.extendReadDeadline(ws)

		if mt != websocket.TextMessage {
			s.metrics.IncNonTextDropped()
			continue
		}
		report, err := protocol.DecodeReport(payload)
		if err != nil {
			// 格式错误只丢弃当前帧，保留上一次的有效位置
			s.metrics.IncMalformedDropped()
			Log.Debugf("drop malformed report: id=%s err=%v", id, err)
			continue
		}

		s.registry.UpdatePosition(id, report.Position())
		s.metrics.IncReportsApplied()

		data, err := protocol.EncodeSnapshot(s.registry.Snapshot(id))
		if err != nil {
			Log.Errorf("encode snapshot: id=%s err=%v", id, err)
			continue
		}
		if s.cfg.WriteTimeout > 0 {
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			s.metrics.IncWriteErrors()
			Log.Warnf("write error: id=%s err=%v", id, err)
			return
		}
		s.metrics.AddSnapshot(len(data))
	}
}

func (s *Server) extendReadDeadline(ws *websocket.Conn) {
	if s.cfg.IdleTimeout > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}
