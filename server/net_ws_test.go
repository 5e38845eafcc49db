package server

import (
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"presencesync/protocol"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Registry().Len() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d registered clients, have %d", n, s.Registry().Len())
}

func sendReport(t *testing.T, conn *websocket.Conn, x, y float64) protocol.Snapshot {
	t.Helper()
	data, err := protocol.EncodeReport(protocol.Position{X: x, Y: y})
	if err != nil {
		t.Fatalf("encode report: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write report: %v", err)
	}
	return readSnapshot(t, conn)
}

func readSnapshot(t *testing.T, conn *websocket.Conn) protocol.Snapshot {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", mt)
	}
	snap, err := protocol.DecodeSnapshot(payload)
	if err != nil {
		t.Fatalf("decode snapshot %s: %v", payload, err)
	}
	return snap
}

func TestThreeClientsScenario(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	c1 := dialWS(t, ts)
	c2 := dialWS(t, ts)
	c3 := dialWS(t, ts)
	waitForClients(t, s, 3)

	snap := sendReport(t, c1, 5, 5)
	if len(snap) != 2 {
		t.Fatalf("expected 2 peers in snapshot, got %+v", snap)
	}
	for _, e := range snap {
		if e.Position != (protocol.Position{}) {
			t.Fatalf("expected peers at origin, got %+v", e)
		}
	}

	snap = sendReport(t, c3, 1, 1)
	var c2ID protocol.ClientID
	for _, e := range snap {
		if e.Position == (protocol.Position{}) {
			c2ID = e.ID
		}
	}
	if len(snap) != 2 || c2ID == "" {
		t.Fatalf("expected c1 and c2 in c3's snapshot, got %+v", snap)
	}

	c2.Close()
	waitForClients(t, s, 2)

	snap = sendReport(t, c3, 2, 2)
	if len(snap) != 1 {
		t.Fatalf("expected only c1 after c2 left, got %+v", snap)
	}
	if snap[0].ID == c2ID {
		t.Fatalf("snapshot still contains disconnected client %s", c2ID)
	}
	if snap[0].Position != (protocol.Position{X: 5, Y: 5}) {
		t.Fatalf("expected c1 at (5,5), got %+v", snap[0].Position)
	}
}

func TestOwnReportIsAppliedBeforeReply(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dialWS(t, ts)
	waitForClients(t, s, 1)

	snap := sendReport(t, conn, -3, 8)
	if len(snap) != 0 {
		t.Fatalf("lone client should receive an empty snapshot, got %+v", snap)
	}
	all := s.Registry().Snapshot("")
	if len(all) != 1 || all[0].Position != (protocol.Position{X: -3, Y: 8}) {
		t.Fatalf("self record not updated: %+v", all)
	}
}

func TestMalformedReportIsIgnored(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dialWS(t, ts)
	waitForClients(t, s, 1)

	sendReport(t, conn, 3, 4)

	for _, bad := range []string{"garbage", `{"x":1}`, `[1,2]`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(bad)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	// 非法帧不回复，下一条消息必然对应下一次合法上报
	snap := sendReport(t, conn, 6, 7)
	if len(snap) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if got := atomic.LoadInt64(&s.Metrics().MalformedDropped); got != 3 {
		t.Fatalf("expected 3 malformed drops, got %d", got)
	}
	if got := atomic.LoadInt64(&s.Metrics().NonTextDropped); got != 1 {
		t.Fatalf("expected 1 non-text drop, got %d", got)
	}
	if got := atomic.LoadInt64(&s.Metrics().ReportsApplied); got != 2 {
		t.Fatalf("expected 2 applied reports, got %d", got)
	}
	all := s.Registry().Snapshot("")
	if len(all) != 1 || all[0].Position != (protocol.Position{X: 6, Y: 7}) {
		t.Fatalf("unexpected registry contents %+v", all)
	}
}

func TestMalformedReportKeepsLastValidPosition(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dialWS(t, ts)
	peer := dialWS(t, ts)
	waitForClients(t, s, 2)

	sendReport(t, conn, 9, 9)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"x":"nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	snap := sendReport(t, peer, 0, 0)
	if len(snap) != 1 || snap[0].Position != (protocol.Position{X: 9, Y: 9}) {
		t.Fatalf("expected last valid position (9,9), got %+v", snap)
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	conn := dialWS(t, ts)
	waitForClients(t, s, 1)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	waitForClients(t, s, 0)

	abrupt := dialWS(t, ts)
	waitForClients(t, s, 1)
	abrupt.UnderlyingConn().Close()
	waitForClients(t, s, 0)

	if got := atomic.LoadInt64(&s.Metrics().ConnectionsClosed); got != 2 {
		t.Fatalf("expected 2 closed connections, got %d", got)
	}
}

func TestIdleTimeoutDropsSilentClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	s, ts := newTestServer(t, cfg)
	dialWS(t, ts)
	waitForClients(t, s, 1)
	waitForClients(t, s, 0)
}

func TestNoIdleTimeoutByDefault(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	dialWS(t, ts)
	waitForClients(t, s, 1)
	time.Sleep(200 * time.Millisecond)
	if s.Registry().Len() != 1 {
		t.Fatalf("silent client should stay registered without an idle timeout")
	}
}

func TestOriginAllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://game.example"}
	_, ts := newTestServer(t, cfg)

	header := map[string][]string{"Origin": {"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header); err == nil {
		t.Fatalf("expected handshake rejection for foreign origin")
	}
	header = map[string][]string{"Origin": {"http://game.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
