package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/hub"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/stream"
	"github.com/kstaniek/go-fp-driver/internal/transport"
)

// commandSink captures forwarded commands.
type commandSink struct {
	mu   sync.Mutex
	cmds []stream.Command
	err  error
}

func (c *commandSink) send(cmd stream.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return c.err
}

func (c *commandSink) count() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.cmds) }

func startServer(t *testing.T, ctx context.Context, h *hub.Hub, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithHub(h), WithHandshakeTimeout(2 * time.Second)}, opts...)
	srv := NewServer(opts...)
	srv.SetListenAddr("127.0.0.1:0")
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return srv
}

func waitClients(h *hub.Hub, n int) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && h.Count() != n {
		time.Sleep(2 * time.Millisecond)
	}
}

// TestSmokeServer performs the hello exchange, receives a record and sends a command.
func TestSmokeServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink := &commandSink{}
	h := hub.New()
	srv := startServer(t, ctx, h, WithCommand(sink.send))
	conn := dialAndHandshake(t, ctx, srv.Addr())
	defer conn.Close()
	waitClients(h, 1)

	h.Broadcast(convert.Record{Category: convert.CategoryText, Data: convert.Text{Level: "INFO", Text: "hello"}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got struct {
		Category string            `cbor:"category"`
		Data     map[string]string `cbor:"data"`
	}
	if err := cbor.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if got.Category != "TEXT" || got.Data["text"] != "hello" {
		t.Fatalf("unexpected record %+v", got)
	}

	b, _ := stream.EncodeCommand(stream.Command{Speeds: []int32{100, 200}})
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write command: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if sink.count() != 1 || len(sink.cmds[0].Speeds) != 2 || sink.cmds[0].Speeds[1] != 200 {
		t.Fatalf("command not forwarded: %+v", sink.cmds)
	}
}

func TestSmokeBadHello(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	srv := startServer(t, ctx, h)

	c, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_, _ = c.Write([]byte("CANNELLONI"))
	_ = c.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = io.ReadFull(c, make([]byte, len(stream.Hello)))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected connection to be closed after bad hello")
	}
	if !errors.Is(srv.LastError(), ErrHandshake) {
		t.Fatalf("LastError=%v", srv.LastError())
	}
	if h.Count() != 0 {
		t.Fatalf("client registered despite bad hello")
	}
}

func TestSmokeMaxClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	srv := startServer(t, ctx, h, WithMaxClients(1))
	c1 := dialAndHandshake(t, ctx, srv.Addr())
	defer c1.Close()
	waitClients(h, 1)

	before := metrics.Snap().HubRejects
	c2 := dialAndHandshake(t, ctx, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := c2.Read(make([]byte, 1)); err == nil {
		t.Fatalf("second client should be rejected")
	}
	if metrics.Snap().HubRejects != before+1 {
		t.Fatalf("reject not counted")
	}
}

func TestSmokeSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	srv := startServer(t, ctx, h)
	conn := dialAndHandshake(t, ctx, srv.Addr())
	defer conn.Close()
	waitClients(h, 1)

	rxBefore := metrics.Snap().StreamRx
	b, _ := stream.EncodeCommand(stream.Command{Subscribe: []string{"llh"}})
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && metrics.Snap().StreamRx == rxBefore {
		time.Sleep(2 * time.Millisecond)
	}

	h.Broadcast(convert.Record{Category: convert.CategoryText, Data: convert.Text{Text: "filtered"}})
	h.Broadcast(convert.Record{Category: convert.CategoryLLH, Data: convert.Position{Lat: 1}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got struct {
		Category string `cbor:"category"`
	}
	if err := cbor.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Category != "LLH" {
		t.Fatalf("first record after subscribe is %s", got.Category)
	}
}

func TestCommandOverflowIsNotAnError(t *testing.T) {
	sink := &commandSink{err: transport.ErrTxOverflow}
	s := NewServer(WithCommand(sink.send))
	s.handleCommand(stream.Command{Speeds: []int32{1}}, hub.NewClient(1), s.logger)
	if s.LastError() != nil || s.Stats().CommandOverflow != 1 {
		t.Fatalf("overflow handled as error: %v", s.LastError())
	}
	sink.err = errors.New("boom")
	s.handleCommand(stream.Command{Speeds: []int32{1}}, hub.NewClient(1), s.logger)
	if !errors.Is(s.LastError(), ErrCommand) {
		t.Fatalf("LastError=%v", s.LastError())
	}
}

func TestSubscribeUnknownOnlyKeepsFilter(t *testing.T) {
	h := hub.New()
	s := NewServer(WithHub(h))
	cl := hub.NewClient(4)
	h.Add(cl)
	defer h.Remove(cl)

	s.handleCommand(stream.Command{Subscribe: []string{"LLH"}}, cl, s.logger)
	s.handleCommand(stream.Command{Subscribe: []string{"BOGUS"}}, cl, s.logger)
	h.Broadcast(convert.Record{Category: convert.CategoryRawIMU})
	h.Broadcast(convert.Record{Category: convert.CategoryLLH})
	if got := <-cl.Out; got.Category != convert.CategoryLLH {
		t.Fatalf("filter widened: got %s", got.Category)
	}
	if len(cl.Out) != 0 {
		t.Fatalf("unexpected extra records: %d", len(cl.Out))
	}

	// An explicit empty list still restores everything.
	s.handleCommand(stream.Command{Subscribe: []string{}}, cl, s.logger)
	h.Broadcast(convert.Record{Category: convert.CategoryRawIMU})
	if got := <-cl.Out; got.Category != convert.CategoryRawIMU {
		t.Fatalf("got %s", got.Category)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := hub.New()
	srv := startServer(t, ctx, h)
	c := dialAndHandshake(t, ctx, srv.Addr())
	waitClients(h, 1)
	_ = c.Close()
	waitClients(h, 0)
	if h.Count() != 0 {
		t.Fatalf("client still registered after disconnect")
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && srv.Stats().Disconnected == 0 {
		time.Sleep(2 * time.Millisecond)
	}
	if st := srv.Stats(); st.Accepted != 1 || st.Connected != 1 || st.Disconnected != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

// TestGracefulShutdown ensures Shutdown closes listener and active clients.
func TestGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	h := hub.New()
	srv := startServer(t, ctx, h)
	c1 := dialAndHandshake(t, ctx, srv.Addr())
	c2 := dialAndHandshake(t, ctx, srv.Addr())
	waitClients(h, 2)

	sdCtx, sdCancel := context.WithTimeout(context.Background(), time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown err: %v", err)
	}
	buf := make([]byte, 8)
	_ = c1.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := c1.Read(buf); err == nil {
		t.Fatalf("expected c1 read to fail after shutdown")
	}
	_ = c2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := c2.Read(buf); err == nil {
		t.Fatalf("expected c2 read to fail after shutdown")
	}
}

// --- Helpers ---

func dialAndHandshake(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: time.Second}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := stream.Handshake(ctx, c, time.Second); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return c
}
