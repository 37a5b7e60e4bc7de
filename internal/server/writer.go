package server

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/hub"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/stream"
)

// startWriter batches hub records for one client and flushes them every
// flushInterval or once batchSize records are pending. The client is
// unregistered when the writer exits.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if s.unregister(cl) {
				s.stats.disconnected.Add(1)
				logger.Info("client_disconnected")
			}
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		var codec stream.Codec
		batch := make([]convert.Record, 0, s.batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.readDeadline))
			_, err := codec.EncodeTo(conn, batch)
			n := len(batch)
			batch = batch[:0]
			if err != nil {
				logger.Debug("client_write_error", "error", s.fail(fmt.Errorf("%w: %v", ErrConnWrite, err)))
				return false
			}
			metrics.AddStreamTx(n)
			return true
		}
		for {
			select {
			case rec := <-cl.Out:
				batch = append(batch, rec)
				if len(batch) >= s.batchSize && !flush() {
					return
				}
			case <-t.C:
				if !flush() {
					return
				}
			case <-cl.Closed:
				flush()
				return
			case <-ctxDone:
				flush()
				return
			}
		}
	}()
}
