package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/hub"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/stream"
	"github.com/kstaniek/go-fp-driver/internal/transport"
)

// startReader decodes client commands until the peer goes away. Ending the
// reader closes the client, which stops its writer.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cl.Close()
		dec := stream.NewCommandDecoder(conn)
		for {
			select {
			case <-ctxDone:
				return
			case <-cl.Closed:
				return
			default:
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			cmd, err := dec.Next()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				logger.Warn("client_read_error", "error", s.fail(fmt.Errorf("%w: %v", ErrConnRead, err)))
				return
			}
			s.handleCommand(cmd, cl, logger)
			metrics.IncStreamRx()
		}
	}()
}

func (s *Server) handleCommand(cmd stream.Command, cl *hub.Client, logger *slog.Logger) {
	if cmd.Subscribe != nil {
		cats := make([]convert.Category, 0, len(cmd.Subscribe))
		for _, name := range cmd.Subscribe {
			if c, ok := convert.ParseCategory(name); ok {
				cats = append(cats, c)
			} else {
				logger.Warn("unknown_category", "name", name)
			}
		}
		switch {
		case len(cats) == 0 && len(cmd.Subscribe) > 0:
			// Keep the current filter; an empty one would mean everything.
			logger.Warn("subscribe_ignored", "names", cmd.Subscribe)
		default:
			cl.Subscribe(cats)
			logger.Info("client_subscribed", "categories", cats)
		}
	}
	if s.Command == nil || (len(cmd.Speeds) == 0 && !cmd.HasTime()) {
		return
	}
	if err := s.Command(cmd); err != nil {
		if errors.Is(err, transport.ErrTxOverflow) {
			s.stats.commandOverflow.Add(1)
			logger.Debug("command_overflow_drop", "readings", len(cmd.Speeds))
			return
		}
		s.stats.commandErrors.Add(1)
		logger.Error("command_error", "error", s.fail(fmt.Errorf("%w: %v", ErrCommand, err)))
	}
}
