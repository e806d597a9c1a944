package tcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"msgp-chat/services"
)

// Server is the transport listener worker: it accepts connections and spawns
// one Session per client. It satisfies contract.Worker and runs under the
// supervisor.
type Server struct {
	log             *slog.Logger
	addr            string
	service         services.IChatService
	bufferSize      int
	deliveryTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(log *slog.Logger, addr string, service services.IChatService,
	bufferSize int, deliveryTimeout time.Duration) *Server {
	return &Server{
		log:             log,
		addr:            addr,
		service:         service,
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
	}
}

// Addr reports the bound listen address, or nil before Run has bound it.
// Useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts connections until the context is canceled. Sessions run under
// a listener-scoped context so a failing listener tears them down before Run
// returns; the supervisor can then restart promptly instead of waiting out
// sessions that nothing would ever cancel.
func (s *Server) Run(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcp listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.log.Info("Chat server ready for connections", "addr", listener.Addr().String())

	go func() {
		<-sessionCtx.Done()
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			cancel()
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.log.Info("Client made connection", "peer", conn.RemoteAddr().String())

		session := NewSession(s.log, conn, s.service, s.bufferSize, s.deliveryTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			session.Run(sessionCtx)
		}()
	}
}
