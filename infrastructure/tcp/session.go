// Package tcp serves the msgp line protocol: one session per accepted
// connection, each running the read-dispatch-reply loop against the shared
// chat service.
package tcp

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"msgp-chat/domain"
	"msgp-chat/errors"
	"msgp-chat/msgp"
	"msgp-chat/observability"
	"msgp-chat/services"
)

// Session is the per-connection worker. The reader goroutine decodes one
// request at a time and dispatches it; a single writer goroutine owns the
// connection's output so replies and fan-out deliveries never interleave
// inside a block. Session implements contract.MessageSink: the registry
// holds it as the outbound channel of every user registered through it.
type Session struct {
	log             *slog.Logger
	conn            net.Conn
	service         services.IChatService
	out             chan string
	deliveryTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}

	mu    sync.Mutex
	names map[string]struct{} // users whose sink is this session
}

func NewSession(log *slog.Logger, conn net.Conn, service services.IChatService,
	bufferSize int, deliveryTimeout time.Duration) *Session {
	return &Session{
		log:             log.With("peer", conn.RemoteAddr().String()),
		conn:            conn,
		service:         service,
		out:             make(chan string, bufferSize),
		deliveryTimeout: deliveryTimeout,
		done:            make(chan struct{}),
		names:           make(map[string]struct{}),
	}
}

// Run blocks until the peer disconnects or the context is canceled. A read
// failure is fatal for this session only; the registry and every other
// session are unaffected.
func (s *Session) Run(ctx context.Context) {
	observability.ActiveSessions.Inc()
	defer observability.ActiveSessions.Dec()
	defer s.close()

	go s.writeLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.close()
		case <-s.done:
		}
	}()

	reader := bufio.NewReader(s.conn)
	for {
		request, err := msgp.ReadRequest(reader)
		if err != nil {
			if stderrors.Is(err, errors.ErrMalformedRequest) {
				s.log.Debug("Malformed request", "error", err)
				s.enqueue(msgp.Error().Encode())
				continue
			}
			s.log.Info("Client disconnected", "error", err)
			return
		}
		s.enqueue(s.dispatch(ctx, request).Encode())
	}
}

// dispatch executes one decoded request and produces its reply.
func (s *Session) dispatch(ctx context.Context, request domain.Request) msgp.Reply {
	observability.RequestsTotal.WithLabelValues(commandName(request)).Inc()

	switch req := request.(type) {
	case domain.JoinRequest:
		s.track(req.User)
		switch err := s.service.Join(req.User, req.Group, s); {
		case stderrors.Is(err, errors.ErrAlreadyMember):
			return msgp.NoResult()
		default:
			return msgp.OK()
		}

	case domain.LeaveRequest:
		switch err := s.service.Leave(req.User, req.Group); {
		case stderrors.Is(err, errors.ErrGroupNotFound):
			return msgp.Error()
		case stderrors.Is(err, errors.ErrNotMember):
			return msgp.NoResult()
		default:
			return msgp.OK()
		}

	case domain.GroupsRequest:
		groups := s.service.Groups()
		if len(groups) == 0 {
			return msgp.NoResult()
		}
		return msgp.OK(groups...)

	case domain.UsersRequest:
		members, err := s.service.Members(req.Group)
		if err != nil {
			return msgp.Error()
		}
		if len(members) == 0 {
			return msgp.NoResult()
		}
		return msgp.OK(members...)

	case domain.HistoryRequest:
		history, err := s.service.GroupHistory(req.Group)
		if err != nil {
			return msgp.Error()
		}
		if len(history) == 0 {
			return msgp.NoResult()
		}
		lines := make([]string, len(history))
		for i, m := range history {
			lines[i] = msgp.HistoryLine(m)
		}
		return msgp.OK(lines...)

	case domain.SendRequest:
		if err := s.service.Send(ctx, req.From, req.Recipients, req.Body); err != nil {
			return msgp.Error()
		}
		return msgp.OK()

	default:
		return msgp.Error()
	}
}

// Deliver queues a fan-out message for this connection. It gives up after
// the delivery timeout rather than stall the router on a slow reader.
func (s *Session) Deliver(_ context.Context, message domain.Message) error {
	timer := time.NewTimer(s.deliveryTimeout)
	defer timer.Stop()
	select {
	case s.out <- message.Raw:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	case <-timer.C:
		return fmt.Errorf("delivery queue full")
	}
}

// enqueue hands a reply block to the writer goroutine. Replies share the
// delivery queue so per-connection output stays serialized.
func (s *Session) enqueue(block string) {
	select {
	case s.out <- block:
	case <-s.done:
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case block := <-s.out:
			// Blocks never carry their closing blank line; add it here.
			if _, err := s.conn.Write([]byte(block + "\n")); err != nil {
				s.log.Debug("Write failed, closing session", "error", err)
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// track remembers a user registered through this connection so its sink can
// be cleared on disconnect.
func (s *Session) track(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[user] = struct{}{}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
		s.mu.Lock()
		defer s.mu.Unlock()
		for name := range s.names {
			s.service.Disconnect(name, s)
		}
	})
}

func commandName(request domain.Request) string {
	switch request.(type) {
	case domain.JoinRequest:
		return "join"
	case domain.LeaveRequest:
		return "leave"
	case domain.GroupsRequest:
		return "groups"
	case domain.UsersRequest:
		return "users"
	case domain.HistoryRequest:
		return "history"
	case domain.SendRequest:
		return "send"
	default:
		return "unknown"
	}
}
