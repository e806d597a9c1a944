// Package rest exposes the chat registry over HTTP/JSON. It is a façade:
// every handler goes through the same IChatService (and so the same registry
// lock) as the line-protocol sessions.
package rest

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"msgp-chat/domain"
	"msgp-chat/errors"
	"msgp-chat/msgp"
	"msgp-chat/services"
)

// Handler carries the REST routes. Payload bodies are JSON objects with a
// single array field (users, groups or messages); an empty object signals
// "no result".
type Handler struct {
	log     *slog.Logger
	service services.IChatService
}

func NewHandler(log *slog.Logger, service services.IChatService) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users", h.users)
	r.Get("/groups", h.groups)
	r.Get("/group/{group}", h.membership)
	r.Post("/group/{group}", h.join)
	r.Delete("/group/{group}/{user}", h.leave)
	r.Get("/messages/{target}", h.messages)
	r.Post("/message", h.send)
	r.Handle("/metrics", promhttp.Handler())
}

func (h *Handler) users(w http.ResponseWriter, _ *http.Request) {
	h.writeList(w, http.StatusOK, "users", h.service.Users())
}

func (h *Handler) groups(w http.ResponseWriter, _ *http.Request) {
	h.writeList(w, http.StatusOK, "groups", h.service.Groups())
}

func (h *Handler) membership(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	members, err := h.service.Members(group)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.writeList(w, http.StatusOK, "users", members)
}

// join adds the user from the form body to the group, creating both as
// needed, and answers with the group's membership. A user already in some
// group is left where it is; the reply is the membership either way.
func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	user := r.PostFormValue("user")
	if user == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.service.Join(user, group, nil); err != nil && !stderrors.Is(err, errors.ErrAlreadyMember) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	members, err := h.service.Members(group)
	if err != nil {
		// The join was refused and nobody had created the group before.
		h.writeList(w, http.StatusOK, "users", nil)
		return
	}
	h.writeList(w, http.StatusOK, "users", members)
}

func (h *Handler) leave(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "group")
	user := chi.URLParam(r, "user")

	switch err := h.service.Leave(user, group); {
	case stderrors.Is(err, errors.ErrGroupNotFound):
		w.WriteHeader(http.StatusBadRequest)
		return
	case stderrors.Is(err, errors.ErrNotMember):
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	members, err := h.service.Members(group)
	if err != nil {
		// Last member left and the group policy removed the group.
		h.writeList(w, http.StatusOK, "users", nil)
		return
	}
	h.writeList(w, http.StatusOK, "users", members)
}

// messages returns the history of a group, or of a user when the target
// carries the @ sigil.
func (h *Handler) messages(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	var history []domain.Message
	var err error
	if name, ok := strings.CutPrefix(target, "@"); ok {
		history, err = h.service.UserHistory(name)
	} else {
		history, err = h.service.GroupHistory(target)
	}
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	raw := lo.Map(history, func(m domain.Message, _ int) string { return m.Raw })
	h.writeList(w, http.StatusOK, "messages", raw)
}

// send accepts a send-protocol block as the request body. Replies 402 when
// any recipient does not exist, per the façade's protocol.
func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	request, err := msgp.ReadRequest(bufio.NewReader(strings.NewReader(normalizeBlock(string(body)))))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	send, ok := request.(domain.SendRequest)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.service.Send(r.Context(), send.From, send.Recipients, send.Body); err != nil {
		w.WriteHeader(http.StatusPaymentRequired)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{})
}

// normalizeBlock repairs the trailing newlines of an uploaded send block:
// request bodies assembled from files tend to gain or lose the final blank
// line.
func normalizeBlock(block string) string {
	return strings.TrimRight(block, "\n") + "\n\n"
}

func (h *Handler) writeList(w http.ResponseWriter, status int, field string, values []string) {
	if len(values) == 0 {
		h.writeJSON(w, status, map[string]any{})
		return
	}
	h.writeJSON(w, status, map[string]any{field: values})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to encode response", "error", err)
	}
}

// Server runs the façade as a supervised worker.
type Server struct {
	log     *slog.Logger
	addr    string
	handler *Handler

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(log *slog.Logger, addr string, handler *Handler) *Server {
	return &Server{log: log, addr: addr, handler: handler}
}

// Addr reports the bound listen address, or nil before Run has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run serves HTTP until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	s.handler.RegisterRoutes(router)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rest listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.log.Info("REST server listening", "addr", listener.Addr().String())

	server := &http.Server{Handler: router}
	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}
