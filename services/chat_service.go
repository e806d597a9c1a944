//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"msgp-chat/contract"
	"msgp-chat/domain"
	"msgp-chat/moderation"
	"msgp-chat/msgp"
	"msgp-chat/runtime"
)

// IChatService is the single operation surface shared by the line-protocol
// sessions and the REST façade. Both transports go through it, so both run
// under the same registry lock and observe the same state.
type IChatService interface {
	Join(user, group string, sink contract.MessageSink) error
	Leave(user, group string) error
	Groups() []string
	Users() []string
	Members(group string) ([]string, error)
	GroupHistory(group string) ([]domain.Message, error)
	UserHistory(user string) ([]domain.Message, error)
	Send(ctx context.Context, from string, recipients []domain.Recipient, body string) error
	Disconnect(user string, sink contract.MessageSink)
}

type ChatService struct {
	log       *slog.Logger
	reg       *runtime.Registry
	router    *runtime.Router
	moderator *moderation.Moderator // nil when no censored words are configured
}

func NewChatService(log *slog.Logger, reg *runtime.Registry, router *runtime.Router,
	moderator *moderation.Moderator) *ChatService {
	return &ChatService{log: log, reg: reg, router: router, moderator: moderator}
}

func (s *ChatService) Join(user, group string, sink contract.MessageSink) error {
	return s.reg.Join(user, group, sink)
}

func (s *ChatService) Leave(user, group string) error {
	return s.reg.Leave(user, group)
}

func (s *ChatService) Groups() []string {
	return s.reg.Groups()
}

func (s *ChatService) Users() []string {
	return s.reg.Users()
}

func (s *ChatService) Members(group string) ([]string, error) {
	return s.reg.Members(group)
}

func (s *ChatService) GroupHistory(group string) ([]domain.Message, error) {
	return s.reg.GroupHistory(group)
}

func (s *ChatService) UserHistory(user string) ([]domain.Message, error) {
	return s.reg.UserHistory(user)
}

// Send moderates the body, then hands the message to the router. Moderation
// runs before any history append so stored and delivered text match.
func (s *ChatService) Send(ctx context.Context, from string, recipients []domain.Recipient, body string) error {
	if s.moderator != nil {
		sanitized, report := s.moderator.Review(body)
		s.log.Debug("Message reviewed", "from", from, "lang", report.Lang)
		body = sanitized
	}

	message := domain.Message{
		ID:        uuid.New(),
		Sender:    from,
		Body:      body,
		Raw:       msgp.EncodeSend(from, recipients, body),
		CreatedAt: time.Now().UTC(),
	}
	return s.router.Route(ctx, message, recipients)
}

// Disconnect clears the user's outbound channel, provided it is still the
// one the caller registered; the registry record and its history stay
// available for queries.
func (s *ChatService) Disconnect(user string, sink contract.MessageSink) {
	s.reg.DropSink(user, sink)
}
