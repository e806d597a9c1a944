package runtime

import (
	"context"
	"log/slog"

	"msgp-chat/contract"
	"msgp-chat/domain"
	"msgp-chat/errors"
	"msgp-chat/observability"
)

// Router resolves a tagged recipient list into a deduplicated delivery set
// and performs the history and delivery side effects. It shares the
// registry's lock so a send is atomic with respect to concurrent joins and
// leaves: either every recipient is valid and all history/delivery happens,
// or nothing is mutated.
type Router struct {
	log *slog.Logger
	reg *Registry
}

func NewRouter(log *slog.Logger, reg *Registry) *Router {
	return &Router{log: log, reg: reg}
}

// Route validates every recipient before any mutation, appends the message
// to each addressed group's history (and, under the user-history policy, to
// each resolved user's private history), then delivers the verbatim message
// to every resolved user's live channel. A recipient named twice, or both
// directly and through a group, receives exactly one copy. Users without a
// live channel are skipped; their history is still recorded.
func (rt *Router) Route(ctx context.Context, message domain.Message, recipients []domain.Recipient) error {
	sinks, err := rt.commit(message, recipients)
	if err != nil {
		return err
	}

	for user, sink := range sinks {
		if err := sink.Deliver(ctx, message); err != nil {
			observability.DeliveriesDropped.Inc()
			rt.log.Warn("Delivery dropped", "user", user, "error", err)
			continue
		}
		observability.MessagesDelivered.Inc()
	}
	return nil
}

// commit runs the validate-then-mutate pass under the registry lock and
// returns the resolved live sinks. Delivery happens after unlock so a slow
// recipient never stalls the registry.
func (rt *Router) commit(message domain.Message, recipients []domain.Recipient) (map[string]contract.MessageSink, error) {
	rt.reg.mu.Lock()
	defer rt.reg.mu.Unlock()

	// Partition the recipient list, collapsing duplicate tokens.
	var users, groups []string
	seenUsers := make(map[string]struct{})
	seenGroups := make(map[string]struct{})
	for _, r := range recipients {
		switch r.Kind {
		case domain.GroupRecipient:
			if _, ok := seenGroups[r.Name]; !ok {
				seenGroups[r.Name] = struct{}{}
				groups = append(groups, r.Name)
			}
		default:
			if _, ok := seenUsers[r.Name]; !ok {
				seenUsers[r.Name] = struct{}{}
				users = append(users, r.Name)
			}
		}
	}

	// Full validation before the first side effect.
	for _, u := range users {
		if _, ok := rt.reg.users[u]; !ok {
			return nil, errors.ErrUnknownRecipient
		}
	}
	for _, g := range groups {
		if _, ok := rt.reg.groups[g]; !ok {
			return nil, errors.ErrUnknownRecipient
		}
	}

	// Group pass: record history, expand membership into the delivery set.
	for _, name := range groups {
		g := rt.reg.groups[name]
		g.AppendHistory(message)
		for _, member := range g.Members() {
			if _, ok := seenUsers[member]; !ok {
				seenUsers[member] = struct{}{}
				users = append(users, member)
			}
		}
	}

	sinks := make(map[string]contract.MessageSink)
	for _, u := range users {
		record := rt.reg.users[u]
		if record == nil {
			// Group members are only ever added through Join, which
			// registers the user first, so the record must exist.
			continue
		}
		if rt.reg.policy.TrackUserHistory {
			record.history = append(record.history, message)
		}
		if record.sink != nil {
			sinks[u] = record.sink
		}
	}
	return sinks, nil
}
