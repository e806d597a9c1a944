// Package runtime owns the authoritative chat state and the message routing
// over it. It contains no I/O; transports talk to it through the services
// layer.
package runtime

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"msgp-chat/contract"
	"msgp-chat/domain"
	"msgp-chat/errors"
	"msgp-chat/msgp"
)

// Policy selects between the historical server variants. The plain server
// deletes a group when its last member leaves and records no per-user
// history; the extended server retains empty groups so membership and
// history queries stay answerable, and appends every delivery to the
// recipient's private history.
type Policy struct {
	RetainEmptyGroups bool
	TrackUserHistory  bool
}

// userRecord is a registered user: its live outbound channel (nil while
// disconnected) and its private history. The record outlives the connection.
type userRecord struct {
	sink    contract.MessageSink
	history []domain.Message
}

// Registry is the authoritative store of users, groups, membership and
// history. One mutex guards the whole registry so that compound operations
// (the join check-then-add, the router's validate-then-mutate pass) are
// atomic with respect to every other session. The router lives in this
// package and shares the lock; everything else goes through the exported,
// self-locking methods.
type Registry struct {
	mu     sync.RWMutex
	log    *slog.Logger
	policy Policy
	users  map[string]*userRecord
	groups map[string]*domain.Group
}

func NewRegistry(log *slog.Logger, policy Policy) *Registry {
	return &Registry{
		log:    log,
		policy: policy,
		users:  make(map[string]*userRecord),
		groups: make(map[string]*domain.Group),
	}
}

// RegisterUser is an idempotent upsert associating (or replacing) the user's
// outbound channel. The history of an already-known user is kept.
func (r *Registry) RegisterUser(name string, sink contract.MessageSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerUserLocked(name, sink)
}

func (r *Registry) registerUserLocked(name string, sink contract.MessageSink) {
	record, ok := r.users[name]
	if !ok {
		record = &userRecord{}
		r.users[name] = record
		r.log.Info("User is online", "user", name)
	}
	// A channel-less registration (REST join) must not clobber a live one.
	if sink != nil {
		record.sink = sink
	}
}

// Join registers the user's outbound channel and adds it to the group,
// creating the group if absent. A user already belonging to any group gets
// ErrAlreadyMember and nothing is mutated beyond the sink upsert.
func (r *Registry) Join(user, group string, sink contract.MessageSink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registerUserLocked(user, sink)

	if r.memberOfAnyLocked(user) {
		return errors.ErrAlreadyMember
	}
	g, ok := r.groups[group]
	if !ok {
		g = domain.NewGroup(group)
		r.groups[group] = g
		r.log.Info("A new group is created", "group", group)
	}
	g.AddMember(user)
	r.log.Info("User joined group", "user", user, "group", group)
	return nil
}

// Leave removes the user from the group. An emptied group is deleted unless
// the retain policy is active; ReservedGroup is always deleted so the agent
// registration trick leaves no trace.
func (r *Registry) Leave(user, group string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[group]
	if !ok {
		return errors.ErrGroupNotFound
	}
	if !g.Contains(user) {
		return errors.ErrNotMember
	}
	g.RemoveMember(user)
	r.log.Info("User left group", "user", user, "group", group)

	if g.Size() == 0 && (!r.policy.RetainEmptyGroups || group == msgp.ReservedGroup) {
		delete(r.groups, group)
		r.log.Info("The last user has left, group removed", "group", group)
	}
	return nil
}

// DropSink clears the user's outbound channel on disconnect. The registry
// record, its membership and its history are untouched. The caller passes
// the sink it registered: a stale connection closing after the user
// reconnected elsewhere must not take the new channel offline.
func (r *Registry) DropSink(name string, sink contract.MessageSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.users[name]; ok && record.sink == sink {
		record.sink = nil
		r.log.Info("User is offline", "user", name)
	}
}

func (r *Registry) UserExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[name]
	return ok
}

func (r *Registry) GroupExists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[name]
	return ok
}

// IsMemberOfAny reports whether the user belongs to some group. Membership
// lives in the groups, so this scans them all.
func (r *Registry) IsMemberOfAny(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memberOfAnyLocked(user)
}

func (r *Registry) memberOfAnyLocked(user string) bool {
	for _, g := range r.groups {
		if g.Contains(user) {
			return true
		}
	}
	return false
}

func (r *Registry) IsMember(user, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[group]
	return ok && g.Contains(user)
}

// Groups lists group names, sorted for stable replies.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.groups)
}

// Users lists registered user names, sorted for stable replies.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.users)
}

// Members returns the group's membership in join order.
func (r *Registry) Members(group string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[group]
	if !ok {
		return nil, errors.ErrGroupNotFound
	}
	return g.Members(), nil
}

// GroupHistory returns every message ever sent to the group, in send order.
func (r *Registry) GroupHistory(group string) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[group]
	if !ok {
		return nil, errors.ErrGroupNotFound
	}
	return g.History(), nil
}

// UserHistory returns the messages addressed (directly or via a group) to
// the user.
func (r *Registry) UserHistory(user string) ([]domain.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.users[user]
	if !ok {
		return nil, errors.ErrUserNotFound
	}
	out := make([]domain.Message, len(record.history))
	copy(out, record.history)
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
