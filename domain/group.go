package domain

// Group is a named chat group. Membership keeps insertion order so that
// `users` replies list members in join order, like the server always has.
// Groups are owned by the registry; none of these methods lock.
type Group struct {
	Name string

	members []string
	history []Message
}

func NewGroup(name string) *Group {
	return &Group{Name: name}
}

func (g *Group) Contains(user string) bool {
	for _, m := range g.members {
		if m == user {
			return true
		}
	}
	return false
}

func (g *Group) AddMember(user string) {
	if g.Contains(user) {
		return
	}
	g.members = append(g.members, user)
}

func (g *Group) RemoveMember(user string) {
	for i, m := range g.members {
		if m == user {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return
		}
	}
}

func (g *Group) Size() int {
	return len(g.members)
}

// Members returns a copy; the registry hands it out to sessions.
func (g *Group) Members() []string {
	out := make([]string, len(g.members))
	copy(out, g.members)
	return out
}

func (g *Group) AppendHistory(message Message) {
	g.history = append(g.history, message)
}

func (g *Group) History() []Message {
	out := make([]Message, len(g.history))
	copy(out, g.history)
	return out
}
