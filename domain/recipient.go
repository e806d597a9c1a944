package domain

// RecipientKind distinguishes the two sigils of the wire format:
// '@' addresses a user, '#' addresses a group.
type RecipientKind int

const (
	UserRecipient RecipientKind = iota
	GroupRecipient
)

// Recipient is one tagged token of a send request's recipient list.
type Recipient struct {
	Kind RecipientKind
	Name string
}

func ToUser(name string) Recipient {
	return Recipient{Kind: UserRecipient, Name: name}
}

func ToGroup(name string) Recipient {
	return Recipient{Kind: GroupRecipient, Name: name}
}

// Sigil returns the wire prefix for the recipient kind.
func (r Recipient) Sigil() string {
	if r.Kind == GroupRecipient {
		return "#"
	}
	return "@"
}
