package domain

// Request is the closed set of commands a client can issue. The codec is the
// only producer; sessions and the REST façade switch over the concrete types,
// so adding a command is a compile-time-checked change.
type Request interface {
	isRequest()
}

type JoinRequest struct {
	User  string
	Group string
}

type LeaveRequest struct {
	User  string
	Group string
}

type GroupsRequest struct{}

type UsersRequest struct {
	Group string
}

type HistoryRequest struct {
	Group string
}

type SendRequest struct {
	From       string
	Recipients []Recipient
	Body       string
	Raw        string // the verbatim block as read off the wire
}

func (JoinRequest) isRequest()    {}
func (LeaveRequest) isRequest()   {}
func (GroupsRequest) isRequest()  {}
func (UsersRequest) isRequest()   {}
func (HistoryRequest) isRequest() {}
func (SendRequest) isRequest()    {}
