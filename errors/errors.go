package errors

import "fmt"

var (
	ErrUserNotFound     = fmt.Errorf("user not found")
	ErrGroupNotFound    = fmt.Errorf("group not found")
	ErrAlreadyMember    = fmt.Errorf("user already belongs to a group")
	ErrNotMember        = fmt.Errorf("user is not a member of the group")
	ErrUnknownRecipient = fmt.Errorf("recipient does not exist")
	ErrMalformedRequest = fmt.Errorf("malformed request")
	ErrWorkerPanic      = fmt.Errorf("worker panic")
)
