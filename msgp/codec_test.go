package msgp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"msgp-chat/domain"
	"msgp-chat/errors"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestReadRequest_SingleLineCommands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  domain.Request
	}{
		{"join", "join alice team\n", domain.JoinRequest{User: "alice", Group: "team"}},
		{"leave", "leave alice team\n", domain.LeaveRequest{User: "alice", Group: "team"}},
		{"groups", "groups\n", domain.GroupsRequest{}},
		{"users", "users team\n", domain.UsersRequest{Group: "team"}},
		{"history", "history team\n", domain.HistoryRequest{Group: "team"}},
		{"skips leading blank lines", "\n\njoin alice team\n", domain.JoinRequest{User: "alice", Group: "team"}},
		{"trims carriage return", "join alice team\r\n", domain.JoinRequest{User: "alice", Group: "team"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			got, err := ReadRequest(reader(tt.input))
			req.NoError(err)
			req.Equal(tt.want, got)
		})
	}
}

func TestReadRequest_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unknown command", "shout alice\n"},
		{"whitespace-only line", " \n"},
		{"tabs-only line", "\t\t\n"},
		{"join missing group", "join alice\n"},
		{"join extra token", "join alice team now\n"},
		{"groups with argument", "groups team\n"},
		{"users missing group", "users\n"},
		{"history extra token", "history team today\n"},
		{"send with trailing token", "send now\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := ReadRequest(reader(tt.input))
			req.ErrorIs(err, errors.ErrMalformedRequest)
		})
	}
}

func TestReadRequest_SendBlock(t *testing.T) {
	req := require.New(t)
	input := "send\n" +
		"from: alice\n" +
		"to: #team\n" +
		"to: @bob\n" +
		"\n" +
		"hello everyone\n" +
		"\n"

	got, err := ReadRequest(reader(input))

	req.NoError(err)
	send, ok := got.(domain.SendRequest)
	req.True(ok)
	req.Equal("alice", send.From)
	req.Equal([]domain.Recipient{domain.ToGroup("team"), domain.ToUser("bob")}, send.Recipients)
	req.Equal("hello everyone", send.Body)
	// Raw is the canonical block, reusable verbatim for delivery
	req.Equal("send\nfrom: alice\nto: #team\nto: @bob\n\nhello everyone\n", send.Raw)
}

func TestReadSendBlock_StrictFraming(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing from line", "to: @bob\n\nhi\n\n"},
		{"empty from", "from: \nto: @bob\n\nhi\n\n"},
		{"from with spaces", "from: alice smith\nto: @bob\n\nhi\n\n"},
		{"no recipients", "from: alice\n\nhi\n\n"},
		{"recipient without sigil", "from: alice\nto: bob\n\nhi\n\n"},
		{"recipient with bare sigil", "from: alice\nto: @\n\nhi\n\n"},
		{"missing blank separator", "from: alice\nto: @bob\nhi\n\n"},
		{"missing terminator line", "from: alice\nto: @bob\n\nhi\nextra\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, err := ReadSendBlock(reader(tt.input))
			req.ErrorIs(err, errors.ErrMalformedRequest)
		})
	}
}

func TestEncodeSend_RoundTrip(t *testing.T) {
	req := require.New(t)
	recipients := []domain.Recipient{domain.ToUser("bob"), domain.ToGroup("team")}

	block := EncodeSend("alice", recipients, "hi there")

	// The encoded block plus its framing blank line decodes back identically
	got, err := ReadRequest(reader(block + "\n"))
	req.NoError(err)
	send := got.(domain.SendRequest)
	req.Equal("alice", send.From)
	req.Equal(recipients, send.Recipients)
	req.Equal("hi there", send.Body)
	req.Equal(block, send.Raw)
}

func TestReply_Encode(t *testing.T) {
	tests := []struct {
		name  string
		reply Reply
		want  string
	}{
		{"ok without payload", OK(), "msgp 200 OK\n"},
		{"ok with payload", OK("alice", "bob"), "msgp 200 OK\nalice\nbob\n"},
		{"no result", NoResult(), "msgp 201 No result\n"},
		{"error", Error(), "msgp 400 Error\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.New(t).Equal(tt.want, tt.reply.Encode())
		})
	}
}

func TestParseStatusLine(t *testing.T) {
	req := require.New(t)

	code, err := ParseStatusLine("msgp 200 OK")
	req.NoError(err)
	req.Equal(StatusOK, code)

	code, err = ParseStatusLine("msgp 201 No result")
	req.NoError(err)
	req.Equal(StatusNoResult, code)

	_, err = ParseStatusLine("http 200 OK")
	req.ErrorIs(err, errors.ErrMalformedRequest)

	_, err = ParseStatusLine("msgp abc Error")
	req.ErrorIs(err, errors.ErrMalformedRequest)
}

func TestReadPayload(t *testing.T) {
	req := require.New(t)

	lines, err := ReadPayload(reader("alice\nbob\n\n"))
	req.NoError(err)
	req.Equal([]string{"alice", "bob"}, lines)

	lines, err = ReadPayload(reader("\n"))
	req.NoError(err)
	req.Empty(lines)
}

func TestHistoryLine(t *testing.T) {
	req := require.New(t)
	m := domain.Message{Sender: "alice", Body: "hello"}
	req.Equal("alice: hello", HistoryLine(m))
}
