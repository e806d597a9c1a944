// Package msgp implements the text wire format of the chat protocol: request
// decoding, reply encoding and block framing. The codec holds no state.
//
// Every wire unit (request, reply, delivered message) is a block of
// newline-terminated lines closed by one blank line. Requests are single
// lines except `send`, which carries a from line, one or more to lines, a
// blank separator, a single-line body and the closing blank line. Replies
// start with a `msgp <code> <text>` status line. Unsolicited deliveries are
// the verbatim send block; clients tell them apart from replies by the fixed
// `send` first line.
package msgp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"msgp-chat/domain"
	"msgp-chat/errors"
)

// Proto is the protocol token opening every reply status line.
const Proto = "msgp"

// ReservedGroup is joined and immediately left by user agents at connect
// time, so the server learns the user's name and outbound channel before any
// real join. It is always removed once empty, whatever the group policy.
const ReservedGroup = "ReservedGroup"

const (
	StatusOK       = 200
	StatusNoResult = 201
	StatusError    = 400
)

// StatusText returns the fixed reply text for a status code.
func StatusText(code int) string {
	switch code {
	case StatusOK:
		return "OK"
	case StatusNoResult:
		return "No result"
	default:
		return "Error"
	}
}

// Reply is one protocol answer: a status code plus optional payload lines.
type Reply struct {
	Code  int
	Lines []string
}

func OK(lines ...string) Reply {
	return Reply{Code: StatusOK, Lines: lines}
}

func NoResult() Reply {
	return Reply{Code: StatusNoResult}
}

func Error() Reply {
	return Reply{Code: StatusError}
}

// Encode renders the reply block without its closing blank line; the session
// writer appends it when framing the block onto the wire.
func (r Reply) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d %s\n", Proto, r.Code, StatusText(r.Code))
	for _, line := range r.Lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseStatusLine decodes a `msgp <code> <text>` reply status line.
func ParseStatusLine(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != Proto {
		return 0, fmt.Errorf("%w: bad status line %q", errors.ErrMalformedRequest, line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: bad status code %q", errors.ErrMalformedRequest, fields[1])
	}
	return code, nil
}

// ReadRequest decodes the next request block from the stream. Blank lines
// between blocks are skipped. I/O errors (including EOF on a closed peer)
// are returned as-is so the session can tell a dead connection from a
// malformed request.
func ReadRequest(r *bufio.Reader) (domain.Request, error) {
	line, err := readLine(r)
	for err == nil && line == "" {
		line, err = readLine(r)
	}
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		// Whitespace-only line: not blank, not a command.
		return nil, badRequest(line)
	}
	switch fields[0] {
	case "join":
		if len(fields) != 3 {
			return nil, badRequest(line)
		}
		return domain.JoinRequest{User: fields[1], Group: fields[2]}, nil
	case "leave":
		if len(fields) != 3 {
			return nil, badRequest(line)
		}
		return domain.LeaveRequest{User: fields[1], Group: fields[2]}, nil
	case "groups":
		if len(fields) != 1 {
			return nil, badRequest(line)
		}
		return domain.GroupsRequest{}, nil
	case "users":
		if len(fields) != 2 {
			return nil, badRequest(line)
		}
		return domain.UsersRequest{Group: fields[1]}, nil
	case "history":
		if len(fields) != 2 {
			return nil, badRequest(line)
		}
		return domain.HistoryRequest{Group: fields[1]}, nil
	case "send":
		if len(fields) != 1 {
			return nil, badRequest(line)
		}
		return ReadSendBlock(r)
	default:
		return nil, badRequest(line)
	}
}

// ReadSendBlock decodes the remainder of a send request, the `send` line
// having already been consumed. Framing is strict: a missing from line,
// an empty recipient list, a missing blank separator or anything after the
// body other than the closing blank line is a malformed request, never
// guessed at.
func ReadSendBlock(r *bufio.Reader) (domain.SendRequest, error) {
	line, err := readLine(r)
	if err != nil {
		return domain.SendRequest{}, err
	}
	from, ok := strings.CutPrefix(line, "from: ")
	if !ok || from == "" || strings.ContainsAny(from, " \t") {
		return domain.SendRequest{}, badRequest(line)
	}

	var recipients []domain.Recipient
	for {
		line, err = readLine(r)
		if err != nil {
			return domain.SendRequest{}, err
		}
		token, isTo := strings.CutPrefix(line, "to: ")
		if !isTo {
			break
		}
		recipient, err := ParseRecipient(token)
		if err != nil {
			return domain.SendRequest{}, err
		}
		recipients = append(recipients, recipient)
	}
	if len(recipients) == 0 {
		return domain.SendRequest{}, badRequest(line)
	}

	// The first non-recipient line must be the blank separator.
	if line != "" {
		return domain.SendRequest{}, badRequest(line)
	}

	body, err := readLine(r)
	if err != nil {
		return domain.SendRequest{}, err
	}
	terminator, err := readLine(r)
	if err != nil {
		return domain.SendRequest{}, err
	}
	if terminator != "" {
		return domain.SendRequest{}, badRequest(terminator)
	}

	return domain.SendRequest{
		From:       from,
		Recipients: recipients,
		Body:       body,
		Raw:        EncodeSend(from, recipients, body),
	}, nil
}

// ParseRecipient decodes one sigil-tagged recipient token.
func ParseRecipient(token string) (domain.Recipient, error) {
	if len(token) < 2 || strings.ContainsAny(token, " \t") {
		return domain.Recipient{}, badRequest(token)
	}
	name := token[1:]
	switch token[0] {
	case '@':
		return domain.ToUser(name), nil
	case '#':
		return domain.ToGroup(name), nil
	default:
		return domain.Recipient{}, badRequest(token)
	}
}

// EncodeSend renders the canonical send block, without the closing blank
// line. This is both the request encoding used by clients and the verbatim
// form stored in histories and delivered to recipients.
func EncodeSend(from string, recipients []domain.Recipient, body string) string {
	var b strings.Builder
	b.WriteString("send\n")
	fmt.Fprintf(&b, "from: %s\n", from)
	for _, r := range recipients {
		fmt.Fprintf(&b, "to: %s%s\n", r.Sigil(), r.Name)
	}
	b.WriteByte('\n')
	b.WriteString(body)
	b.WriteByte('\n')
	return b.String()
}

// EncodeRequest renders a single-line request. Send requests go through
// EncodeSend instead.
func EncodeRequest(parts ...string) string {
	return strings.Join(parts, " ") + "\n"
}

// HistoryLine is the single-line rendering of a stored message used in
// history replies. Raw send blocks span several lines and would break reply
// framing, so the line protocol flattens them; the REST façade returns the
// verbatim block instead.
func HistoryLine(m domain.Message) string {
	return fmt.Sprintf("%s: %s", m.Sender, m.Body)
}

// ReadPayload consumes reply payload lines up to the blank block terminator.
func ReadPayload(r *bufio.Reader) ([]string, error) {
	var lines []string
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func badRequest(line string) error {
	return fmt.Errorf("%w: %q", errors.ErrMalformedRequest, line)
}
