// Package client implements the interactive user agent for the msgp
// protocol. A single reader goroutine classifies everything arriving on the
// socket: reply blocks complete the pending request through a channel,
// unsolicited send blocks are printed as incoming messages. There is no
// busy-waiting; one request is outstanding at a time.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"msgp-chat/domain"
	"msgp-chat/msgp"
)

type Agent struct {
	log    *slog.Logger
	user   string
	conn   net.Conn
	reader *bufio.Reader
	out    io.Writer

	requestMu sync.Mutex
	replies   chan msgp.Reply
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects the agent and registers the user with the server through
// the reserved-group trick: a join immediately followed by a leave leaves no
// membership behind but teaches the server the user's name and channel.
func Dial(log *slog.Logger, user, addr string) (*Agent, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to server at %s: %w", addr, err)
	}
	agent := NewAgent(log, user, conn, os.Stdout)
	if err := agent.register(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return agent, nil
}

func NewAgent(log *slog.Logger, user string, conn net.Conn, out io.Writer) *Agent {
	a := &Agent{
		log:     log,
		user:    user,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		out:     out,
		replies: make(chan msgp.Reply, 1),
		done:    make(chan struct{}),
	}
	go a.readLoop()
	return a
}

func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		_ = a.conn.Close()
	})
}

func (a *Agent) register() error {
	if _, err := a.request(msgp.EncodeRequest("join", a.user, msgp.ReservedGroup)); err != nil {
		return err
	}
	_, err := a.request(msgp.EncodeRequest("leave", a.user, msgp.ReservedGroup))
	return err
}

// readLoop classifies inbound blocks. Replies start with the protocol
// token; deliveries are verbatim send blocks.
func (a *Agent) readLoop() {
	for {
		line, err := a.readLine()
		if err != nil {
			a.Close()
			return
		}
		switch {
		case line == "":
			// stray block terminator
		case line == "send":
			delivery, err := msgp.ReadSendBlock(a.reader)
			if err != nil {
				a.log.Debug("Bad delivery block", "error", err)
				continue
			}
			a.printDelivery(delivery)
		case strings.HasPrefix(line, msgp.Proto+" "):
			code, err := msgp.ParseStatusLine(line)
			if err != nil {
				a.log.Debug("Bad status line", "error", err)
				continue
			}
			payload, err := msgp.ReadPayload(a.reader)
			if err != nil {
				a.Close()
				return
			}
			select {
			case a.replies <- msgp.Reply{Code: code, Lines: payload}:
			case <-a.done:
				return
			}
		default:
			a.log.Debug("Unexpected line", "line", line)
		}
	}
}

// request writes one request block and blocks until the reader completes it
// with the matching reply.
func (a *Agent) request(block string) (msgp.Reply, error) {
	a.requestMu.Lock()
	defer a.requestMu.Unlock()

	if _, err := a.conn.Write([]byte(block)); err != nil {
		return msgp.Reply{}, fmt.Errorf("write request: %w", err)
	}
	select {
	case reply := <-a.replies:
		return reply, nil
	case <-a.done:
		return msgp.Reply{}, fmt.Errorf("connection closed")
	}
}

// Run reads prompt commands until the input ends or the context is
// canceled. Commands mirror the protocol: join/leave take only a group (the
// agent's user is implied), send takes sigil-tagged recipients followed by
// the message.
//
// Scan blocks on stdin between prompts, so cancellation and a lost
// connection are only noticed at the next line of input. Acceptable for an
// interactive tool; a mid-Scan disconnect still surfaces because the next
// request fails immediately.
func (a *Agent) Run(ctx context.Context) error {
	defer a.Close()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.done:
			return fmt.Errorf("server connection lost")
		default:
		}

		fmt.Fprint(a.out, color.Cyan.Sprintf("\n@%s >> ", a.user))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if err := a.execute(line); err != nil {
			fmt.Fprint(a.out, color.Red.Sprintf("%v\n", err))
		}
	}
}

func (a *Agent) execute(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "join":
		if len(fields) != 2 {
			return fmt.Errorf("usage: join <group>")
		}
		return a.join(fields[1])
	case "leave":
		if len(fields) != 2 {
			return fmt.Errorf("usage: leave <group>")
		}
		return a.leave(fields[1])
	case "groups":
		return a.groups()
	case "users":
		if len(fields) != 2 {
			return fmt.Errorf("usage: users <group>")
		}
		return a.users(fields[1])
	case "history":
		if len(fields) != 2 {
			return fmt.Errorf("usage: history <group>")
		}
		return a.history(fields[1])
	case "send":
		return a.send(fields[1:])
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func (a *Agent) join(group string) error {
	reply, err := a.request(msgp.EncodeRequest("join", a.user, group))
	if err != nil {
		return err
	}
	if reply.Code == msgp.StatusNoResult {
		fmt.Fprintf(a.out, "%s is already a member of a group\n", a.user)
		return nil
	}
	members, err := a.request(msgp.EncodeRequest("users", group))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "joined #%s with %d current member\n", group, len(members.Lines))
	return nil
}

func (a *Agent) leave(group string) error {
	reply, err := a.request(msgp.EncodeRequest("leave", a.user, group))
	if err != nil {
		return err
	}
	switch reply.Code {
	case msgp.StatusError:
		fmt.Fprintf(a.out, "no group named #%s\n", group)
	case msgp.StatusNoResult:
		fmt.Fprintf(a.out, "%s is not a member of #%s\n", a.user, group)
	default:
		fmt.Fprintf(a.out, "left #%s\n", group)
	}
	return nil
}

func (a *Agent) groups() error {
	reply, err := a.request(msgp.EncodeRequest("groups"))
	if err != nil {
		return err
	}
	if reply.Code == msgp.StatusNoResult {
		fmt.Fprintln(a.out, "no groups exist")
		return nil
	}
	a.renderList("Group", reply.Lines)
	return nil
}

func (a *Agent) users(group string) error {
	reply, err := a.request(msgp.EncodeRequest("users", group))
	if err != nil {
		return err
	}
	switch reply.Code {
	case msgp.StatusError:
		fmt.Fprintf(a.out, "no group named #%s\n", group)
	case msgp.StatusNoResult:
		fmt.Fprintf(a.out, "#%s has no members\n", group)
	default:
		a.renderList("User", reply.Lines)
	}
	return nil
}

func (a *Agent) history(group string) error {
	reply, err := a.request(msgp.EncodeRequest("history", group))
	if err != nil {
		return err
	}
	switch reply.Code {
	case msgp.StatusError:
		fmt.Fprintf(a.out, "no group named #%s\n", group)
	case msgp.StatusNoResult:
		fmt.Fprintf(a.out, "#%s has no history\n", group)
	default:
		for _, line := range reply.Lines {
			fmt.Fprintln(a.out, line)
		}
	}
	return nil
}

// send parses `send @user #group ... <message>`: sigil-tagged tokens first,
// everything after the first untagged token is the message body.
func (a *Agent) send(args []string) error {
	var recipients []domain.Recipient
	var body string
	for i, token := range args {
		recipient, err := msgp.ParseRecipient(token)
		if err != nil {
			body = strings.Join(args[i:], " ")
			break
		}
		recipients = append(recipients, recipient)
	}
	if len(recipients) == 0 || body == "" {
		return fmt.Errorf("usage: send <@user|#group>... <message>")
	}

	reply, err := a.request(msgp.EncodeSend(a.user, recipients, body) + "\n")
	if err != nil {
		return err
	}
	if reply.Code == msgp.StatusError {
		fmt.Fprintln(a.out, "some recipients do not exist, nothing sent")
		return nil
	}
	fmt.Fprintln(a.out, "message sent")
	return nil
}

func (a *Agent) printDelivery(delivery domain.SendRequest) {
	fmt.Fprint(a.out, color.Green.Sprintf("\n%s: %s\n", delivery.From, delivery.Body))
	fmt.Fprint(a.out, color.Cyan.Sprintf("@%s >> ", a.user))
}

func (a *Agent) renderList(header string, values []string) {
	table := tablewriter.NewWriter(a.out)
	table.SetHeader([]string{header})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	for _, v := range values {
		table.Append([]string{v})
	}
	table.Render()
}

func (a *Agent) readLine() (string, error) {
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
