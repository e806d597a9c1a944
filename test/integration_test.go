package test

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"msgp-chat/client"
	"msgp-chat/infrastructure/rest"
	"msgp-chat/infrastructure/tcp"
	"msgp-chat/runtime"
	"msgp-chat/services"
)

// startServers boots the line-protocol listener and the REST façade on
// ephemeral ports, sharing one chat service, and returns their addresses.
func startServers(t *testing.T, policy runtime.Policy) (chatAddr, restURL string) {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	registry := runtime.NewRegistry(log, policy)
	router := runtime.NewRouter(log, registry)
	service := services.NewChatService(log, registry, router, nil)

	chatServer := tcp.NewServer(log, "127.0.0.1:0", service, 16, 2*time.Second)
	restServer := rest.NewServer(log, "127.0.0.1:0", rest.NewHandler(log, service))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = chatServer.Run(ctx) }()
	go func() { _ = restServer.Run(ctx) }()

	req.Eventually(func() bool {
		return chatServer.Addr() != nil && restServer.Addr() != nil
	}, 2*time.Second, 10*time.Millisecond)

	return chatServer.Addr().String(), "http://" + restServer.Addr().String()
}

// rawClient speaks the wire protocol directly, without the interactive agent.
type rawClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *rawClient) write(block string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(block))
	require.NoError(c.t, err)
}

// readBlock returns the next full block, closing blank line stripped.
func (c *rawClient) readBlock() []string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		require.NoError(c.t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return lines
		}
		lines = append(lines, line)
	}
}

func Test_Scenario_GroupChat(t *testing.T) {
	req := require.New(t)
	chatAddr, _ := startServers(t, runtime.Policy{})

	alice := dialRaw(t, chatAddr)
	bob := dialRaw(t, chatAddr)

	// Given alice and bob both join #team
	alice.write("join alice team\n")
	req.Equal([]string{"msgp 200 OK"}, alice.readBlock())
	bob.write("join bob team\n")
	req.Equal([]string{"msgp 200 OK"}, bob.readBlock())

	// When alice sends a message to the group
	alice.write("send\nfrom: alice\nto: #team\n\nhello team\n\n")

	// Then bob receives the verbatim block
	req.Equal([]string{"send", "from: alice", "to: #team"}, bob.readBlock())
	req.Equal([]string{"hello team"}, bob.readBlock())

	// And alice receives both its own copy and the OK reply, in either order
	sawReply, sawDelivery := false, false
	for !sawReply || !sawDelivery {
		block := alice.readBlock()
		req.NotEmpty(block)
		switch block[0] {
		case "send":
			req.Equal([]string{"hello team"}, alice.readBlock())
			sawDelivery = true
		case "msgp 200 OK":
			sawReply = true
		default:
			t.Fatalf("unexpected block %v", block)
		}
	}

	// And the history records exactly one entry
	alice.write("history team\n")
	req.Equal([]string{"msgp 200 OK", "alice: hello team"}, alice.readBlock())

	// And the member list shows both users in join order
	bob.write("users team\n")
	req.Equal([]string{"msgp 200 OK", "alice", "bob"}, bob.readBlock())
}

func Test_Scenario_PlainPolicyDeletesEmptyGroups(t *testing.T) {
	req := require.New(t)
	chatAddr, _ := startServers(t, runtime.Policy{})

	alice := dialRaw(t, chatAddr)
	alice.write("join alice team\n")
	req.Equal([]string{"msgp 200 OK"}, alice.readBlock())

	alice.write("leave alice team\n")
	req.Equal([]string{"msgp 200 OK"}, alice.readBlock())

	// The emptied group is gone
	alice.write("groups\n")
	req.Equal([]string{"msgp 201 No result"}, alice.readBlock())

	// But alice stays registered, so a direct send still reaches it
	bob := dialRaw(t, chatAddr)
	bob.write("join bob other\n")
	req.Equal([]string{"msgp 200 OK"}, bob.readBlock())
	bob.write("send\nfrom: bob\nto: @alice\n\nstill there?\n\n")
	req.Equal([]string{"msgp 200 OK"}, bob.readBlock())
	req.Equal([]string{"send", "from: bob", "to: @alice"}, alice.readBlock())
	req.Equal([]string{"still there?"}, alice.readBlock())
}

func Test_Scenario_AgentAgainstLiveServer(t *testing.T) {
	req := require.New(t)
	chatAddr, _ := startServers(t, runtime.Policy{RetainEmptyGroups: true, TrackUserHistory: true})
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// The interactive agent registers through the reserved group on dial
	agent, err := client.Dial(log, "carol", chatAddr)
	req.NoError(err)
	defer agent.Close()

	// The registration left no group behind
	probe := dialRaw(t, chatAddr)
	probe.write("groups\n")
	req.Equal([]string{"msgp 201 No result"}, probe.readBlock())

	// But carol is known, so a direct message to it is accepted
	probe.write("join dave solo\n")
	req.Equal([]string{"msgp 200 OK"}, probe.readBlock())
	probe.write("send\nfrom: dave\nto: @carol\n\nwelcome\n\n")
	req.Equal([]string{"msgp 200 OK"}, probe.readBlock())
}

func Test_Scenario_RestFacadeSharesState(t *testing.T) {
	req := require.New(t)
	chatAddr, restURL := startServers(t, runtime.Policy{RetainEmptyGroups: true, TrackUserHistory: true})

	// Given alice joined over the line protocol
	alice := dialRaw(t, chatAddr)
	alice.write("join alice team\n")
	req.Equal([]string{"msgp 200 OK"}, alice.readBlock())

	// When bob joins the same group over HTTP
	resp, err := http.PostForm(restURL+"/group/team", url.Values{"user": {"bob"}})
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	var membership map[string][]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&membership))
	resp.Body.Close()
	req.Equal([]string{"alice", "bob"}, membership["users"])

	// And alice messages the group over HTTP
	block := "send\nfrom: alice\nto: #team\n\nover http\n\n"
	resp, err = http.Post(restURL+"/message", "text/plain", strings.NewReader(block))
	req.NoError(err)
	req.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Then the live TCP session receives the delivery
	req.Equal([]string{"send", "from: alice", "to: #team"}, alice.readBlock())
	req.Equal([]string{"over http"}, alice.readBlock())

	// And both history views agree
	resp, err = http.Get(restURL + "/messages/team")
	req.NoError(err)
	var groupHistory map[string][]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&groupHistory))
	resp.Body.Close()
	req.Len(groupHistory["messages"], 1)

	resp, err = http.Get(restURL + "/messages/@bob")
	req.NoError(err)
	var userHistory map[string][]string
	req.NoError(json.NewDecoder(resp.Body).Decode(&userHistory))
	resp.Body.Close()
	req.Len(userHistory["messages"], 1)

	// Sending to an unknown recipient over HTTP is a 402
	bad := "send\nfrom: alice\nto: @ghost\n\nhi\n\n"
	resp, err = http.Post(restURL+"/message", "text/plain", strings.NewReader(bad))
	req.NoError(err)
	req.Equal(http.StatusPaymentRequired, resp.StatusCode)
	resp.Body.Close()
}
