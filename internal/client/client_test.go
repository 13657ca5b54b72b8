package client_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/omochice/bullscows-client/internal/client"
	"github.com/omochice/bullscows-client/internal/game"
	"github.com/omochice/bullscows-client/internal/logger"
	"github.com/omochice/bullscows-client/internal/testutil/gameserver"
)

func startClient(t *testing.T, cfg client.Config, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{client.WithLogger(logger.Discard())}, opts...)
	c := client.New(cfg, opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitNotice drains events until a notice with text arrives.
func waitNotice(t *testing.T, c *client.Client, text string) client.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-c.Events():
			if ev.Type == client.EventNotice && ev.Text == text {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for notice %q", text)
			return client.Event{}
		}
	}
}

func waitDone(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for client shutdown")
	}
}

// countingPolicy answers with the next value from answers, then false.
type countingPolicy struct {
	calls   atomic.Int32
	answers []bool
}

func (p *countingPolicy) ShouldReconnect(context.Context, error) bool {
	n := int(p.calls.Add(1))
	if n <= len(p.answers) {
		return p.answers[n-1]
	}
	return false
}

func TestClient_Session(t *testing.T) {
	srv := gameserver.Start(t)
	c := startClient(t, testConfig(srv.Addr()))
	peer := srv.Accept(t, waitTimeout)

	ev := waitNotice(t, c, "Connected! Please enter your nickname.")
	if ev.State != game.StateWaitingForNickname || !ev.InputEnabled || ev.OpponentConnected {
		t.Errorf("unexpected snapshot after connect: %+v", ev)
	}

	if err := c.Send("alice"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	peer.Expect(t, "alice", waitTimeout)

	peer.SendLine("NS")
	ev = waitNotice(t, c, "Nickname set successfully. Waiting for opponent...")
	if ev.State != game.StateInGame || ev.InputEnabled {
		t.Errorf("unexpected snapshot after nickname: %+v", ev)
	}

	peer.SendLine("SG")
	waitNotice(t, c, "The game has started!")
	if !c.OpponentConnected() {
		t.Error("expected opponent to be connected")
	}

	peer.SendLine("UT")
	waitNotice(t, c, "It's your turn!")
	if !c.InputEnabled() {
		t.Error("expected input to be enabled on our turn")
	}

	if err := c.Send("1234"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	peer.Expect(t, "G1234", waitTimeout)

	peer.SendLine("G1234B1C2")
	waitNotice(t, c, "Guess: 1234 | Bulls: 1 | Cows: 2")

	peer.SendLine("OT")
	waitNotice(t, c, "It's the opponent's turn.")
	if c.InputEnabled() {
		t.Error("expected input to be disabled on the opponent's turn")
	}

	peer.SendLine("WIN")
	waitNotice(t, c, "Congratulations! You won!")

	peer.SendLine("EG")
	ev = waitNotice(t, c, "Game over. Enter a new nickname to play again.")
	if ev.State != game.StateWaitingForNickname || !ev.InputEnabled || ev.OpponentConnected {
		t.Errorf("unexpected snapshot after end of game: %+v", ev)
	}

	if err := c.Send("alice"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	peer.Expect(t, "alice", waitTimeout)
}

func TestClient_Notices(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{token: "NIU", want: "Nickname is already in use. Please try another."},
		{token: "IG", want: "Invalid guess format. Try again..."},
		{token: "WT", want: "It's not your turn!"},
		{token: "LOST", want: "You lost. Better luck next time!"},
		{token: "HELLO", want: "Unknown message from server: HELLO"},
		{token: "G12", want: "Malformed guess response from server."},
		{token: "  UT \r", want: "It's your turn!"},
	}

	srv := gameserver.Start(t)
	c := startClient(t, testConfig(srv.Addr()))
	peer := srv.Accept(t, waitTimeout)

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			peer.SendLine(tt.token)
			waitNotice(t, c, tt.want)
		})
	}
}

func TestClient_OpponentDisconnected(t *testing.T) {
	srv := gameserver.Start(t, gameserver.WithGreeting("SC\nNS\nSG\n"))
	c := startClient(t, testConfig(srv.Addr()))
	peer := srv.Accept(t, waitTimeout)

	waitNotice(t, c, "The game has started!")
	peer.SendLine("OD")
	ev := waitNotice(t, c, "Your opponent has disconnected. Waiting for a new player.")
	if ev.State != game.StateDisconnected || ev.OpponentConnected || ev.InputEnabled {
		t.Errorf("unexpected snapshot: %+v", ev)
	}

	if err := c.Send("bob"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	peer.Expect(t, "bob", waitTimeout)
}

func TestClient_HandshakeLeftovers(t *testing.T) {
	srv := gameserver.Start(t, gameserver.WithGreeting("SC\nNS\nUT\n"))
	c := startClient(t, testConfig(srv.Addr()))

	waitNotice(t, c, "It's your turn!")
	if c.State() != game.StateInGame {
		t.Errorf("expected in_game, got %s", c.State())
	}
	if !c.InputEnabled() {
		t.Error("expected input to be enabled")
	}
}

func TestClient_Heartbeat(t *testing.T) {
	srv := gameserver.Start(t)
	cfg := testConfig(srv.Addr())
	cfg.HeartbeatInterval = 50 * time.Millisecond
	startClient(t, cfg)
	peer := srv.Accept(t, waitTimeout)

	for i := 0; i < 3; i++ {
		line, ok := peer.Next(t, waitTimeout)
		if !ok {
			t.Fatal("connection closed")
		}
		if line != "PING" {
			t.Fatalf("heartbeat %d: expected PING, got %q", i, line)
		}
	}
}

func TestClient_WrongFormatShutsDown(t *testing.T) {
	srv := gameserver.Start(t)
	policy := &countingPolicy{answers: []bool{true}}
	c := startClient(t, testConfig(srv.Addr()), client.WithReconnectPolicy(policy))
	peer := srv.Accept(t, waitTimeout)

	waitNotice(t, c, "Connected! Please enter your nickname.")
	peer.SendLine("WF")
	waitNotice(t, c, "Invalid message format. Disconnecting...")

	waitDone(t, c)
	if !errors.Is(c.Err(), client.ErrWrongFormat) {
		t.Errorf("expected ErrWrongFormat, got %v", c.Err())
	}
	if c.State() != game.StateEnded {
		t.Errorf("expected ended, got %s", c.State())
	}
	peer.WaitClosed(t, waitTimeout)

	if n := policy.calls.Load(); n != 0 {
		t.Errorf("expected no reconnect prompt, got %d", n)
	}
	if err := c.Send("x"); !errors.Is(err, client.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClient_ReconnectAfterServerClose(t *testing.T) {
	srv := gameserver.Start(t)
	policy := &countingPolicy{answers: []bool{true}}
	c := startClient(t, testConfig(srv.Addr()), client.WithReconnectPolicy(policy))
	peer := srv.Accept(t, waitTimeout)

	waitNotice(t, c, "Connected! Please enter your nickname.")
	peer.Close()

	next := srv.Accept(t, waitTimeout)
	waitNotice(t, c, "Connected! Please enter your nickname.")

	if n := policy.calls.Load(); n != 1 {
		t.Errorf("expected 1 reconnect prompt, got %d", n)
	}
	if err := c.Send("bob"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	next.Expect(t, "bob", waitTimeout)
}

func TestClient_ReconnectRetriesAfterFailure(t *testing.T) {
	srv := gameserver.Start(t)
	policy := &countingPolicy{answers: []bool{true, false}}
	c := startClient(t, testConfig(srv.Addr()), client.WithReconnectPolicy(policy))
	peer := srv.Accept(t, waitTimeout)

	waitNotice(t, c, "Connected! Please enter your nickname.")
	srv.Stop()
	peer.Close()

	waitNotice(t, c, "Unable to reconnect to the server.")
	waitDone(t, c)

	if n := policy.calls.Load(); n != 2 {
		t.Errorf("expected 2 reconnect prompts, got %d", n)
	}
	if !errors.Is(c.Err(), client.ErrAbandoned) {
		t.Errorf("expected ErrAbandoned, got %v", c.Err())
	}
	if !errors.Is(c.Err(), client.ErrConnectRefused) {
		t.Errorf("expected cause ErrConnectRefused, got %v", c.Err())
	}
}

func TestClient_AbandonReconnect(t *testing.T) {
	srv := gameserver.Start(t)
	policy := &countingPolicy{}
	c := startClient(t, testConfig(srv.Addr()), client.WithReconnectPolicy(policy))
	peer := srv.Accept(t, waitTimeout)

	waitNotice(t, c, "Connected! Please enter your nickname.")
	peer.Close()
	waitDone(t, c)

	if !errors.Is(c.Err(), client.ErrAbandoned) {
		t.Errorf("expected ErrAbandoned, got %v", c.Err())
	}
	if !errors.Is(c.Err(), client.ErrStreamClosed) {
		t.Errorf("expected cause ErrStreamClosed, got %v", c.Err())
	}
	if n := policy.calls.Load(); n != 1 {
		t.Errorf("expected 1 reconnect prompt, got %d", n)
	}
}

func TestClient_StartFailure(t *testing.T) {
	c := client.New(testConfig(closedAddr(t)), client.WithLogger(logger.Discard()))

	err := c.Start(context.Background())
	if !errors.Is(err, client.ErrConnectRefused) {
		t.Fatalf("expected ErrConnectRefused, got %v", err)
	}
	waitDone(t, c)
	if err := c.Send("x"); !errors.Is(err, client.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, client.ErrClosed) {
		t.Errorf("expected ErrClosed on restart, got %v", err)
	}
}

func TestClient_SendBeforeStart(t *testing.T) {
	c := client.New(testConfig("127.0.0.1:1"), client.WithLogger(logger.Discard()))
	defer c.Close()

	if err := c.Send("x"); !errors.Is(err, client.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_StartTwice(t *testing.T) {
	srv := gameserver.Start(t)
	c := startClient(t, testConfig(srv.Addr()))

	if err := c.Start(context.Background()); !errors.Is(err, client.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	srv := gameserver.Start(t)
	policy := &countingPolicy{answers: []bool{true}}
	c := startClient(t, testConfig(srv.Addr()), client.WithReconnectPolicy(policy))
	peer := srv.Accept(t, waitTimeout)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	waitDone(t, c)
	peer.WaitClosed(t, waitTimeout)

	if c.Err() != nil {
		t.Errorf("expected nil error after Close, got %v", c.Err())
	}
	if n := policy.calls.Load(); n != 0 {
		t.Errorf("expected no reconnect prompt after Close, got %d", n)
	}
}

func TestClient_WebSocket(t *testing.T) {
	srv := gameserver.Start(t, gameserver.WithWebSocket())
	c := startClient(t, testConfig(srv.Addr()))
	peer := srv.Accept(t, waitTimeout)

	waitNotice(t, c, "Connected! Please enter your nickname.")
	if err := c.Send("alice"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	peer.Expect(t, "alice", waitTimeout)

	peer.SendLine("NS")
	waitNotice(t, c, "Nickname set successfully. Waiting for opponent...")
}

func TestClient_CloseDuringReconnectHandshake(t *testing.T) {
	srv := gameserver.Start(t, gameserver.WithGreeting(""))
	cfg := testConfig(srv.Addr())
	cfg.HandshakeTimeout = 3 * time.Second
	c := client.New(cfg, client.WithLogger(logger.Discard()), client.WithReconnectPolicy(client.AlwaysReconnect))
	defer c.Close()

	peer := greetFirst(t, srv, func() error { return c.Start(context.Background()) })
	peer.Close()

	// The reconnect dial lands here and then waits for a greeting that
	// never comes.
	next := srv.Accept(t, waitTimeout)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	next.WaitClosed(t, time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("reconnecting connection closed %s after Close", elapsed)
	}
	waitDone(t, c)
}

func TestClient_ReconnectHandshakeTimeoutAsksAgain(t *testing.T) {
	srv := gameserver.Start(t, gameserver.WithGreeting(""))
	cfg := testConfig(srv.Addr())
	cfg.HandshakeTimeout = 200 * time.Millisecond
	policy := &countingPolicy{answers: []bool{true, false}}
	c := client.New(cfg, client.WithLogger(logger.Discard()), client.WithReconnectPolicy(policy))
	defer c.Close()

	peer := greetFirst(t, srv, func() error { return c.Start(context.Background()) })
	peer.Close()

	srv.Accept(t, waitTimeout)
	waitNotice(t, c, "Unable to reconnect to the server.")
	waitDone(t, c)

	if n := policy.calls.Load(); n != 2 {
		t.Errorf("expected 2 reconnect prompts, got %d", n)
	}
	if !errors.Is(c.Err(), client.ErrAbandoned) {
		t.Errorf("expected ErrAbandoned, got %v", c.Err())
	}
	if !errors.Is(c.Err(), client.ErrHandshakeTimeout) {
		t.Errorf("expected cause ErrHandshakeTimeout, got %v", c.Err())
	}
}
