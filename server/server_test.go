// Copyright (c) 2026 by Marko Gaćeša

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/marko-gacesa/udprate/udp"
	"github.com/marko-gacesa/udprate/wire"
)

func TestServer_AdmissionCap(t *testing.T) {
	sock := udp.NewMemSocket()

	peers := []*net.UDPAddr{
		{IP: net.IPv4(10, 0, 0, 1), Port: 1001},
		{IP: net.IPv4(10, 0, 0, 2), Port: 1002},
		{IP: net.IPv4(10, 0, 0, 3), Port: 1003},
	}

	for _, peer := range peers {
		sock.PreloadFrom(datagram(1, 64), peer)
	}

	// the first two are admitted, so their later traffic is served, the third peer's is not
	sock.PreloadFrom(datagram(2, 64), peers[0])
	sock.PreloadFrom(datagram(2, 64), peers[2])

	s := newTestServer(t, sock, Config{MaxClients: 2})
	runUntilDrained(t, s, sock)

	counters := s.Stats()

	if want, got := uint64(3), counters.Recv(); want != got {
		t.Errorf("recv: want=%d, got=%d", want, got)
	}
	if want, got := uint64(3*64), counters.RxBytes(); want != got {
		t.Errorf("rx bytes: want=%d, got=%d", want, got)
	}
	if want, got := 2, counters.UniqueClients(); want != got {
		t.Errorf("unique clients: want=%d, got=%d", want, got)
	}
	if want, got := 2, s.Admitted(); want != got {
		t.Errorf("admitted: want=%d, got=%d", want, got)
	}
}

func TestServer_AdmissionCapOneEach(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			sock := udp.NewMemSocket()
			for _, i := range order {
				sock.PreloadFrom(datagram(1, 32), &net.UDPAddr{IP: net.IPv4(192, 168, 0, byte(i+1)), Port: 7000})
			}

			s := newTestServer(t, sock, Config{MaxClients: 2, Batch: 1})
			runUntilDrained(t, s, sock)

			counters := s.Stats()
			if want, got := uint64(2), counters.Recv(); want != got {
				t.Errorf("recv: want=%d, got=%d", want, got)
			}
			if want, got := uint64(2*32), counters.RxBytes(); want != got {
				t.Errorf("rx bytes: want=%d, got=%d", want, got)
			}
			if want, got := 2, counters.UniqueClients(); want != got {
				t.Errorf("unique clients: want=%d, got=%d", want, got)
			}
		})
	}
}

func TestServer_AdmissionNeverExceedsCap(t *testing.T) {
	const maxClients = 5

	sock := udp.NewMemSocket()
	s := newTestServer(t, sock, Config{MaxClients: maxClients, Batch: 4})

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}
	defer s.Stop()

	for i := range 100 {
		sock.PreloadFrom(datagram(uint64(i), 20), &net.UDPAddr{IP: net.IPv4(10, 1, byte(i/250), byte(i%250)), Port: 4000 + i})
		if admitted := s.Admitted(); admitted > maxClients {
			t.Fatalf("admitted %d clients, cap is %d", admitted, maxClients)
		}
	}

	waitFor(t, func() bool { return sock.Pending() == 0 })
	s.Stop()

	if want, got := maxClients, s.Admitted(); want != got {
		t.Errorf("admitted: want=%d, got=%d", want, got)
	}
	if want, got := uint64(maxClients), s.Stats().Recv(); want != got {
		t.Errorf("recv: want=%d, got=%d", want, got)
	}
}

func TestServer_DegradedBypassesAdmission(t *testing.T) {
	sock := udp.NewMemSocket()

	const count = 10
	for i := range count {
		sock.Preload(datagram(uint64(i), 40))
	}

	s := newTestServer(t, sock, Config{MaxClients: 1, Echo: true})
	runUntilDrained(t, s, sock)

	counters := s.Stats()

	if want, got := uint64(count), counters.Recv(); want != got {
		t.Errorf("recv: want=%d, got=%d", want, got)
	}
	if want, got := uint64(count*40), counters.RxBytes(); want != got {
		t.Errorf("rx bytes: want=%d, got=%d", want, got)
	}
	if want, got := 0, counters.UniqueClients(); want != got {
		t.Errorf("unique clients: want=%d, got=%d", want, got)
	}

	// nowhere to echo to
	if want, got := 0, sock.SentCount(); want != got {
		t.Errorf("echoed: want=%d, got=%d", want, got)
	}
	if want, got := uint64(0), counters.Sent(); want != got {
		t.Errorf("sent: want=%d, got=%d", want, got)
	}
}

func TestServer_Echo(t *testing.T) {
	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}

	tests := []struct {
		name     string
		limit    int
		expSent  uint64
		expBytes uint64
	}{
		{name: "full", limit: -1, expSent: 3, expBytes: 3 * 30},
		{name: "partial", limit: 2, expSent: 2, expBytes: 2 * 30},
		{name: "none", limit: 0, expSent: 0, expBytes: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sock := udp.NewMemSocket()
			sock.SetSendLimit(test.limit)

			var sent [][]byte
			for i := range 3 {
				data := datagram(uint64(i+1), 30)
				sent = append(sent, data)
				sock.PreloadFrom(data, peer)
			}

			s := newTestServer(t, sock, Config{Echo: true})
			runUntilDrained(t, s, sock)

			counters := s.Stats()
			if want, got := test.expSent, counters.Sent(); want != got {
				t.Errorf("sent: want=%d, got=%d", want, got)
			}
			if want, got := test.expBytes, counters.TxBytes(); want != got {
				t.Errorf("tx bytes: want=%d, got=%d", want, got)
			}

			echoed := sock.Sent()
			if want, got := int(test.expSent), len(echoed); want != got {
				t.Fatalf("echoed: want=%d, got=%d", want, got)
			}
			for i := range echoed {
				if want, got := string(sent[i]), string(echoed[i].Payload()); want != got {
					t.Errorf("echo %d: payload mismatch", i)
				}
				if want, got := peer.String(), echoed[i].Addr.String(); want != got {
					t.Errorf("echo %d: want=%s, got=%s", i, want, got)
				}
			}
		})
	}
}

func TestServer_StartStopIdempotent(t *testing.T) {
	sock := udp.NewMemSocket()
	s := newTestServer(t, sock, Config{})

	if want, got := StateIdle, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}

	for range 2 {
		if err := s.Start(); err != nil {
			t.Fatalf("failed to start: %s", err.Error())
		}
		if want, got := StateRunning, s.State(); want != got {
			t.Errorf("state: want=%s, got=%s", want, got)
		}
	}

	sock.PreloadFrom(datagram(1, 20), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 9})
	waitFor(t, func() bool { return s.Stats().Recv() == 1 })

	before := s.Stats().Snapshot()

	for range 2 {
		s.Stop()
		if want, got := StateStopped, s.State(); want != got {
			t.Errorf("state: want=%s, got=%s", want, got)
		}
	}

	// a stopped server stays stopped
	if err := s.Start(); err != nil {
		t.Fatalf("start of a stopped server: %s", err.Error())
	}
	if want, got := StateStopped, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}

	after := s.Stats().Snapshot()
	if after.Recv < before.Recv || after.RxBytes < before.RxBytes || after.UniqueClients < before.UniqueClients {
		t.Errorf("counters decreased: before=%+v after=%+v", before, after)
	}

	if err := s.Close(); err != nil {
		t.Errorf("failed to close: %s", err.Error())
	}
}

func TestServer_StopBeforeStart(t *testing.T) {
	sock := udp.NewMemSocket()
	s := newTestServer(t, sock, Config{})

	s.Stop()
	if want, got := StateIdle, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}

	// the server is still usable
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}
	if want, got := StateRunning, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}

	sock.PreloadFrom(datagram(1, 20), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 3), Port: 3})
	waitFor(t, func() bool { return s.Stats().Recv() == 1 })

	s.Stop()
	if want, got := StateStopped, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}
}

func TestServer_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sock := udp.NewMemSocket()

	s, err := New(ctx, sock, Config{}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("failed to create server: %s", err.Error())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}

	cancel()

	// the worker notices the cancellation without Stop
	waitFor(t, func() bool { return s.State() == StateStopped })

	// the worker has already exited, so this must not block
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked after the context was canceled")
	}

	if want, got := StateStopped, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	sock := udp.NewMemSocket()
	s := newTestServer(t, sock, Config{MetricsPort: freePort(t)})

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}

	addr := s.Exporter().Addr()
	if addr == nil {
		t.Fatalf("expected a running metrics endpoint")
	}

	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 4), Port: 4}
	sock.PreloadFrom(datagram(1, 30), peer)
	sock.PreloadFrom(datagram(2, 30), peer)
	waitFor(t, func() bool { return s.Stats().Recv() == 2 })

	url := "http://" + addr.String() + "/metrics"

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("request failed: %s", err.Error())
	}

	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Errorf("status: want=%d, got=%d", want, got)
	}
	for _, str := range []string{
		"udp_packets_received_total 2",
		"udp_unique_clients 1",
		"udp_rx_bytes_total 60",
	} {
		if !strings.Contains(string(body), str) {
			t.Errorf("expected %q in:\n%s", str, body)
		}
	}

	s.Stop()

	if s.Exporter().Addr() != nil {
		t.Errorf("expected the metrics endpoint to stop with the server")
	}

	client := http.Client{Timeout: time.Second}
	if resp, err := client.Get(url); err == nil {
		_ = resp.Body.Close()
		t.Errorf("expected the metrics endpoint to be gone")
	}

	if err := s.Close(); err != nil {
		t.Errorf("failed to close: %s", err.Error())
	}
}

func TestServer_HardErrorsAreAbsorbed(t *testing.T) {
	sock := udp.NewMemSocket()
	sock.SetRecvError(errors.New("device on fire"))

	s := newTestServer(t, sock, Config{})
	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}
	defer s.Stop()

	time.Sleep(10 * time.Millisecond)
	if want, got := StateRunning, s.State(); want != got {
		t.Errorf("state: want=%s, got=%s", want, got)
	}

	sock.SetRecvError(nil)
	sock.PreloadFrom(datagram(1, 25), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1})

	waitFor(t, func() bool { return s.Stats().Recv() == 1 })
}

func TestServer_Rate(t *testing.T) {
	mock := clock.NewMock()
	sock := udp.NewMemSocket()

	const count = 50
	for i := range count {
		sock.PreloadFrom(datagram(uint64(i), 20), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1})
	}

	s, err := New(context.Background(), sock, Config{Verbose: true},
		WithLogger(discardLogger()),
		WithClock(mock))
	if err != nil {
		t.Fatalf("failed to create server: %s", err.Error())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}
	defer s.Stop()

	waitFor(t, func() bool { return s.Stats().Recv() == count })

	if want, got := 0.0, s.LastRate(); want != got {
		t.Errorf("rate before a full second: want=%f, got=%f", want, got)
	}

	mock.Add(time.Second)

	waitFor(t, func() bool { return s.LastRate() == count })
}

func TestServer_SetupFailure(t *testing.T) {
	errPortTaken := errors.New("port taken")

	sock := udp.NewMemSocket()
	sock.SetSetupError(errPortTaken)

	s, err := New(context.Background(), sock, Config{}, WithLogger(discardLogger()))
	if s != nil {
		t.Errorf("expected no server")
	}

	var setupErr *udp.SetupError
	if !errors.As(err, &setupErr) || !errors.Is(err, errPortTaken) {
		t.Errorf("expected setup error, got %v", err)
	}
}

func TestServer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "port", cfg: Config{Port: 70000}},
		{name: "metrics-port", cfg: Config{MetricsPort: -1}},
		{name: "batch", cfg: Config{Batch: -1}},
		{name: "max-clients", cfg: Config{MaxClients: -5}},
		{name: "buffer", cfg: Config{BufferSize: 8}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sock := udp.NewMemSocket()

			_, err := New(context.Background(), sock, test.cfg, WithLogger(discardLogger()))
			if err == nil {
				t.Errorf("expected an error")
			}

			// validation comes before binding
			if got := sock.Port(); got != 0 {
				t.Errorf("socket was bound to %d", got)
			}
		})
	}
}

func TestServer_EchoRoundTrip(t *testing.T) {
	sock := udp.NewBatchSocket(udp.WithPollTimeout(20 * time.Millisecond))

	s, err := New(context.Background(), sock, Config{Port: 0, Echo: true}, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("failed to create server: %s", err.Error())
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}

	cli := udp.NewBatchSocket(udp.WithPollTimeout(20 * time.Millisecond))
	if err := cli.Connect("127.0.0.1", sock.LocalAddr().Port); err != nil {
		t.Fatalf("failed to connect: %s", err.Error())
	}
	defer cli.Close()

	const k = 8

	out := udp.NewMessages(k, 100)
	expected := make(map[string]struct{}, k)
	for i := range out {
		out[i].N = wire.Stamp(out[i].Buf, uint64(i+1))
		out[i].N += copy(out[i].Buf[out[i].N:], fmt.Sprintf("payload %d", i))
		expected[string(out[i].Payload())] = struct{}{}
	}

	if n, err := cli.SendBatch(out, nil); err != nil || n != k {
		t.Fatalf("send: n=%d err=%v", n, err)
	}

	in := udp.NewMessages(k, 100)
	got := 0
	deadline := time.Now().Add(3 * time.Second)

	for got < k && time.Now().Before(deadline) {
		n, err := cli.RecvBatch(in)
		if err != nil {
			t.Fatalf("failed to receive: %s", err.Error())
		}
		for i := range n {
			payload := string(in[i].Payload())
			if _, ok := expected[payload]; !ok {
				t.Errorf("unexpected echo: %q", payload)
				continue
			}
			delete(expected, payload)
			got++
		}
	}

	if got != k {
		t.Fatalf("echoes: want=%d, got=%d", k, got)
	}

	waitFor(t, func() bool { return s.Stats().Sent() == k })

	if want, got := uint64(k), s.Stats().Recv(); want != got {
		t.Errorf("recv: want=%d, got=%d", want, got)
	}
	if want, got := s.Stats().RxBytes(), s.Stats().TxBytes(); want != got {
		t.Errorf("tx bytes: want=%d, got=%d", want, got)
	}
	if want, got := 1, s.Stats().UniqueClients(); want != got {
		t.Errorf("unique clients: want=%d, got=%d", want, got)
	}
}

func newTestServer(t *testing.T, sock udp.Socket, cfg Config) *Server {
	t.Helper()

	s, err := New(context.Background(), sock, cfg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("failed to create server: %s", err.Error())
	}

	return s
}

// runUntilDrained runs the server until the socket has no preloaded datagrams left.
// Stop waits for the worker, so everything received has been counted when it returns.
func runUntilDrained(t *testing.T, s *Server, sock *udp.MemSocket) {
	t.Helper()

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %s", err.Error())
	}

	waitFor(t, func() bool { return sock.Pending() == 0 })

	s.Stop()
}

// freePort returns a TCP port that was free on the loopback interface a moment ago.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %s", err.Error())
	}
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

func datagram(seq uint64, size int) []byte {
	buf := make([]byte, max(size, wire.HeaderSize))
	wire.Stamp(buf, seq)
	for i := wire.HeaderSize; i < len(buf); i++ {
		buf[i] = byte(seq + uint64(i))
	}
	return buf
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
