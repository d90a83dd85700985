package signal

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	dialTimeout  = time.Second
	writeTimeout = time.Second
)

// SocketPath returns the well-known path for the signal socket.
// Override with $CLIPD_SOCKET; Linux prefers $XDG_RUNTIME_DIR.
func SocketPath() string {
	if s := os.Getenv("CLIPD_SOCKET"); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "clipd.sock")
	}
	return filepath.Join(os.TempDir(), "clipd.sock")
}

// Handler receives signals posted by other processes. Called from the bus's
// read goroutine; must not block.
type Handler func(Kind)

// Bus connects a process to the machine-local signal channel over a Unix
// socket. The first process to bind the socket acts as the relay and fans
// every posted signal out to all other connected processes; later processes
// dial in as clients. Wire format is one signal name per line.
//
// The bus never guarantees delivery: a missing relay drops posts on the
// floor, which receivers already tolerate via polling catch-up.
type Bus struct {
	path string

	mu       sync.Mutex
	handler  Handler
	listener net.Listener // non-nil in relay mode
	peers    map[net.Conn]struct{}
	client   net.Conn // non-nil in client mode
	closed   bool
}

// Open attaches to the signal channel at path, invoking h for every signal
// posted by another process. Own posts are not delivered back. h may be nil;
// a receiver whose collaborators are built after the bus registers one later
// with SetHandler. Signals arriving before then are dropped, which the
// channel's loss tolerance already covers.
func Open(path string, h Handler) (*Bus, error) {
	b := &Bus{
		path:    path,
		handler: h,
		peers:   make(map[net.Conn]struct{}),
	}
	if err := b.attach(); err != nil {
		return nil, err
	}
	return b, nil
}

// SetHandler installs or replaces the signal handler.
func (b *Bus) SetHandler(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// attach binds as relay or dials as client, preferring an existing relay.
func (b *Bus) attach() error {
	if conn, err := net.DialTimeout("unix", b.path, dialTimeout); err == nil {
		b.mu.Lock()
		b.client = conn
		b.mu.Unlock()
		go b.clientReadLoop(conn)
		slog.Debug("signal bus attached as client", "socket", b.path)
		return nil
	}

	// No relay answering; remove a stale socket from a crashed run and bind.
	_ = os.Remove(b.path)
	ln, err := net.Listen("unix", b.path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()
	go b.acceptLoop(ln)
	slog.Debug("signal bus attached as relay", "socket", b.path)
	return nil
}

// Post broadcasts k to every other attached process. Fire and forget: any
// delivery failure is logged at debug and otherwise ignored.
func (b *Bus) Post(k Kind) {
	line := []byte(string(k) + "\n")

	b.mu.Lock()
	client := b.client
	var targets []net.Conn
	for c := range b.peers {
		targets = append(targets, c)
	}
	b.mu.Unlock()

	if client != nil {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := client.Write(line); err != nil {
			slog.Debug("signal post failed", "kind", k, "err", err)
		}
		return
	}
	// Relay mode: deliver directly to every connected peer.
	for _, c := range targets {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.Write(line); err != nil {
			slog.Debug("signal relay write failed", "kind", k, "err", err)
		}
	}
}

// Close detaches from the signal channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	ln := b.listener
	client := b.client
	peers := b.peers
	b.peers = make(map[net.Conn]struct{})
	b.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if ln != nil {
		ln.Close()
		os.Remove(b.path)
	}
	for c := range peers {
		c.Close()
	}
	return nil
}

func (b *Bus) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.peers[conn] = struct{}{}
		b.mu.Unlock()
		go b.relayReadLoop(conn)
	}
}

// relayReadLoop consumes signals from one client, delivering them to the
// relay's own handler and to every other client.
func (b *Bus) relayReadLoop(conn net.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.peers, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		k := Kind(strings.TrimSpace(line))
		if !valid(k) {
			continue
		}
		b.deliver(k)

		out := []byte(string(k) + "\n")
		b.mu.Lock()
		var others []net.Conn
		for c := range b.peers {
			if c != conn {
				others = append(others, c)
			}
		}
		b.mu.Unlock()
		for _, c := range others {
			c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.Write(out); err != nil {
				slog.Debug("signal relay write failed", "kind", k, "err", err)
			}
		}
	}
}

// clientReadLoop consumes signals relayed to this client. If the relay goes
// away the bus re-attaches — possibly becoming the new relay itself.
func (b *Bus) clientReadLoop(conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			conn.Close()
			b.mu.Lock()
			closed := b.closed
			if b.client == conn {
				b.client = nil
			}
			b.mu.Unlock()
			if !closed {
				b.reattach()
			}
			return
		}
		k := Kind(strings.TrimSpace(line))
		if valid(k) {
			b.deliver(k)
		}
	}
}

// reattach retries attach with backoff until it succeeds or the bus closes.
func (b *Bus) reattach() {
	for {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		if err := b.attach(); err == nil {
			return
		} else if !errors.Is(err, os.ErrNotExist) {
			slog.Debug("signal bus reattach failed", "err", err)
		}
		time.Sleep(time.Second)
	}
}

func (b *Bus) deliver(k Kind) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h != nil {
		h(k)
	}
}
