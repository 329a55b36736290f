// Package sshtest runs a small SSH server in-process for tests. It speaks
// just enough of the protocol for password auth and "exec" requests.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Handler answers one exec request with its stdout and exit status.
type Handler func(cmd string) (stdout string, exitCode int)

// Options configures a Server.
type Options struct {
	User     string // Defaults to "hadoop"
	Password string // Defaults to "secret"

	// DropFirst closes this many incoming connections before the handshake,
	// like sshd still starting up.
	DropFirst int

	// Handler defaults to echoing "ok" with exit 0.
	Handler Handler
}

// Server is a running test server.
type Server struct {
	Addr    string
	Host    string
	Port    int
	User    string
	HostKey ssh.PublicKey

	opts     Options
	listener net.Listener
	dropped  atomic.Int32
	accepted atomic.Int32

	mu       sync.Mutex
	commands []string
	wg       sync.WaitGroup
}

// Start listens on 127.0.0.1 and stops the server when the test ends.
func Start(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.User == "" {
		opts.User = "hadoop"
	}
	if opts.Password == "" {
		opts.Password = "secret"
	}
	if opts.Handler == nil {
		opts.Handler = func(string) (string, int) { return "ok\n", 0 }
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	s := &Server{
		Addr:     ln.Addr().String(),
		Host:     addr.IP.String(),
		Port:     addr.Port,
		User:     opts.User,
		HostKey:  signer.PublicKey(),
		opts:     opts,
		listener: ln,
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == opts.User && string(pass) == opts.Password {
				return nil, nil
			}
			return nil, errBadPassword
		},
	}
	config.AddHostKey(signer)

	s.wg.Add(1)
	go s.serve(config)
	t.Cleanup(s.Close)
	return s
}

// PortString returns the port as a string.
func (s *Server) PortString() string {
	return strconv.Itoa(s.Port)
}

// Commands returns every command the server ran, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Connections returns how many connections got past the drop phase.
func (s *Server) Connections() int {
	return int(s.accepted.Load())
}

// Close stops accepting connections.
func (s *Server) Close() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) serve(config *ssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if int(s.dropped.Load()) < s.opts.DropFirst {
			s.dropped.Add(1)
			conn.Close()
			continue
		}
		s.accepted.Add(1)
		go s.handleConn(conn, config)
	}
}

func (s *Server) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		conn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only sessions")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		out, code := s.opts.Handler(payload.Command)
		_, _ = ch.Write([]byte(out))
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(code)}))
		return
	}
}

type authError string

func (e authError) Error() string { return string(e) }

const errBadPassword = authError("wrong user or password")
