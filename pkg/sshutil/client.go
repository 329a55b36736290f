package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rileyhilliard/vmctl/internal/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Host key policies. They match provision.host_key_policy.
const (
	// AcceptNew records the key of a host seen for the first time and
	// rejects a host whose key changed.
	AcceptNew = "accept-new"
	// Strict only accepts hosts already in known_hosts.
	Strict = "strict"
	// Off skips verification.
	Off = "off"
)

// DefaultTimeout bounds the TCP connect plus the SSH handshake.
const DefaultTimeout = 10 * time.Second

// Options controls how a host is resolved, authenticated and verified.
type Options struct {
	ConfigPath   string // SSH config file; empty means ~/.ssh/config
	User         string // Used when the SSH config has no User for the host
	Port         int    // Used when the SSH config has no Port for the host
	Password     string // Tried after keys when set
	IdentityFile string // Tried before the default keys

	KnownHosts    string // Empty means ~/.ssh/known_hosts
	HostKeyPolicy string // AcceptNew when empty
	Timeout       time.Duration
}

// Client wraps an SSH connection with the host it was opened for.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)
}

// Dial connects to host. The host can be an SSH config alias, a hostname or
// an IP; settings from the SSH config file are applied first.
func Dial(ctx context.Context, host string, opts Options) (*Client, error) {
	settings := Resolve(host, opts)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	auth, closeAgent, err := buildAuth(settings, opts)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	hostKeys, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            settings.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	address := settings.Address()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("Can't reach '%s' at %s", host, address),
			suggestionForDialError(err))
	}

	// the handshake has no context of its own
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()

		var mismatch *HostKeyMismatchError
		if stderrors.As(err, &mismatch) {
			return nil, errors.New(errors.ErrTransport, mismatch.Error(), mismatch.Suggestion())
		}
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("SSH handshake with '%s' didn't go through", host),
			suggestionForHandshakeError(err))
	}
	_ = conn.SetDeadline(time.Time{})

	return &Client{
		Client:  ssh.NewClient(sshConn, chans, reqs),
		Host:    host,
		Address: address,
	}, nil
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	if c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// buildAuth collects auth methods in the order ssh tries them: agent, the
// configured identity, the default keys, then the password. The returned
// func closes the agent connection once the handshake is over.
func buildAuth(settings Settings, opts Options) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		if conn, err := net.Dial("unix", socket); err == nil {
			client := agent.NewClient(conn)
			// an empty agent makes servers give up before the other methods
			if signers, err := client.Signers(); err == nil && len(signers) > 0 {
				methods = append(methods, ssh.PublicKeysCallback(client.Signers))
				closeAgent = func() { conn.Close() }
			} else {
				conn.Close()
			}
		}
	}

	var signers []ssh.Signer
	var encrypted []string
	tryKey := func(path string) {
		signer, err := loadKey(path)
		if err != nil {
			var encErr *EncryptedKeyError
			if stderrors.As(err, &encErr) {
				encrypted = append(encrypted, path)
			}
			return
		}
		signers = append(signers, signer)
	}

	if settings.IdentityFile != "" {
		tryKey(settings.IdentityFile)
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(homeDir(), ".ssh", name)
		if path != settings.IdentityFile {
			tryKey(path)
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}

	if len(methods) == 0 {
		msg := "No SSH auth methods available"
		suggestion := "Load a key into the agent (ssh-add), set provision.identity_file, or set VMCTL_PROVISION_PASSWORD"
		if len(encrypted) > 0 {
			msg = fmt.Sprintf("Found SSH key(s) but they're encrypted: %s", strings.Join(encrypted, ", "))
			suggestion = "Add them to the agent: ssh-add " + strings.Join(encrypted, " ")
		}
		closeAgent()
		return nil, func() {}, errors.New(errors.ErrConfig, msg, suggestion)
	}
	return methods, closeAgent, nil
}

// loadKey parses a private key file. An encrypted key gives EncryptedKeyError.
func loadKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || bytes.Contains(key, []byte("ENCRYPTED")) {
			return nil, &EncryptedKeyError{Path: path}
		}
		return nil, err
	}
	return signer, nil
}

// knownHostsMu serializes appends to known_hosts across concurrent dials.
var knownHostsMu sync.Mutex

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	policy := opts.HostKeyPolicy
	if policy == "" {
		policy = AcceptNew
	}
	if policy == Off {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicitly disabled in the config
	}

	path := expandPath(opts.KnownHosts)
	if path == "" {
		path = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	if err := ensureFile(path); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't open known_hosts at "+path,
			"Check permissions, or set provision.known_hosts")
	}

	knownHostsMu.Lock()
	check, err := knownhosts.New(path)
	knownHostsMu.Unlock()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't parse known_hosts at "+path,
			"Fix or remove the broken line")
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if err == nil || !stderrors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Hostname:     hostname,
				ReceivedType: key.Type(),
				KnownHosts:   path,
				Want:         keyErr.Want,
			}
		}
		if policy == Strict {
			return fmt.Errorf("host %s is not in %s: %w", hostname, path, err)
		}
		return appendKnownHost(path, hostname, key)
	}, nil
}

func appendKnownHost(path, hostname string, key ssh.PublicKey) error {
	knownHostsMu.Lock()
	defer knownHostsMu.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key))
	return err
}

func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is sshd running on the VM yet? It may still be booting."
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the VM. Check provision.host and the VM network."
	}
	if strings.Contains(errStr, "timeout") {
		return "Connection timed out. The VM might still be booting or blocked by a firewall."
	}
	return "Make sure the VM is running and reachable: vmctl list"
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Auth failed. Check provision.user and your keys (ssh-add -l) or VMCTL_PROVISION_PASSWORD"
	}
	if strings.Contains(errStr, "not in") {
		return "The host key is unknown. Use host_key_policy: accept-new, or add it with ssh-keyscan"
	}
	return "Something went wrong during SSH setup. Try: ssh <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError means a host presented a key other than the one on
// record, e.g. after a VM was deleted and recreated under the same address.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion tells the user how to forget the old key.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return fmt.Sprintf("If the VM was recreated, forget the old key:\n    ssh-keygen -R %s -f %s", host, e.KnownHosts)
}
