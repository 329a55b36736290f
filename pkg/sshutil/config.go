package sshutil

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Settings are the resolved parameters for one connection.
type Settings struct {
	Alias        string // What the caller asked for
	Hostname     string // HostName from the SSH config, or Alias
	Port         string
	User         string
	IdentityFile string

	// MatchLine is the line of the first Match block in the SSH config,
	// 0 if there is none. Entries after it are not seen.
	MatchLine int
}

// Address returns the host:port string for dialing.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Hostname, s.Port)
}

// Resolve works out where host really is. host may be an alias from the SSH
// config file, a hostname or an IP. Values from the config file win over
// opts.User and opts.Port.
func Resolve(host string, opts Options) Settings {
	s := Settings{
		Alias:        host,
		Hostname:     host,
		Port:         "22",
		User:         opts.User,
		IdentityFile: expandPath(opts.IdentityFile),
	}
	if opts.Port > 0 {
		s.Port = strconv.Itoa(opts.Port)
	}
	if s.User == "" {
		s.User = currentUser()
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(homeDir(), ".ssh", "config")
	}
	content, matchLine, err := preprocessSSHConfig(expandPath(configPath))
	if err != nil {
		// no config file is fine
		return s
	}
	s.MatchLine = matchLine

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return s
	}

	if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
		s.Hostname = hostname
	}
	if port, _ := cfg.Get(host, "Port"); port != "" {
		s.Port = port
	}
	if user, _ := cfg.Get(host, "User"); user != "" {
		s.User = user
	}
	if identity, _ := cfg.Get(host, "IdentityFile"); identity != "" && s.IdentityFile == "" {
		s.IdentityFile = expandPath(identity)
	}
	return s
}

// preprocessSSHConfig returns the config up to the first Match directive,
// which ssh_config can't parse, and the line it was found on.
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var kept []string
	matchLine := 0
	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "match ") {
			matchLine = i + 1
			break
		}
		kept = append(kept, line)
	}
	return []byte(strings.Join(kept, "\n")), matchLine, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
