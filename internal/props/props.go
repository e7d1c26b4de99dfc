// Package props reads the game server's server.properties file: plain
// key=value lines with # comments, written by the server itself on first run.
package props

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// DefaultPort is the game default when server.properties is absent or
	// carries no server-port entry.
	DefaultPort = 25565
	// DefaultMaxPlayers mirrors the server's own default.
	DefaultMaxPlayers = 20
)

// ResolveServerPort returns the configured game port for the instance
// directory, or DefaultPort when unreadable or unset.
func ResolveServerPort(dir string) int {
	if v, ok := lookup(dir, "server-port"); ok {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			return p
		}
	}
	return DefaultPort
}

// ExtractMaxPlayers returns the configured max player count, or
// DefaultMaxPlayers when unreadable or unset.
func ExtractMaxPlayers(dir string) int {
	if v, ok := lookup(dir, "max-players"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxPlayers
}

// EulaAccepted reports whether eula.txt exists with eula=true.
func EulaAccepted(dir string) bool {
	f, err := os.Open(filepath.Join(dir, "eula.txt"))
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := splitLine(sc.Text())
		if ok && k == "eula" {
			return strings.EqualFold(v, "true")
		}
	}
	return false
}

func lookup(dir, key string) (string, bool) {
	f, err := os.Open(filepath.Join(dir, "server.properties"))
	if err != nil {
		return "", false
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		k, v, ok := splitLine(sc.Text())
		if ok && k == key {
			return v, true
		}
	}
	return "", false
}

func splitLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return "", "", false
	}
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}
