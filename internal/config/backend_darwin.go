//go:build darwin

package config

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.vidsum.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vidsum-data"
	}
	return filepath.Join(home, "Library", "Application Support", "vidsum")
}

func apiKeyHint() string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: completion_api_key)", keychainService)
}

// defaultsRunner runs the `defaults` tool and returns its combined output.
type defaultsRunner func(args ...string) ([]byte, error)

func runDefaults(args ...string) ([]byte, error) {
	return exec.Command("defaults", args...).CombinedOutput()
}

// defaultsBackend keeps non-secret keys in the com.vidsum.app user defaults
// domain under their dotted names, e.g.
//
//	defaults write com.vidsum.app server.port -int 4200
type defaultsBackend struct {
	domain string
	run    defaultsRunner
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain, run: runDefaults}
}

// missing reports whether defaults output says the key or domain is absent.
func missing(out []byte) bool {
	return bytes.Contains(out, []byte("does not exist"))
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	if err != nil {
		if missing(out) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("defaults read %s: %w: %s", key, err, bytes.TrimSpace(out))
	}
	return strings.TrimSpace(string(out)), true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

// SetString writes float keys (rate limit, temperature) with -float so
// `defaults read` shows them as numbers; everything else is a string.
func (b *defaultsBackend) SetString(key, val string) error {
	typ := "-string"
	if s, ok := specFor(key); ok && s.typ == kFloat {
		typ = "-float"
	}
	return b.write(key, typ, val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) write(key, typ, val string) error {
	if out, err := b.run("write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("defaults write %s: %w: %s", key, err, bytes.TrimSpace(out))
	}
	return nil
}

// Delete is a no-op for keys that were never written.
func (b *defaultsBackend) Delete(key string) error {
	out, err := b.run("delete", b.domain, key)
	if err != nil && !missing(out) {
		return fmt.Errorf("defaults delete %s: %w: %s", key, err, bytes.TrimSpace(out))
	}
	return nil
}
