//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "vidsum-secrets.json")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "vidsum", "secrets.json")
}

// secretsFile stands in for a keychain on platforms without one: a 0600
// JSON file of service -> account -> secret.
type secretsFile string

func (f secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, err
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f, err)
	}
	return secrets, nil
}

func (f secretsFile) get(service, account string) ([]byte, error) {
	secrets, err := f.read()
	if err != nil {
		return nil, err
	}
	val, ok := secrets[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret for %s/%s: %w", service, account, fs.ErrNotExist)
	}
	return []byte(val), nil
}

func (f secretsFile) set(service, account, value string) error {
	secrets, err := f.read()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		secrets = make(map[string]map[string]string)
	case err != nil:
		// Do not clobber a file we could not parse.
		return err
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	if err := os.MkdirAll(filepath.Dir(string(f)), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(string(f), out, 0o600)
}

func keychainGet(service, account string) ([]byte, error) {
	return secretsFile(secretsFilePath()).get(service, account)
}

func keychainSet(service, account, value string) error {
	return secretsFile(secretsFilePath()).set(service, account, value)
}
