// Package auth provides the credential store consumed by the chat client
// before the username handshake. Passwords are stored as bcrypt hashes and
// never travel over the chat connection.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Store is the interface for credential backends.
type Store interface {
	// Authenticate reports whether the username/password pair is valid.
	Authenticate(username, password string) (bool, error)
	// Register creates the user and returns false when the username is
	// already present.
	Register(username, password string) (bool, error)
}

// ErrEmptyCredentials rejects blank usernames or passwords before they
// reach a backend.
var ErrEmptyCredentials = errors.New("auth: username and password must not be empty")

// FileStore keeps users in a JSON file mapping username to bcrypt hash.
// The file is shared with other processes only between calls: every mutation
// happens under the store lock and is persisted atomically via a temp file
// and rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore uses path as the user file. A missing file behaves as an
// empty store and is created on the first successful registration.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Authenticate checks the stored bcrypt hash for username.
func (fs *FileStore) Authenticate(username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, ErrEmptyCredentials
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	users, err := fs.load()
	if err != nil {
		return false, err
	}
	hash, ok := users[username]
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// Register adds a new user. Returns false without error when the username
// is already taken.
func (fs *FileStore) Register(username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, ErrEmptyCredentials
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	users, err := fs.load()
	if err != nil {
		return false, err
	}
	if _, exists := users[username]; exists {
		return false, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("auth: hash password: %w", err)
	}
	users[username] = string(hash)
	if err := fs.save(users); err != nil {
		return false, err
	}
	return true, nil
}

// load must be called with the lock held.
func (fs *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read user file: %w", err)
	}
	users := map[string]string{}
	if len(data) == 0 {
		return users, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("auth: parse user file %s: %w", fs.path, err)
	}
	return users, nil
}

// save must be called with the lock held. Write-then-rename keeps the file
// intact if the process dies mid-write.
func (fs *FileStore) save(users map[string]string) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode user file: %w", err)
	}
	dir := filepath.Dir(fs.path)
	tmp, err := os.CreateTemp(dir, ".users-*")
	if err != nil {
		return fmt.Errorf("auth: create temp user file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: write user file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: close user file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return fmt.Errorf("auth: replace user file: %w", err)
	}
	return nil
}
