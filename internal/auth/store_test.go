package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	return NewFileStore(path), path
}

func TestFileStoreRegisterAndAuthenticate(t *testing.T) {
	fs, _ := newTestFileStore(t)

	ok, err := fs.Register("alice", "s3cret")
	if err != nil || !ok {
		t.Fatalf("Register = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = fs.Authenticate("alice", "s3cret")
	if err != nil || !ok {
		t.Fatalf("Authenticate = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = fs.Authenticate("alice", "wrong")
	if err != nil || ok {
		t.Fatalf("wrong password: Authenticate = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = fs.Authenticate("nobody", "s3cret")
	if err != nil || ok {
		t.Fatalf("unknown user: Authenticate = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestFileStoreRejectsDuplicateUsername(t *testing.T) {
	fs, _ := newTestFileStore(t)

	if ok, err := fs.Register("alice", "one"); err != nil || !ok {
		t.Fatalf("first Register = (%v, %v)", ok, err)
	}
	if ok, err := fs.Register("alice", "two"); err != nil || ok {
		t.Fatalf("duplicate Register = (%v, %v), want (false, nil)", ok, err)
	}

	// The original password must still work.
	if ok, _ := fs.Authenticate("alice", "one"); !ok {
		t.Fatal("original credentials lost after duplicate registration attempt")
	}
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	fs, path := newTestFileStore(t)

	ok, err := fs.Authenticate("anyone", "pw")
	if err != nil || ok {
		t.Fatalf("Authenticate on missing file = (%v, %v), want (false, nil)", ok, err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("Authenticate must not create the user file")
	}
}

func TestFileStoreNeverPersistsPlaintext(t *testing.T) {
	fs, path := newTestFileStore(t)

	if ok, err := fs.Register("alice", "hunter2-plaintext"); err != nil || !ok {
		t.Fatalf("Register = (%v, %v)", ok, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read user file: %v", err)
	}
	if strings.Contains(string(data), "hunter2-plaintext") {
		t.Fatal("user file contains the plaintext password")
	}
	var users map[string]string
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatalf("user file is not valid JSON: %v", err)
	}
	if !strings.HasPrefix(users["alice"], "$2") {
		t.Errorf("stored hash %q does not look like bcrypt", users["alice"])
	}
}

func TestFileStoreRejectsEmptyCredentials(t *testing.T) {
	fs, _ := newTestFileStore(t)

	if _, err := fs.Register("", "pw"); !errors.Is(err, ErrEmptyCredentials) {
		t.Errorf("Register with empty username: %v", err)
	}
	if _, err := fs.Authenticate("alice", ""); !errors.Is(err, ErrEmptyCredentials) {
		t.Errorf("Authenticate with empty password: %v", err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	fs, path := newTestFileStore(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Authenticate("alice", "pw"); err == nil {
		t.Fatal("expected an error for a corrupt user file")
	}
}
