package auth

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client)
}

func TestRedisStoreRegisterAndAuthenticate(t *testing.T) {
	rs := newTestRedisStore(t)

	ok, err := rs.Register("alice", "s3cret")
	if err != nil || !ok {
		t.Fatalf("Register = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = rs.Authenticate("alice", "s3cret")
	if err != nil || !ok {
		t.Fatalf("Authenticate = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = rs.Authenticate("alice", "wrong")
	if err != nil || ok {
		t.Fatalf("wrong password: Authenticate = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err = rs.Authenticate("ghost", "s3cret")
	if err != nil || ok {
		t.Fatalf("unknown user: Authenticate = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRedisStoreRejectsDuplicateUsername(t *testing.T) {
	rs := newTestRedisStore(t)

	if ok, err := rs.Register("alice", "one"); err != nil || !ok {
		t.Fatalf("first Register = (%v, %v)", ok, err)
	}
	if ok, err := rs.Register("alice", "two"); err != nil || ok {
		t.Fatalf("duplicate Register = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, _ := rs.Authenticate("alice", "one"); !ok {
		t.Fatal("original credentials lost after duplicate registration attempt")
	}
}
