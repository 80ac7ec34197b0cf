package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestSessionKeys(t *testing.T) {
	receiver, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sender, err := NewKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	salt := []byte("query id")

	s1, t1, err := SessionKeys(receiver.Private, sender.Public[:], salt)
	if err != nil {
		t.Fatal(err)
	}
	s2, t2, err := SessionKeys(sender.Private, receiver.Public[:], salt)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 || t1 != t2 {
		t.Fatal("both sides must derive the same session keys")
	}
	if s1 == t1 {
		t.Error("seal and tag keys must differ")
	}

	s3, _, _ := SessionKeys(sender.Private, receiver.Public[:], []byte("another query"))
	if s3 == s1 {
		t.Error("session keys must depend on the salt")
	}
}

func TestPartSealer(t *testing.T) {
	var key [KeyLen]byte
	key[0] = 1
	s := NewPartSealer(key)
	payload := []byte("bin bundle payload")
	aad := []byte("header")

	sealed, err := s.Seal(3, aad, payload)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := s.Open(3, aad, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, payload) {
		t.Errorf("want %q, got %q", payload, opened)
	}

	if _, err := s.Open(4, aad, sealed); !errors.Is(err, ErrOpen) {
		t.Errorf("opening under another index: expected ErrOpen, got %v", err)
	}
	if _, err := s.Open(3, []byte("other"), sealed); !errors.Is(err, ErrOpen) {
		t.Errorf("opening with another header: expected ErrOpen, got %v", err)
	}
}

func TestSealLabel(t *testing.T) {
	var key, other [32]byte
	key[0], other[0] = 1, 2

	for _, label := range [][]byte{nil, []byte("1"), []byte("Label for Charlie")} {
		sealed, err := SealLabel(key, label, 20)
		if err != nil {
			t.Fatal(err)
		}
		if want := 24 + 2 + 20 + 16; len(sealed) != want {
			t.Errorf("sealed label length: want %d, got %d", want, len(sealed))
		}
		opened, err := OpenLabel(key, sealed)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(opened, label) {
			t.Errorf("want %q, got %q", label, opened)
		}
		if _, err := OpenLabel(other, sealed); !errors.Is(err, ErrOpen) {
			t.Errorf("expected ErrOpen with the wrong key, got %v", err)
		}
	}

	if _, err := SealLabel(key, []byte("too long"), 4); !errors.Is(err, ErrLabelTooLong) {
		t.Errorf("expected ErrLabelTooLong, got %v", err)
	}
	if _, err := OpenLabel(key, []byte("short")); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen on a truncated label, got %v", err)
	}
}

func TestTagger(t *testing.T) {
	var k1, k2 [32]byte
	k2[0] = 1
	item := []byte("0123456789abcdef")

	if NewTagger(k1).Tag(item) != NewTagger(k1).Tag(item) {
		t.Error("tags are not deterministic")
	}
	if NewTagger(k1).Tag(item) == NewTagger(k2).Tag(item) {
		t.Error("tags do not depend on the key")
	}
}

func TestOPRFOutput(t *testing.T) {
	var p1, p2 [EncodedLen]byte
	p2[0] = 1
	h1, k1 := OPRFOutput(p1)
	h2, k2 := OPRFOutput(p2)
	if h1 == h2 || k1 == k2 {
		t.Error("outputs of different elements collide")
	}
	h1bis, k1bis := OPRFOutput(p1)
	if h1 != h1bis || k1 != k1bis {
		t.Error("outputs are not deterministic")
	}
}
