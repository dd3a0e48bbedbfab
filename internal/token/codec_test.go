package token

import (
	"strings"
	"testing"
)

func TestNewCodecEmptySecret(t *testing.T) {
	if _, err := NewCodec(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestMintParseRoundTrip(t *testing.T) {
	codec, err := NewCodec("test-secret")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	tok, err := codec.Mint(42)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	recipientID, deliveryID, err := codec.Parse(tok)
	if err != nil {
		t.Fatalf("failed to parse token: %v", err)
	}
	if recipientID != 42 || deliveryID != 0 {
		t.Errorf("parsed (%d, %d), want (42, 0)", recipientID, deliveryID)
	}

	tok, err = codec.Mint(42, 1007)
	if err != nil {
		t.Fatalf("failed to mint token with delivery: %v", err)
	}
	recipientID, deliveryID, err = codec.Parse(tok)
	if err != nil {
		t.Fatalf("failed to parse token with delivery: %v", err)
	}
	if recipientID != 42 || deliveryID != 1007 {
		t.Errorf("parsed (%d, %d), want (42, 1007)", recipientID, deliveryID)
	}
}

func TestVerify(t *testing.T) {
	codec, err := NewCodec("test-secret")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	tok, err := codec.Mint(7)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	parts := strings.SplitN(tok, ":", 2)
	id, sig := parts[0], parts[1]

	if !codec.Verify(id, sig) {
		t.Error("genuine signature failed verification")
	}
	if codec.Verify("8", sig) {
		t.Error("signature verified against a different claimed id")
	}

	// Flip one hex digit.
	tampered := []byte(sig)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	if codec.Verify(id, string(tampered)) {
		t.Error("tampered signature passed verification")
	}

	if codec.Verify(id, "zz") {
		t.Error("non-hex signature passed verification")
	}
}

func TestVerifyAcrossSecrets(t *testing.T) {
	a, err := NewCodec("secret-a")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	b, err := NewCodec("secret-b")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	tok, err := a.Mint(5)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	parts := strings.SplitN(tok, ":", 2)
	if b.Verify(parts[0], parts[1]) {
		t.Error("token minted under one secret verified under another")
	}
}

func TestParseMalformed(t *testing.T) {
	codec, err := NewCodec("test-secret")
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	for _, tok := range []string{"", "justone", "1:2:3:4", "1:deadbeef"} {
		if _, _, err := codec.Parse(tok); err == nil {
			t.Errorf("Parse(%q) = nil error, want failure", tok)
		}
	}
}
