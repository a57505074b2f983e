package crypt4gh

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestChecksumsPlaintextDigest(t *testing.T) {
	t.Parallel()

	c := NewChecksums()
	c.UpdatePlaintext([]byte("hello "))
	c.UpdatePlaintext([]byte("world"))

	want := sha256.Sum256([]byte("hello world"))
	if got := c.PlaintextSHA256(); got != hex.EncodeToString(want[:]) {
		t.Errorf("PlaintextSHA256 = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestChecksumsPerPartDigestsResetBetweenParts(t *testing.T) {
	t.Parallel()

	c := NewChecksums()
	if !c.EncryptedIsEmpty() {
		t.Fatal("expected EncryptedIsEmpty to be true before any part finishes")
	}

	c.UpdatePart([]byte("part one"))
	c.FinishPart()

	c.UpdatePart([]byte("part two"))
	c.FinishPart()

	if c.EncryptedIsEmpty() {
		t.Fatal("expected EncryptedIsEmpty to be false after parts finished")
	}

	md5Sums := c.PartMD5Sums()
	sha256Sums := c.PartSHA256Sums()
	if len(md5Sums) != 2 || len(sha256Sums) != 2 {
		t.Fatalf("expected 2 part digests each, got %d md5 and %d sha256", len(md5Sums), len(sha256Sums))
	}
	if md5Sums[0] == md5Sums[1] {
		t.Error("distinct part contents produced identical MD5 digests")
	}
	if sha256Sums[0] == sha256Sums[1] {
		t.Error("distinct part contents produced identical SHA-256 digests")
	}

	wantSHA := sha256.Sum256([]byte("part one"))
	if sha256Sums[0] != hex.EncodeToString(wantSHA[:]) {
		t.Errorf("first part SHA-256 = %s, want %s", sha256Sums[0], hex.EncodeToString(wantSHA[:]))
	}
}

func TestChecksumsEncryptedDigestSpansAllParts(t *testing.T) {
	t.Parallel()

	c := NewChecksums()
	c.UpdatePart([]byte("part one"))
	c.FinishPart()
	c.UpdatePart([]byte("part two"))
	c.FinishPart()

	want := sha256.Sum256([]byte("part onepart two"))
	if got := c.EncryptedSHA256(); got != hex.EncodeToString(want[:]) {
		t.Errorf("EncryptedSHA256 = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}
