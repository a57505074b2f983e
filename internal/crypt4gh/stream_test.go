package crypt4gh

import (
	"bytes"
	"io"
	"testing"

	"github.com/ghga-de/ghga-connector/internal/constants"
)

func encryptAll(t *testing.T, enc *Encryptor) [][]byte {
	t.Helper()
	var segments [][]byte
	for {
		seg, err := enc.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextSegment: %v", err)
		}
		segments = append(segments, seg)
	}
	return segments
}

func TestEncryptDecryptStreamRoundtrip(t *testing.T) {
	t.Parallel()

	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 5000)

	enc, err := NewEncryptor(bytes.NewReader(plaintext), sender, recipient.PublicKey)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	var ciphertext bytes.Buffer
	ciphertext.Write(enc.Header())
	for _, seg := range encryptAll(t, enc) {
		ciphertext.Write(seg)
	}

	r := bytes.NewReader(ciphertext.Bytes())
	env, err := ParseEnvelopeHeader(r, recipient)
	if err != nil {
		t.Fatalf("ParseEnvelopeHeader: %v", err)
	}

	dec, err := NewDecryptor(r, env)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}

	var decrypted bytes.Buffer
	for {
		seg, err := dec.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextSegment: %v", err)
		}
		decrypted.Write(seg)
	}

	if !bytes.Equal(decrypted.Bytes(), plaintext) {
		t.Errorf("decrypted plaintext does not match original: got %d bytes, want %d bytes", decrypted.Len(), len(plaintext))
	}
}

func TestEncryptorEmptySourceYieldsNoSegments(t *testing.T) {
	t.Parallel()

	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	enc, err := NewEncryptor(bytes.NewReader(nil), sender, recipient.PublicKey)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	if _, err := enc.NextSegment(); err != io.EOF {
		t.Errorf("expected io.EOF for an empty source, got %v", err)
	}
}

func TestEncryptorSegmentsMatchBoundary(t *testing.T) {
	t.Parallel()

	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	plaintext := bytes.Repeat([]byte{0xAB}, constants.SegmentPlaintextSize*2+100)
	enc, err := NewEncryptor(bytes.NewReader(plaintext), sender, recipient.PublicKey)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	segments := encryptAll(t, enc)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments for 2 full + 1 partial, got %d", len(segments))
	}
	if len(segments[0]) != constants.SegmentCiphertextSize {
		t.Errorf("first segment length = %d, want %d", len(segments[0]), constants.SegmentCiphertextSize)
	}
	lastWant := 12 + 100 + 16
	if len(segments[2]) != lastWant {
		t.Errorf("last segment length = %d, want %d", len(segments[2]), lastWant)
	}
}

func TestDecryptorRejectsTruncatedSegment(t *testing.T) {
	t.Parallel()

	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	recipient, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	enc, err := NewEncryptor(bytes.NewReader([]byte("hello world")), sender, recipient.PublicKey)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	seg, err := enc.NextSegment()
	if err != nil {
		t.Fatalf("NextSegment: %v", err)
	}

	env, err := ParseEnvelopeHeader(bytes.NewReader(enc.Header()), recipient)
	if err != nil {
		t.Fatalf("ParseEnvelopeHeader: %v", err)
	}

	truncated := seg[:len(seg)-5]
	dec, err := NewDecryptor(bytes.NewReader(truncated), env)
	if err != nil {
		t.Fatalf("NewDecryptor: %v", err)
	}

	if _, err := dec.NextSegment(); err == nil {
		t.Error("expected an error decrypting a truncated segment")
	}
}
