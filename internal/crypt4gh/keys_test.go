package crypt4gh

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateKeyPairProducesDistinctKeys(t *testing.T) {
	t.Parallel()

	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	if a.PrivateKey == b.PrivateKey {
		t.Error("two generated key pairs had the same private key")
	}
}

func TestDerivePublicKeyMatchesGeneratedPair(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	derived, err := DerivePublicKey(pair.PrivateKey)
	if err != nil {
		t.Fatalf("DerivePublicKey: %v", err)
	}

	if derived != pair.PublicKey {
		t.Errorf("derived public key %x does not match generated public key %x", derived, pair.PublicKey)
	}
}

func TestPublicKeyFileRoundtrip(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.pub")
	if err := WritePublicKeyFile(path, pair.PublicKey); err != nil {
		t.Fatalf("WritePublicKeyFile: %v", err)
	}

	got, err := LoadPublicKey(path)
	if err != nil {
		t.Fatalf("LoadPublicKey: %v", err)
	}
	if got != pair.PublicKey {
		t.Errorf("loaded public key %x does not match written key %x", got, pair.PublicKey)
	}
}

func TestPrivateKeyFileRoundtripWithoutPassphrase(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.sec")
	if err := WritePrivateKeyFile(path, pair.PrivateKey, ""); err != nil {
		t.Fatalf("WritePrivateKeyFile: %v", err)
	}

	got, err := LoadPrivateKey(path, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if got != pair.PrivateKey {
		t.Errorf("loaded private key %x does not match written key %x", got, pair.PrivateKey)
	}
}

func TestPrivateKeyFileRoundtripWithPassphrase(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.sec")
	if err := WritePrivateKeyFile(path, pair.PrivateKey, "correct horse battery staple"); err != nil {
		t.Fatalf("WritePrivateKeyFile: %v", err)
	}

	prompt := func(string) (string, error) { return "correct horse battery staple", nil }
	got, err := LoadPrivateKey(path, prompt)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if got != pair.PrivateKey {
		t.Errorf("loaded private key %x does not match written key %x", got, pair.PrivateKey)
	}
}

func TestLoadPrivateKeyWrongPassphraseFails(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.sec")
	if err := WritePrivateKeyFile(path, pair.PrivateKey, "right passphrase"); err != nil {
		t.Fatalf("WritePrivateKeyFile: %v", err)
	}

	prompt := func(string) (string, error) { return "wrong passphrase", nil }
	if _, err := LoadPrivateKey(path, prompt); err == nil {
		t.Error("expected an error decrypting with the wrong passphrase")
	}
}

func TestLoadPrivateKeyMissingPromptOnEncryptedFile(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	path := filepath.Join(t.TempDir(), "key.sec")
	if err := WritePrivateKeyFile(path, pair.PrivateKey, "some passphrase"); err != nil {
		t.Fatalf("WritePrivateKeyFile: %v", err)
	}

	if _, err := LoadPrivateKey(path, nil); err == nil {
		t.Error("expected an error when no prompt is available for an encrypted key")
	}
}

func TestLoadPublicKeyRejectsNonPEMFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "not-pem.txt")
	if err := os.WriteFile(path, []byte("not a pem file"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := LoadPublicKey(path); err == nil {
		t.Error("expected an error loading a non-PEM file as a public key")
	}
}

func TestDecodeBase64PublicKeyAcceptsBothAlphabets(t *testing.T) {
	t.Parallel()

	pair, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	stdEncoded := base64.StdEncoding.EncodeToString(pair.PublicKey[:])
	got, err := DecodeBase64PublicKey(stdEncoded)
	if err != nil {
		t.Fatalf("DecodeBase64PublicKey (std): %v", err)
	}
	if !bytes.Equal(got[:], pair.PublicKey[:]) {
		t.Error("decoded key does not match original (standard base64)")
	}

	urlEncoded := base64.URLEncoding.EncodeToString(pair.PublicKey[:])
	got, err = DecodeBase64PublicKey(urlEncoded)
	if err != nil {
		t.Fatalf("DecodeBase64PublicKey (url): %v", err)
	}
	if !bytes.Equal(got[:], pair.PublicKey[:]) {
		t.Error("decoded key does not match original (URL-safe base64)")
	}
}
