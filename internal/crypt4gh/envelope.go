package crypt4gh

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"

	"github.com/ghga-de/ghga-connector/internal/constants"
)

// Envelope is a parsed Crypt4GH container header: the magic/version
// preamble plus the decrypted session keys recovered from its packets.
type Envelope struct {
	// SessionKeys are the per-segment ChaCha20-Poly1305 keys recovered
	// from the header's data_enc packets, in the order they appeared.
	SessionKeys [][32]byte

	// HeaderLength is the byte length of the serialized header,
	// i.e. where the ciphertext segment stream begins.
	HeaderLength int
}

const (
	packetTypeDataEnc = uint32(0)
)

// BuildEnvelopeHeader constructs a Crypt4GH header containing a single
// data_enc packet carrying sessionKey, encrypted to recipientPublicKey
// using the sender's key pair.
func BuildEnvelopeHeader(sender *KeyPair, recipientPublicKey [32]byte, sessionKey [32]byte) ([]byte, error) {
	packetPlain := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(packetPlain[0:4], packetTypeDataEnc)
	copy(packetPlain[4:], sessionKey[:])

	sealed, err := sealPacket(sender, recipientPublicKey, packetPlain)
	if err != nil {
		return nil, fmt.Errorf("sealing header packet: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(constants.Crypt4GHMagic[:])

	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], constants.Crypt4GHVersion)
	buf.Write(versionBuf[:])

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], 1)
	buf.Write(countBuf[:])

	packetLen := uint32(4 + len(sealed))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], packetLen)
	buf.Write(lenBuf[:])
	buf.Write(sealed)

	return buf.Bytes(), nil
}

// ParseEnvelopeHeader reads and decrypts a Crypt4GH container header from
// r using recipient's private key, returning the recovered session keys
// and the byte offset where ciphertext segments begin.
func ParseEnvelopeHeader(r io.Reader, recipient *KeyPair) (*Envelope, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading magic bytes: %w", err)
	}
	if magic != constants.Crypt4GHMagic {
		return nil, fmt.Errorf("not a Crypt4GH container: bad magic bytes")
	}
	headerLen := 8

	var versionBuf [4]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	headerLen += 4
	version := binary.LittleEndian.Uint32(versionBuf[:])
	if version != constants.Crypt4GHVersion {
		return nil, fmt.Errorf("unsupported Crypt4GH version %d", version)
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("reading packet count: %w", err)
	}
	headerLen += 4
	count := binary.LittleEndian.Uint32(countBuf[:])

	env := &Envelope{}

	for i := uint32(0); i < count; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("reading packet %d length: %w", i, err)
		}
		headerLen += 4
		packetLen := binary.LittleEndian.Uint32(lenBuf[:])
		if packetLen < 4 {
			return nil, fmt.Errorf("packet %d has invalid length %d", i, packetLen)
		}

		sealed := make([]byte, packetLen-4)
		if _, err := io.ReadFull(r, sealed); err != nil {
			return nil, fmt.Errorf("reading packet %d body: %w", i, err)
		}
		headerLen += len(sealed)

		plain, err := openPacket(recipient, sealed)
		if err != nil {
			return nil, fmt.Errorf("decrypting packet %d: %w", i, err)
		}

		if len(plain) < 4 {
			return nil, fmt.Errorf("packet %d has truncated type field", i)
		}
		packetType := binary.LittleEndian.Uint32(plain[0:4])
		if packetType != packetTypeDataEnc {
			continue
		}
		if len(plain) != 4+32 {
			return nil, fmt.Errorf("data_enc packet %d has unexpected length %d", i, len(plain))
		}

		var key [32]byte
		copy(key[:], plain[4:])
		env.SessionKeys = append(env.SessionKeys, key)
	}

	env.HeaderLength = headerLen
	return env, nil
}

// IsFileEncrypted reports whether the file at path already starts with a
// Crypt4GH magic string and version, the same check used to reject
// re-encrypting an already-encrypted upload source.
func IsFileEncrypted(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}

	if !bytes.Equal(header[:8], constants.Crypt4GHMagic[:]) {
		return false, nil
	}
	version := binary.LittleEndian.Uint32(header[8:12])
	return version == constants.Crypt4GHVersion, nil
}

// sealPacket encrypts plain with crypto_box keyed by sender's private
// key and the recipient's public key, prefixing the sender's public key
// and the nonce so the recipient can recover the shared secret.
func sealPacket(sender *KeyPair, recipientPublicKey [32]byte, plain []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	sealed := box.Seal(nil, plain, &nonce, &recipientPublicKey, &sender.PrivateKey)

	out := make([]byte, 0, 32+24+len(sealed))
	out = append(out, sender.PublicKey[:]...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// openPacket reverses sealPacket using the recipient's private key.
func openPacket(recipient *KeyPair, data []byte) ([]byte, error) {
	if len(data) < 32+24 {
		return nil, fmt.Errorf("packet too short")
	}

	var senderPub [32]byte
	copy(senderPub[:], data[0:32])

	var nonce [24]byte
	copy(nonce[:], data[32:56])

	ciphertext := data[56:]

	plain, ok := box.Open(nil, ciphertext, &nonce, &senderPub, &recipient.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("authentication failed opening packet")
	}
	return plain, nil
}

// SealAnonymous implements libsodium's crypto_box_seal: an ephemeral
// sender key pair is generated internally and its public key prefixed to
// the ciphertext, so the recipient can decrypt without the sender
// retaining any secret state. Used to encrypt work-order tokens to a
// client's public key.
func SealAnonymous(recipientPublicKey [32]byte, plain []byte) ([]byte, error) {
	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	nonce := sealedBoxNonce(ephemeralPub, &recipientPublicKey)

	sealed := box.Seal(nil, plain, &nonce, &recipientPublicKey, ephemeralPriv)

	out := make([]byte, 0, 32+len(sealed))
	out = append(out, ephemeralPub[:]...)
	out = append(out, sealed...)
	return out, nil
}

// OpenAnonymous reverses SealAnonymous given the recipient's key pair.
func OpenAnonymous(recipient *KeyPair, data []byte) ([]byte, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("sealed box too short")
	}

	var ephemeralPub [32]byte
	copy(ephemeralPub[:], data[0:32])
	ciphertext := data[32:]

	nonce := sealedBoxNonce(&ephemeralPub, &recipient.PublicKey)

	plain, ok := box.Open(nil, ciphertext, &nonce, &ephemeralPub, &recipient.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("authentication failed opening sealed box")
	}
	return plain, nil
}

// sealedBoxNonce derives the deterministic nonce libsodium's
// crypto_box_seal uses: blake2b(ephemeral_pk || recipient_pk).
func sealedBoxNonce(ephemeralPub, recipientPub *[32]byte) [24]byte {
	var nonce [24]byte
	h, _ := blake2b.New(24, nil)
	h.Write(ephemeralPub[:])
	h.Write(recipientPub[:])
	copy(nonce[:], h.Sum(nil))
	return nonce
}
