package crypt4gh

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ghga-de/ghga-connector/internal/constants"
)

// Encryptor wraps a plaintext reader, producing a Crypt4GH envelope: the
// header bytes followed by the ciphertext segment stream. The header is
// returned separately by Header so callers can account for its length
// when computing part boundaries, and the segment stream is read one
// encrypted segment at a time through NextSegment.
type Encryptor struct {
	source     io.Reader
	sessionKey [32]byte
	header     []byte
	aead       interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
	}
	buf    []byte
	eof    bool

	ciphertextSize int64
}

// NewEncryptor creates an Encryptor that seals to recipientPublicKey
// using a freshly generated random session key, with the header signed
// by sender.
func NewEncryptor(source io.Reader, sender *KeyPair, recipientPublicKey [32]byte) (*Encryptor, error) {
	var sessionKey [32]byte
	if _, err := rand.Read(sessionKey[:]); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}

	header, err := BuildEnvelopeHeader(sender, recipientPublicKey, sessionKey)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(sessionKey[:])
	if err != nil {
		return nil, err
	}

	return &Encryptor{
		source:     source,
		sessionKey: sessionKey,
		header:     header,
		aead:       aead,
		buf:        make([]byte, constants.SegmentPlaintextSize),
	}, nil
}

// Header returns the serialized envelope header bytes.
func (e *Encryptor) Header() []byte {
	return e.header
}

// HeaderLength returns the byte length of the envelope header.
func (e *Encryptor) HeaderLength() int {
	return len(e.header)
}

// SessionKey returns the randomly generated per-file session key.
func (e *Encryptor) SessionKey() [32]byte {
	return e.sessionKey
}

// EncryptedSize returns the total number of ciphertext segment bytes
// (nonce || ciphertext || tag, summed across every call to NextSegment
// so far) produced for the source. It does not include the header.
func (e *Encryptor) EncryptedSize() int64 {
	return e.ciphertextSize
}

// NextSegment reads one plaintext segment from the source and returns
// its encrypted form (nonce || ciphertext || tag), or io.EOF once the
// source is exhausted.
func (e *Encryptor) NextSegment() ([]byte, error) {
	if e.eof {
		return nil, io.EOF
	}

	n, err := io.ReadFull(e.source, e.buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	if n == 0 {
		return nil, io.EOF
	}
	if n < len(e.buf) {
		e.eof = true
	}

	var nonce [12]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	sealed := e.aead.Seal(nil, nonce[:], e.buf[:n], nil)

	out := make([]byte, 0, 12+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	e.ciphertextSize += int64(len(out))
	return out, nil
}

// Decryptor reads a Crypt4GH envelope (header already parsed into an
// Envelope) and yields decrypted plaintext segments.
type Decryptor struct {
	source  io.Reader
	aead    cipherAEAD
	segment []byte
}

type cipherAEAD interface {
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewDecryptor creates a Decryptor for the ciphertext stream that
// follows env's header, using the first recovered session key.
func NewDecryptor(source io.Reader, env *Envelope) (*Decryptor, error) {
	if len(env.SessionKeys) == 0 {
		return nil, fmt.Errorf("envelope carries no usable session key")
	}

	aead, err := chacha20poly1305.New(env.SessionKeys[0][:])
	if err != nil {
		return nil, err
	}

	return &Decryptor{
		source:  source,
		aead:    aead,
		segment: make([]byte, constants.SegmentCiphertextSize),
	}, nil
}

// NextSegment reads and decrypts one ciphertext segment, returning its
// plaintext, or io.EOF once the stream is exhausted.
func (d *Decryptor) NextSegment() ([]byte, error) {
	n, err := io.ReadFull(d.source, d.segment)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	if n < 12+16 {
		return nil, fmt.Errorf("truncated segment: %d bytes", n)
	}

	nonce := d.segment[0:12]
	ciphertext := d.segment[12:n]

	plain, err := d.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting segment: %w", err)
	}

	return plain, nil
}
