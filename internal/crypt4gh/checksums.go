package crypt4gh

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// Checksums accumulates the digests required at the end of a transfer:
// a single SHA-256 over the whole plaintext, and an MD5+SHA-256 pair per
// ciphertext part (the first part's digest excludes the envelope header
// bytes that precede the first segment).
type Checksums struct {
	plaintextSHA256 hash.Hash
	partMD5         hash.Hash
	partSHA256      hash.Hash
	encryptedSHA256 hash.Hash

	partMD5Sums    []string
	partSHA256Sums []string
}

// NewChecksums creates an empty accumulator.
func NewChecksums() *Checksums {
	return &Checksums{
		plaintextSHA256: sha256.New(),
		partMD5:         md5.New(),
		partSHA256:      sha256.New(),
		encryptedSHA256: sha256.New(),
	}
}

// UpdatePlaintext feeds plaintext bytes into the whole-file digest.
func (c *Checksums) UpdatePlaintext(p []byte) {
	c.plaintextSHA256.Write(p)
}

// UpdatePart feeds ciphertext bytes belonging to the current part into
// that part's digests and the whole-ciphertext digest.
func (c *Checksums) UpdatePart(p []byte) {
	c.partMD5.Write(p)
	c.partSHA256.Write(p)
	c.encryptedSHA256.Write(p)
}

// EncryptedSHA256 returns the hex-encoded digest of every ciphertext
// segment seen so far, the single checksum the upload service verifies
// the finished object against.
func (c *Checksums) EncryptedSHA256() string {
	return hex.EncodeToString(c.encryptedSHA256.Sum(nil))
}

// FinishPart finalizes the current part's digests, appends them to the
// accumulated per-part lists, and resets the part hashes for the next
// part.
func (c *Checksums) FinishPart() {
	c.partMD5Sums = append(c.partMD5Sums, hex.EncodeToString(c.partMD5.Sum(nil)))
	c.partSHA256Sums = append(c.partSHA256Sums, hex.EncodeToString(c.partSHA256.Sum(nil)))
	c.partMD5 = md5.New()
	c.partSHA256 = sha256.New()
}

// PlaintextSHA256 returns the hex-encoded digest of the whole plaintext
// seen so far.
func (c *Checksums) PlaintextSHA256() string {
	return hex.EncodeToString(c.plaintextSHA256.Sum(nil))
}

// PartMD5Sums returns the hex-encoded MD5 digest of every finished part,
// in order.
func (c *Checksums) PartMD5Sums() []string {
	return c.partMD5Sums
}

// PartSHA256Sums returns the hex-encoded SHA-256 digest of every
// finished part, in order.
func (c *Checksums) PartSHA256Sums() []string {
	return c.partSHA256Sums
}

// EncryptedIsEmpty reports whether no ciphertext part digests have been
// recorded yet.
func (c *Checksums) EncryptedIsEmpty() bool {
	return len(c.partMD5Sums) == 0
}
