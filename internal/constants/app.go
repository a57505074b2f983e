// Package constants holds fixed limits referenced across the transfer
// engine that are not user-configurable.
package constants

import "time"

// Object-store part-size bounds (S3 multipart upload limits).
const (
	// MinPartSize is the smallest part size S3 accepts, except for the
	// final part of an upload.
	MinPartSize = 5 * 1024 * 1024

	// MaxPartSize is the largest part size S3 accepts.
	MaxPartSize = 5 * 1024 * 1024 * 1024

	// MaxPartCount is the hard ceiling S3 enforces on part count per
	// upload.
	MaxPartCount = 10000

	// PartCountHeadroom keeps the effective part-count budget a margin
	// below MaxPartCount so that a slightly misestimated file size does
	// not push the actual part count past the object-store limit.
	PartCountHeadroom = 5
)

// HTTP client tuning.
const (
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 30 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
)

// Crypt4GH envelope wire-format constants.
const (
	// SegmentPlaintextSize is the plaintext size of one Crypt4GH segment
	// before encryption; each segment is sealed independently.
	SegmentPlaintextSize = 64 * 1024

	// SegmentCiphertextSize is a plaintext segment's size once the
	// 12-byte nonce and 16-byte Poly1305 tag are added.
	SegmentCiphertextSize = SegmentPlaintextSize + 12 + 16
)

// Crypt4GHMagic is the fixed 8-byte magic string at the start of every
// Crypt4GH envelope.
var Crypt4GHMagic = [8]byte{'c', 'r', 'y', 'p', 't', '4', 'g', 'h'}

// Crypt4GHVersion is the only container version this implementation
// produces and accepts.
const Crypt4GHVersion uint32 = 1
