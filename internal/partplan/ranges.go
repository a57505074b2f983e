// Package partplan computes the byte ranges used to split an encrypted
// file into S3 multipart upload/download parts.
package partplan

import (
	"fmt"

	"github.com/ghga-de/ghga-connector/internal/constants"
)

// Range is a half-open byte range [Start, End) within the ciphertext
// stream, numbered from 1 like S3 part numbers.
type Range struct {
	PartNumber int
	Start      int64
	End        int64
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() int64 {
	return r.End - r.Start
}

// CheckAdjustPartSize clamps partSize to [MinPartSize, MaxPartSize] and,
// if the resulting part count for a file of encryptedSize bytes exceeds
// the object store's part-count budget (10000 parts minus a 5-part
// headroom), promotes it to the smallest power-of-two MiB size that fits
// the budget. It errors when no such size up to MaxPartSize exists.
func CheckAdjustPartSize(partSize, encryptedSize int64) (int64, error) {
	if partSize <= 0 {
		return 0, fmt.Errorf("part size must be positive, got %d", partSize)
	}

	budget := int64(constants.MaxPartCount - constants.PartCountHeadroom)

	if partSize < constants.MinPartSize {
		partSize = constants.MinPartSize
	}
	if partSize > constants.MaxPartSize {
		partSize = constants.MaxPartSize
	}

	for {
		if partSize > constants.MaxPartSize {
			return 0, fmt.Errorf("no part size up to %d bytes keeps part count within budget for a %d byte file", constants.MaxPartSize, encryptedSize)
		}

		parts := (encryptedSize + partSize - 1) / partSize
		if parts <= budget {
			break
		}

		next := int64(1024 * 1024)
		for next <= partSize {
			next *= 2
		}
		partSize = next
	}

	return partSize, nil
}

// CalcPartRanges splits a ciphertext stream of encryptedSize bytes into
// consecutive ranges of partSize bytes each, the last range absorbing
// any remainder. fromPart (1-indexed) restricts the result to ranges at
// or after that part number, supporting resume.
func CalcPartRanges(partSize, encryptedSize int64, fromPart int) ([]Range, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	if encryptedSize < 0 {
		return nil, fmt.Errorf("encrypted size must be non-negative, got %d", encryptedSize)
	}
	if fromPart < 1 {
		fromPart = 1
	}

	var ranges []Range
	partNumber := 1
	var offset int64

	for offset < encryptedSize {
		end := offset + partSize
		if end > encryptedSize {
			end = encryptedSize
		}

		if partNumber >= fromPart {
			ranges = append(ranges, Range{
				PartNumber: partNumber,
				Start:      offset,
				End:        end,
			})
		}

		offset = end
		partNumber++
	}

	return ranges, nil
}
