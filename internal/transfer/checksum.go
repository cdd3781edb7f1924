package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

func Checksum(r io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// SeekChecksum hashes the next size bytes of rs and rewinds to where it
// started.
func SeekChecksum(rs io.ReadSeeker, size int64) (string, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	sum, err := Checksum(io.LimitReader(rs, size))
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return "", err
	}
	return sum, nil
}

// VerifyChecksum accepts any payload when want is empty.
func VerifyChecksum(payload []byte, want string) error {
	if want == "" {
		return nil
	}
	sum := sha256.Sum256(payload)
	if got := hex.EncodeToString(sum[:]); got != want {
		return &Error{Kind: ChecksumMismatch, Err: fmt.Errorf("got %s, announced %s", got[:12], want)}
	}
	return nil
}
