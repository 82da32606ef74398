// Package hashlock computes and verifies HTLC commitment hashes.
//
// A HashLock is a 32-byte digest tagged with the algorithm that produced it.
// The tag is fixed at creation time: a preimage is only ever verified with the
// algorithm recorded in the lock, never with the other one.
package hashlock

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/roach88/htlc/internal/htlcerr"
)

// Size is the digest length in bytes for every supported hash type.
const Size = 32

// HashType tags the digest algorithm of a HashLock.
// The numeric values are part of the contract ABI.
type HashType uint8

const (
	// Sha3_256 is SHA3-256 (FIPS 202).
	Sha3_256 HashType = 0
	// Sha2_256 is SHA-256 (FIPS 180-4).
	Sha2_256 HashType = 1
)

// String returns the canonical name of the hash type.
func (t HashType) String() string {
	switch t {
	case Sha3_256:
		return "sha3-256"
	case Sha2_256:
		return "sha2-256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a defined hash type.
func (t HashType) Valid() bool {
	return t == Sha3_256 || t == Sha2_256
}

// ParseHashType accepts the names used on the command line and in config
// files, as well as the raw numeric tags.
func ParseHashType(s string) (HashType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sha3", "sha3-256", "sha3_256", "0":
		return Sha3_256, nil
	case "sha2", "sha256", "sha2-256", "sha2_256", "1":
		return Sha2_256, nil
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return 0, unsupported(HashType(n))
	}
	return 0, htlcerr.New(htlcerr.CodeUnsupportedHashType, "unknown hash type %q", s)
}

// HashLock is a commitment to a secret preimage.
type HashLock struct {
	Digest [Size]byte
	Type   HashType
}

// Bytes returns a copy of the digest.
func (l HashLock) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, l.Digest[:])
	return b
}

// Hex returns the digest as lowercase hex without prefix.
func (l HashLock) Hex() string {
	return hex.EncodeToString(l.Digest[:])
}

// String formats the lock as "<type>:<hex>".
func (l HashLock) String() string {
	return l.Type.String() + ":" + l.Hex()
}

// Digest hashes preimage with the algorithm selected by hashType.
func Digest(preimage []byte, hashType HashType) (HashLock, error) {
	var lock HashLock
	switch hashType {
	case Sha3_256:
		lock.Digest = sha3.Sum256(preimage)
	case Sha2_256:
		lock.Digest = sha256.Sum256(preimage)
	default:
		return HashLock{}, unsupported(hashType)
	}
	lock.Type = hashType
	return lock, nil
}

// Verify recomputes the digest of preimage with lock.Type and compares it
// with lock.Digest in constant time.
func Verify(preimage []byte, lock HashLock) (bool, error) {
	got, err := Digest(preimage, lock.Type)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got.Digest[:], lock.Digest[:]) == 1, nil
}

// FromBytes builds a HashLock from a raw digest.
func FromBytes(digest []byte, hashType HashType) (HashLock, error) {
	if !hashType.Valid() {
		return HashLock{}, unsupported(hashType)
	}
	if len(digest) != Size {
		return HashLock{}, htlcerr.New(htlcerr.CodeInvalidHashLock,
			"hash lock must be %d bytes, got %d", Size, len(digest))
	}
	lock := HashLock{Type: hashType}
	copy(lock.Digest[:], digest)
	return lock, nil
}

// ParseHashLock decodes a hex digest (optional 0x prefix).
func ParseHashLock(s string, hashType HashType) (HashLock, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return HashLock{}, htlcerr.Wrap(htlcerr.CodeInvalidHashLock, err, "hash lock is not valid hex")
	}
	return FromBytes(b, hashType)
}

// DecodePreimage decodes a hex preimage (optional 0x prefix).
func DecodePreimage(s string) ([]byte, error) {
	s = trimHexPrefix(strings.TrimSpace(s))
	if s == "" {
		return nil, htlcerr.New(htlcerr.CodeInvalidPreimageEncoding, "preimage is empty")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, htlcerr.Wrap(htlcerr.CodeInvalidPreimageEncoding, err, "preimage is not valid hex")
	}
	return b, nil
}

// GeneratePreimage returns length bytes from crypto/rand.
// Bounds checking against the configured preimage limits is the caller's job.
func GeneratePreimage(length int) ([]byte, error) {
	if length <= 0 {
		return nil, htlcerr.New(htlcerr.CodeInvalidPreimageLength, "preimage length must be positive, got %d", length)
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate preimage: %w", err)
	}
	return b, nil
}

func unsupported(t HashType) error {
	return htlcerr.New(htlcerr.CodeUnsupportedHashType, "hash type %d is not supported", uint8(t))
}

func trimHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
