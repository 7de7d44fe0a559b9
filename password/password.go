// Package password hashes and verifies passwords with Argon2id, encoding
// parameters in the PHC string format so stored hashes remain verifiable
// after the cost settings change.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minPasswordLen        = 8
)

// ErrPasswordTooShort is returned by Hash for passwords under 8 bytes.
var ErrPasswordTooShort = errors.New("password must be at least 8 bytes")

// Params are the Argon2id cost settings.
type Params struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams follows the RFC 9106 low-memory recommendation.
func DefaultParams() Params {
	return Params{
		MemoryKB:    64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and checks Argon2id password hashes. Safe for concurrent
// use.
type Hasher struct {
	params Params
}

// NewHasher validates the cost settings and builds a hasher.
func NewHasher(p Params) (*Hasher, error) {
	switch {
	case p.MemoryKB < minMemoryKB:
		return nil, errors.New("password: memory must be >= 8192 KB")
	case p.Iterations < 1:
		return nil, errors.New("password: iterations must be >= 1")
	case p.Parallelism < 1:
		return nil, errors.New("password: parallelism must be >= 1")
	case p.SaltLength < minSaltLength:
		return nil, errors.New("password: salt length must be >= 16")
	case p.KeyLength < minKeyLength:
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{params: p}, nil
}

// Hash derives a PHC-encoded hash from the password bytes as provided; no
// Unicode normalization is applied.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.params.Iterations,
		h.params.MemoryKB,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.params.MemoryKB,
		h.params.Iterations,
		h.params.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify checks the password against a PHC-encoded hash using the hash's
// own parameters, in constant time over the derived key.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, p.Iterations, p.MemoryKB, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

// NeedsRehash reports whether the stored hash was derived with weaker
// settings than the hasher's current ones.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, _, _, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return p.MemoryKB < h.params.MemoryKB ||
		p.Iterations < h.params.Iterations ||
		p.Parallelism < h.params.Parallelism ||
		p.KeyLength != h.params.KeyLength, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, errors.New("password: invalid PHC format")
	}
	if parts[1] != algorithmID {
		return p, nil, nil, errors.New("password: unsupported algorithm")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return p, nil, nil, errors.New("password: invalid argon2 version")
	}
	if version != argon2.Version {
		return p, nil, nil, errors.New("password: unsupported argon2 version")
	}

	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return p, nil, nil, errors.New("password: invalid parameter entry")
		}
		v, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return p, nil, nil, errors.New("password: invalid parameter value")
		}
		switch kv[0] {
		case "m":
			p.MemoryKB = uint32(v)
		case "t":
			p.Iterations = uint32(v)
		case "p":
			if v > 255 {
				return p, nil, nil, errors.New("password: invalid parallelism")
			}
			p.Parallelism = uint8(v)
		default:
			return p, nil, nil, errors.New("password: unsupported parameter")
		}
	}
	if p.MemoryKB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, errors.New("password: missing parameters")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return p, nil, nil, errors.New("password: invalid salt")
	}
	key, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errors.New("password: invalid key")
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))

	return p, salt, key, nil
}
