// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Stardew Valley Dedicated Server Contributors

package gate

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes
)

// HashSecret produces an argon2id PHC string suitable for the
// server_password_hash setting.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", oops.Code("GATE_EMPTY_SECRET").Errorf("secret cannot be empty")
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("GATE_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(secret), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// secretVerifier checks one supplied secret against the configured one.
type secretVerifier interface {
	verify(secret string) bool
}

// plainSecret compares against a cleartext configured password.
type plainSecret struct {
	value string
}

func (p plainSecret) verify(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(p.value)) == 1
}

// hashedSecret compares against an argon2id PHC hash. The hash is parsed
// once at construction so a malformed setting fails the gate's constructor
// instead of every login.
type hashedSecret struct {
	salt    []byte
	key     []byte
	time    uint32
	memory  uint32
	threads uint8
}

func newHashedSecret(encoded string) (hashedSecret, error) {
	wrap := oops.Code("GATE_INVALID_HASH")

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return hashedSecret{}, wrap.Errorf("invalid hash format")
	}
	if parts[1] != "argon2id" {
		return hashedSecret{}, wrap.Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return hashedSecret{}, wrap.Wrap(err)
	}
	if version != argon2.Version {
		return hashedSecret{}, wrap.Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return hashedSecret{}, wrap.Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return hashedSecret{}, wrap.Errorf("threads value %d out of range", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return hashedSecret{}, wrap.Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return hashedSecret{}, wrap.Wrap(err)
	}
	if len(key) == 0 {
		return hashedSecret{}, wrap.Errorf("empty hash key")
	}

	return hashedSecret{
		salt:    salt,
		key:     key,
		time:    time,
		memory:  memory,
		threads: uint8(threads),
	}, nil
}

func (h hashedSecret) verify(secret string) bool {
	computed := argon2.IDKey([]byte(secret), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(computed, h.key) == 1
}
