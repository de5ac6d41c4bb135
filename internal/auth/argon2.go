package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Long-lived secrets a caller presents verbatim are stored as Argon2id PHC
// strings: API keys (looked up by their visible prefix) and OAuth2 client
// secrets (looked up by client_id). Random tokens that are looked up by
// value use HashToken instead.

// argon2Params are the cost settings encoded in every hash.
type argon2Params struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
	keyLen  uint32
}

// secretParams is used for new hashes. Verification reads the settings
// from the stored hash, so raising these does not lock out old credentials.
var secretParams = argon2Params{memory: 64 * 1024, time: 3, threads: 4, keyLen: 32}

const secretSaltLen = 16

var (
	// ErrInvalidHash reports a stored hash that is not an Argon2id PHC string.
	ErrInvalidHash = errors.New("invalid secret hash")
	// ErrIncompatibleVersion reports a hash from another Argon2 version.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// HashSecret hashes an API key or OAuth2 client secret for storage.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, secretSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return encodeSecretHash(secretParams, salt, secretParams.derive(secret, salt)), nil
}

// VerifySecret reports whether secret matches a hash made by HashSecret.
// A mismatch is not an error; a malformed hash is.
func VerifySecret(secret, encoded string) (bool, error) {
	p, salt, want, err := decodeSecretHash(encoded)
	if err != nil {
		return false, err
	}
	p.keyLen = uint32(len(want))
	return subtle.ConstantTimeCompare(p.derive(secret, salt), want) == 1, nil
}

func (p argon2Params) derive(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, p.time, p.memory, p.threads, p.keyLen)
}

// encodeSecretHash renders $argon2id$v=19$m=65536,t=3,p=4$<salt>$<key>.
func encodeSecretHash(p argon2Params, salt, key []byte) string {
	return "$argon2id$v=" + strconv.Itoa(argon2.Version) +
		"$m=" + strconv.FormatUint(uint64(p.memory), 10) +
		",t=" + strconv.FormatUint(uint64(p.time), 10) +
		",p=" + strconv.FormatUint(uint64(p.threads), 10) +
		"$" + base64.RawStdEncoding.EncodeToString(salt) +
		"$" + base64.RawStdEncoding.EncodeToString(key)
}

func decodeSecretHash(encoded string) (argon2Params, []byte, []byte, error) {
	var p argon2Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}

	v, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return p, nil, nil, ErrInvalidHash
	}
	version, err := strconv.Atoi(v)
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return p, nil, nil, ErrIncompatibleVersion
	}

	seen := 0
	for _, field := range strings.Split(parts[3], ",") {
		name, value, _ := strings.Cut(field, "=")
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return p, nil, nil, ErrInvalidHash
		}
		switch name {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			if n > 255 {
				return p, nil, nil, ErrInvalidHash
			}
			p.threads = uint8(n)
		default:
			return p, nil, nil, ErrInvalidHash
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.threads == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	return p, salt, key, nil
}
