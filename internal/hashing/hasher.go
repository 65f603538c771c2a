package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"access-service/internal/config"
	"access-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash     = errors.New("invalid hash format")
	ErrUnknownPepper   = errors.New("pepper version not found")
	ErrUnsupportedAlgo = errors.New("unsupported hash algorithm")
)

const algorithm = "argon2id-v1"

// Domains keep a one-time code hash from ever verifying as a password hash
// and the other way round.
const (
	DomainChallenge = "challenge"
	DomainPassword  = "password"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type Pepper struct {
	Value   string
	Version int
}

// Hasher is safe for concurrent use. Peppers come from configuration so
// that every instance verifies what any other instance hashed.
type Hasher struct {
	params  Argon2Params
	peppers map[int]*Pepper
	current *Pepper
	mu      sync.RWMutex
}

type HashResult struct {
	Hash          string `json:"hash"`
	Salt          string `json:"salt"`
	PepperVersion int    `json:"pepper_version"`
	Algorithm     string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) *Hasher {
	h := &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		peppers: make(map[int]*Pepper),
	}

	for i, value := range cfg.Hashing.Peppers {
		h.addPepper(value, i+1)
	}
	if h.current == nil {
		// Development only: a random pepper means hashes die with the process.
		h.addPepper(randomPepper(), 1)
		util.Warn("No hashing peppers configured, using an ephemeral pepper")
	}

	return h
}

func randomPepper() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		util.Fatal("Failed to generate pepper", zap.Error(err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func (h *Hasher) addPepper(value string, version int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := &Pepper{Value: value, Version: version}
	h.peppers[version] = p
	if h.current == nil || version > h.current.Version {
		h.current = p
	}
}

// CurrentPepperVersion is the version new hashes are written with.
func (h *Hasher) CurrentPepperVersion() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Version
}

func (h *Hasher) HashChallengeCode(code string) (*HashResult, error) {
	return h.hashWithPepper(code, DomainChallenge)
}

func (h *Hasher) VerifyChallengeCode(code string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(code, stored, DomainChallenge)
}

func (h *Hasher) HashPassword(password string) (*HashResult, error) {
	return h.hashWithPepper(password, DomainPassword)
}

func (h *Hasher) VerifyPassword(password string, stored *HashResult) (bool, error) {
	return h.verifyWithPepper(password, stored, DomainPassword)
}

func (h *Hasher) hashWithPepper(data, domain string) (*HashResult, error) {
	h.mu.RLock()
	pepper := h.current
	h.mu.RUnlock()

	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey(
		[]byte(data+pepper.Value+domain),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return &HashResult{
		Hash:          base64.RawURLEncoding.EncodeToString(hash),
		Salt:          base64.RawURLEncoding.EncodeToString(salt),
		PepperVersion: pepper.Version,
		Algorithm:     algorithm,
	}, nil
}

func (h *Hasher) verifyWithPepper(data string, stored *HashResult, domain string) (bool, error) {
	if stored == nil {
		return false, ErrInvalidHash
	}
	if stored.Algorithm != algorithm {
		return false, ErrUnsupportedAlgo
	}

	h.mu.RLock()
	pepper, ok := h.peppers[stored.PepperVersion]
	h.mu.RUnlock()
	if !ok {
		return false, ErrUnknownPepper
	}

	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil || len(expected) == 0 {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey(
		[]byte(data+pepper.Value+domain),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		uint32(len(expected)),
	)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// Encode packs a HashResult into one column-friendly string:
// algorithm$pepperVersion$salt$hash.
func (r *HashResult) Encode() string {
	return strings.Join([]string{r.Algorithm, strconv.Itoa(r.PepperVersion), r.Salt, r.Hash}, "$")
}

// ParseHashResult reverses Encode.
func ParseHashResult(encoded string) (*HashResult, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return nil, ErrInvalidHash
	}
	version, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ErrInvalidHash
	}
	return &HashResult{
		Algorithm:     parts[0],
		PepperVersion: version,
		Salt:          parts[2],
		Hash:          parts[3],
	}, nil
}

// Benchmark times n challenge-code hashes; used to tune Argon2 costs.
func (h *Hasher) Benchmark(n int) time.Duration {
	start := time.Now()
	for i := 0; i < n; i++ {
		if _, err := h.HashChallengeCode(fmt.Sprintf("%06d", i)); err != nil {
			util.Error("Benchmark failed", zap.Error(err))
			return 0
		}
	}
	return time.Since(start)
}
