package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable FromEnv reads.
const EnvPrefix = "SECRETWALL_"

// Argon2idParams controls hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"ARGON2_MEMORY_KIB"`
	Iterations  uint32 `env:"ARGON2_ITERATIONS"`
	Parallelism uint8  `env:"ARGON2_PARALLELISM"`
	SaltLength  uint32 `env:"ARGON2_SALT_LEN"`
	KeyLength   uint32 `env:"ARGON2_KEY_LEN"`
}

// Policy bounds what a user may choose as a password.
type Policy struct {
	MinLength      int  `env:"PASSWORD_MIN_LEN"`
	MaxLength      int  `env:"PASSWORD_MAX_LEN"`
	RejectVeryWeak bool `env:"PASSWORD_REJECT_VERY_WEAK"`
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns interactive-login cost settings with parallelism
// clamped to [1..4] so containers keep predictable memory use.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// FromEnv starts from DefaultConfig and applies any SECRETWALL_PASSWORD_* and
// SECRETWALL_ARGON2_* overrides. Unset variables keep their defaults.
func FromEnv() (Config, error) {
	return fromEnvOptions(env.Options{Prefix: EnvPrefix})
}

func fromEnvOptions(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type bound struct {
	name     string
	val      uint64
	min, max uint64
}

func (c Config) check() error {
	bounds := []bound{
		{"PASSWORD_MIN_LEN", uint64(max(c.Policy.MinLength, 0)), 1, 1024},
		{"PASSWORD_MAX_LEN", uint64(max(c.Policy.MaxLength, 0)), 1, 4096},
		{"ARGON2_MEMORY_KIB", uint64(c.Params.MemoryKiB), 8 * 1024, 1024 * 1024},
		{"ARGON2_ITERATIONS", uint64(c.Params.Iterations), 1, 20},
		{"ARGON2_PARALLELISM", uint64(c.Params.Parallelism), 1, 64},
		{"ARGON2_SALT_LEN", uint64(c.Params.SaltLength), 8, 64},
		{"ARGON2_KEY_LEN", uint64(c.Params.KeyLength), 16, 64},
	}
	for _, b := range bounds {
		if b.val < b.min || b.val > b.max {
			return fmt.Errorf("%w: %s%s out of range [%d..%d]", ErrInvalidConfig, EnvPrefix, b.name, b.min, b.max)
		}
	}

	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrInvalidConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}
