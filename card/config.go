package card

import "log/slog"

// Config holds a Session's tunables. Build one with New options rather
// than constructing it directly.
type Config struct {
	// RSAKeyBits is the RSA modulus size private key slots are expected
	// to hold. It does not constrain the store or any handler -- it only
	// documents the key size this Session was provisioned for;
	// DigestInfoLen's default does not depend on it.
	RSAKeyBits int

	// DigestInfoLen is the exact length, in bytes, PSO:COMPUTE DIGITAL
	// SIGNATURE requires of its input. The OpenPGP Card protocol hands
	// over an already-built DigestInfo, never a raw hash, so this is a
	// property of the configured signing hash, not of RSAKeyBits itself;
	// it is still surfaced here (defaulting to the 35-byte SHA-1
	// DigestInfo length) so a Session configured for a different hash
	// algorithm can adjust it instead of relying on a hardcoded constant.
	DigestInfoLen int

	// InitialPW1 and InitialPW3 are the factory-default credentials
	// assumed until a CHANGE REFERENCE DATA installs real ones.
	InitialPW1 string
	InitialPW3 string

	// MaxRetries is the number of consecutive failed verifications a
	// credential tolerates before it is blocked.
	MaxRetries int

	// PW1SingleUse mirrors the PW1-lifetime data object: when true,
	// AC_PSO_CDS_AUTHORIZED is cleared after every successful signature
	// instead of staying set for the rest of the session.
	PW1SingleUse bool

	// VerifyRateLimit and VerifyBurst configure the token-bucket limiter
	// guarding the VERIFY path against rapid-fire guessing. The defaults
	// are generous enough not to interfere with the three-strikes
	// blocking behavior itself.
	VerifyRateLimit float64
	VerifyBurst     int

	Logger *slog.Logger
}

// Option configures a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		RSAKeyBits:      2048,
		DigestInfoLen:   35,
		InitialPW1:      "123456",
		InitialPW3:      "12345678",
		MaxRetries:      3,
		VerifyRateLimit: 100,
		VerifyBurst:     100,
	}
}

// WithRSAKeyBits sets the configured RSA modulus size.
func WithRSAKeyBits(bits int) Option {
	return func(c *Config) { c.RSAKeyBits = bits }
}

// WithDigestInfoLen overrides the PSO:CDS input length check.
func WithDigestInfoLen(n int) Option {
	return func(c *Config) { c.DigestInfoLen = n }
}

// WithInitialPW1 overrides the factory-default user PIN.
func WithInitialPW1(pw string) Option {
	return func(c *Config) { c.InitialPW1 = pw }
}

// WithInitialPW3 overrides the factory-default admin PIN.
func WithInitialPW3(pw string) Option {
	return func(c *Config) { c.InitialPW3 = pw }
}

// WithMaxRetries overrides the retry-counter ceiling.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithPW1SingleUse enables per-signature re-authorization.
func WithPW1SingleUse(singleUse bool) Option {
	return func(c *Config) { c.PW1SingleUse = singleUse }
}

// WithVerifyRateLimit throttles VERIFY attempts to eventsPerSecond with
// the given burst allowance.
func WithVerifyRateLimit(eventsPerSecond float64, burst int) Option {
	return func(c *Config) {
		c.VerifyRateLimit = eventsPerSecond
		c.VerifyBurst = burst
	}
}

// WithLogger sets the session's structured audit logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}
