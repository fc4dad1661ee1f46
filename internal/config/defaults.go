package config

import "time"

// Default values for the knobs spec §9 flags as hardcoded in the source:
// a 20s mix interval, a 6000s (100min) shred/clean cadence, and a
// bounded retry cap. miniond.conf may override any of these.
const (
	DefaultMixInterval         = 20 * time.Second
	DefaultShredInterval       = 6000 * time.Second
	DefaultMaxRetries          = 7
	DefaultIdentityKeyBits     = 2048
	DefaultPublicKeyLifetime   = 60 * 24 * time.Hour
	DefaultPublicKeySloppiness = 10 * time.Minute
)

// Default returns a Config populated with the defaults above plus the
// built-in delivery modules disabled. Load starts from this and
// overlays whatever miniond.conf specifies.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Homedir:             "",
			IdentityKeyBits:     DefaultIdentityKeyBits,
			PublicKeyLifetime:   Duration(DefaultPublicKeyLifetime),
			PublicKeySloppiness: Duration(DefaultPublicKeySloppiness),
			MixInterval:         Duration(DefaultMixInterval),
			ShredInterval:       Duration(DefaultShredInterval),
			MaxRetries:          DefaultMaxRetries,
		},
	}
}
