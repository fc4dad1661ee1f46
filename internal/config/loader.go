// Package config loads and validates conf/miniond.conf (spec §6) using a
// gopkg.in/yaml.v3-based loader and ValidationError machinery, covering the
// key-schedule and delivery sections this daemon needs.
package config

import (
	"fmt"
	"os"

	"miniond/internal/errs"
	"miniond/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the config file at path, returning a Config merged
// over Default(). A missing or malformed file is a fatal ConfigError (§7):
// the CLI exits 1 rather than running with an incomplete configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.New(errs.KindConfig, "config.Load", fmt.Errorf("reading %s: %w", path, err))
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errs.New(errs.KindConfig, "config.Load", fmt.Errorf("parsing %s: %w", path, err))
	}

	if err := Validate(&cfg); err != nil {
		return Config{}, errs.New(errs.KindConfig, "config.Load", err)
	}

	logging.Info("Config", "Loaded configuration from %s (homedir=%s, nickname=%s)", path, cfg.Server.Homedir, cfg.Server.Nickname)
	return cfg, nil
}

// Validate checks the required keys named in spec §6. It does not validate
// module-specific sections: those are merged from each registered
// DeliveryModule's ConfigSchema() and checked by Manager.Configure once
// the delivery modules are known, per §4.5's config_schema contract.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	if err := ValidateRequired("Server.Homedir", cfg.Server.Homedir, "miniond.conf"); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if cfg.Server.Nickname != "" {
		if err := ValidateEntityName(cfg.Server.Nickname, "Server.Nickname"); err != nil {
			errs = append(errs, err.(ValidationError))
		}
	} else if err := ValidateRequired("Server.Nickname", cfg.Server.Nickname, "miniond.conf"); err != nil {
		errs = append(errs, err.(ValidationError))
	}
	if cfg.Server.IdentityKeyBits <= 0 {
		errs.Add("Server.IdentityKeyBits", "must be a positive number of bits")
	}
	if cfg.Server.PublicKeyLifetime.Std() <= 0 {
		errs.Add("Server.PublicKeyLifetime", "must be a positive duration")
	}
	if cfg.Server.MixInterval.Std() <= 0 {
		errs.Add("Server.MixInterval", "must be a positive duration")
	}

	if errs.HasErrors() {
		return FormatValidationError("miniond.conf", "", errs)
	}
	return nil
}
