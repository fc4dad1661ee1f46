package config

import (
	"fmt"
	"strconv"
	"time"
)

// Config is the top-level structure of conf/miniond.conf (spec §6).
type Config struct {
	Server   ServerConfig   `yaml:"Server"`
	Incoming IncomingConfig `yaml:"Incoming"`
	Delivery DeliveryConfig `yaml:"Delivery"`
}

// ServerConfig holds the Server.* keys consumed by the core, plus the
// mix-interval/shred-interval/retry-cap knobs that spec §9's REDESIGN FLAGS
// calls out as hardcoded in the original and requires to be configurable.
type ServerConfig struct {
	Homedir             string   `yaml:"Homedir"`
	Nickname            string   `yaml:"Nickname"`
	IdentityKeyBits     int      `yaml:"IdentityKeyBits"`
	PublicKeyLifetime   Duration `yaml:"PublicKeyLifetime"`
	PublicKeySloppiness Duration `yaml:"PublicKeySloppiness"`
	MixInterval         Duration `yaml:"MixInterval"`
	ShredInterval       Duration `yaml:"ShredInterval"`
	MaxRetries          int      `yaml:"MaxRetries"`
}

// IncomingConfig groups settings for inbound transports.
type IncomingConfig struct {
	MMTP MMTPConfig `yaml:"MMTP"`
}

// MMTPConfig is the advertised address of the relay-to-relay transport.
// The transport itself is an external collaborator (spec §1); this is only
// the address the core advertises in its server descriptor.
type MMTPConfig struct {
	IP string `yaml:"IP"`
}

// DeliveryConfig holds the built-in exit modules' settings plus any
// sections contributed by third-party modules' config_schema() (§4.5).
type DeliveryConfig struct {
	MBOX             MBOXConfig             `yaml:"MBOX"`
	SMTPViaMixmaster SMTPViaMixmasterConfig `yaml:"SMTP-Via-Mixmaster"`
	Extra            map[string]RawSection  `yaml:",inline"`
}

// RawSection is an unparsed module config section, merged in by
// DeliveryConfig's inline map and handed to DeliveryModule.Configure.
type RawSection map[string]interface{}

// MBOXConfig configures the built-in MBOX exit module.
type MBOXConfig struct {
	Enabled       bool   `yaml:"Enabled"`
	AddressFile   string `yaml:"AddressFile"`
	ReturnAddress string `yaml:"ReturnAddress"`
	RemoveContact string `yaml:"RemoveContact"`
	SMTPServer    string `yaml:"SMTPServer"`
}

// SMTPViaMixmasterConfig configures the built-in SMTP-via-relay exit module.
type SMTPViaMixmasterConfig struct {
	Enabled     bool   `yaml:"Enabled"`
	MixCommand  string `yaml:"MixCommand"`
	Server      string `yaml:"Server"`
	SubjectLine string `yaml:"SubjectLine"`
}

// Duration unmarshals either a Go duration string ("20s") or a plain
// integer number of seconds, so operators can write either in
// miniond.conf.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var asString string
	if err := unmarshal(&asString); err == nil {
		if secs, convErr := strconv.ParseInt(asString, 10, 64); convErr == nil {
			*d = Duration(time.Duration(secs) * time.Second)
			return nil
		}
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var asSeconds int64
	if err := unmarshal(&asSeconds); err != nil {
		return fmt.Errorf("duration must be a string (\"20s\") or an integer number of seconds")
	}
	*d = Duration(time.Duration(asSeconds) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
