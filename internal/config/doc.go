// Package config parses conf/miniond.conf into the structures named in
// spec §6 and validates the keys the core requires before startup.
package config
