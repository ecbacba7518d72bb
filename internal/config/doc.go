// Package config loads the StakePilot daemon and CLI configuration from a
// JSON file and fills defaults for everything left unset.
package config
