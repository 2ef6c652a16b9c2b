// Package config loads and validates burstrank settings from a TOML file.
//
// Load applies values in this order: Default, the file, then Normalize,
// which derives strategy-dependent defaults. Command line flags are applied
// by the caller and followed by another Normalize and Validate.
package config
