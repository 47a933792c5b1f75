// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Variables can also come from a .env file loaded before the YAML is read.
// See configs/relay.example.yaml for the full schema.
package config
