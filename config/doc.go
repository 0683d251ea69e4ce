// Package config provides cueflow's configuration management.
//
// Configuration is loaded once at process start from defaults, an
// optional YAML file, and CUEFLOW_-prefixed environment variables, in
// that order of precedence.
package config
