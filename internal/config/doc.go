// Package config loads the daemon configuration from a JSON file into an
// immutable value that is handed to every component at construction time.
package config
