// Package config loads the JSON configuration for the Mother agent runtime:
// conversation limits, the active model provider, tool manifest location,
// memory backend, the asynchronous job pipeline and logging. Relative paths
// are resolved against the directory that holds the configuration file.
package config
