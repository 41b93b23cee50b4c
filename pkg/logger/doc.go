// Package logger builds the gateway's structured slog logger: text output
// for development, JSON for production, with the level taken from
// configuration.
package logger
