// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes of the IDs minted by the service.
const (
	ConnectionPrefix = "conn-"
	AlertPrefix      = "alr-"
)

// Alphabet defines the character set used for the random portion of the ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
const Length = 16

// ConnectionID returns a new stream connection ID.
func ConnectionID() (string, error) {
	return GenerateWithPrefix(ConnectionPrefix)
}

// AlertID returns a new alert history ID.
func AlertID() (string, error) {
	return GenerateWithPrefix(AlertPrefix)
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
