// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"
	"strconv"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random portion of an ID.
// Lowercase-plus-digits keeps the random suffix byte-order neutral.
var Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// eventTimestampWidth is the zero-padded width of the base36 millisecond
// prefix. 9 base36 digits cover timestamps well past the year 5000, so IDs
// sort lexicographically by emission time without a width rollover.
const eventTimestampWidth = 9

// NewEventID returns a time-sortable event ID: a base36 millisecond timestamp
// prefix followed by a random suffix for uniqueness within a millisecond.
func NewEventID() (string, error) {
	suffix, err := nanoid.Generate(Alphabet, 8)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	for len(ts) < eventTimestampWidth {
		ts = "0" + ts
	}
	return "ev-" + ts + suffix, nil
}

// NewConnectionID returns a unique ID for an open client stream.
func NewConnectionID() (string, error) {
	id, err := nanoid.Generate(Alphabet, 12)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return "conn-" + id, nil
}
