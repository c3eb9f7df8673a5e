package utils

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewRunID returns a short random id used to tag a dispatch run and its claims.
func NewRunID() (string, error) {
	id, err := gonanoid.Generate(runIDAlphabet, 16)
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return "run_" + id, nil
}
