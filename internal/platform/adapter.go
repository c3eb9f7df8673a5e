package platform

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/maheshrc27/postpublisher/internal/models"
)

var (
	ErrUnknownPlatform  = errors.New("unknown platform")
	ErrContentTooLong   = errors.New("content exceeds platform character limit")
	ErrSimulatedFailure = errors.New("simulated publish failure")
)

// Adapter publishes posts to one platform type.
type Adapter interface {
	Type() string
	CharacterLimit() int
	// Publish returns nil when the platform accepted the post.
	Publish(ctx context.Context, post *models.Post) error
}

// CheckContent reports ErrContentTooLong when content does not fit the adapter's limit.
// Length is measured in characters, not bytes.
func CheckContent(a Adapter, content string) error {
	if n := utf8.RuneCountInString(content); n > a.CharacterLimit() {
		return fmt.Errorf("%w: %s allows %d, got %d", ErrContentTooLong, a.Type(), a.CharacterLimit(), n)
	}
	return nil
}
