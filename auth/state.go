package auth

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-uuid"
)

// NewState generates an anti-CSRF nonce for an authorization request: 32 hex
// characters.
func NewState() (string, error) {
	const op = "auth.NewState"
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", op, ErrIDGenerator, err)
	}
	return strings.ReplaceAll(id, "-", ""), nil
}
