package ids

import (
	"strings"

	"github.com/hashicorp/go-uuid"
)

func NewInvocationID() (string, error) {
	return uuid.GenerateUUID()
}

func IsValidInvocationID(s string) bool {
	_, err := uuid.ParseUUID(strings.TrimSpace(s))
	return err == nil
}
