package chat

import (
	"fmt"

	"github.com/google/uuid"
)

// ScanNotFoundError is returned when a conversation references a scan that
// does not exist or belongs to another user.
type ScanNotFoundError struct {
	ScanID uuid.UUID
}

func (e *ScanNotFoundError) Error() string {
	return fmt.Sprintf("scan %s not found", e.ScanID)
}
