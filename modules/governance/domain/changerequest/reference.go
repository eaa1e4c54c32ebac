package changerequest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewReference builds the human-readable code CR-<PREFIX>-<YYYYMMDD>-<HEX6>.
func NewReference(prefix string, requestedAt time.Time, publicID uuid.UUID) string {
	hex := strings.ReplaceAll(publicID.String(), "-", "")
	return fmt.Sprintf("CR-%s-%s-%s",
		strings.ToUpper(prefix),
		requestedAt.UTC().Format("20060102"),
		strings.ToUpper(hex[:6]),
	)
}
