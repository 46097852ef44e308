package xid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a prefixed identifier. UUIDv7 keeps ids time ordered, which the
// lot FIFO comparison relies on as a tie breaker.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), uuid.NewString())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}
