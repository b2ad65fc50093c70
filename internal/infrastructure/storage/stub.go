package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/erp/bcsync/internal/domain/customersync"
)

// NoopResultArchive is used when archiving is disabled. It stores nothing and
// returns an empty key.
type NoopResultArchive struct{}

var _ customersync.ResultArchive = NoopResultArchive{}

// Store discards the payload
func (NoopResultArchive) Store(context.Context, uuid.UUID, time.Time, []byte) (string, error) {
	return "", nil
}
