package port

import (
	"context"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
)

// AuditSink records security events.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
