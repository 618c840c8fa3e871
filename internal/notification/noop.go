package notification

import (
	"context"

	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// NoOpPublisher logs alerts instead of publishing them. Use when SNS is
// not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a log-only alert publisher.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	if logger == nil {
		logger = observability.NewTestLogger()
	}
	return &NoOpPublisher{logger: logger.WithComponent("notification")}
}

// PublishQuotaAlert logs the alert. Implements Alerter.
func (p *NoOpPublisher) PublishQuotaAlert(ctx context.Context, alert QuotaAlert) error {
	p.logger.LogWarn(ctx, "quota alert (SNS disabled)",
		"action", "publish",
		"level", alert.Level,
		"usage_bytes", alert.UsageBytes,
		"quota_bytes", alert.QuotaBytes,
		"usage_percent", alert.UsagePercent,
	)
	return nil
}

// PublishInvalidationAudit logs the audit event. Implements Auditor.
func (p *NoOpPublisher) PublishInvalidationAudit(ctx context.Context, audit InvalidationAudit) error {
	p.logger.LogInfo(ctx, "invalidation audit (SNS disabled)",
		"action", "publish",
		"target", audit.Target,
		"cause", audit.Cause,
		"removed", audit.Removed,
	)
	return nil
}
