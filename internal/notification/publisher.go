// Package notification publishes operational alerts raised by the cache,
// currently storage quota pressure.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsync/cachecore/internal/platform/aws"
	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// Alert severity levels.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// QuotaAlert describes one quota pressure event.
type QuotaAlert struct {
	Level         string    `json:"level"`
	UsageBytes    int64     `json:"usage_bytes"`
	QuotaBytes    int64     `json:"quota_bytes"`
	UsagePercent  float64   `json:"usage_percent"`
	PrunedEntries int       `json:"pruned_entries"`
	Timestamp     time.Time `json:"timestamp"`
}

// InvalidationAudit records one operator-driven invalidation.
type InvalidationAudit struct {
	Target    string    `json:"target"`
	Cause     string    `json:"cause"`
	Removed   int       `json:"removed"`
	Timestamp time.Time `json:"timestamp"`
}

// Alerter is the quota manager's outbound alert surface.
type Alerter interface {
	PublishQuotaAlert(ctx context.Context, alert QuotaAlert) error
}

// Auditor receives invalidation audit events.
type Auditor interface {
	PublishInvalidationAudit(ctx context.Context, audit InvalidationAudit) error
}

// Publisher publishes alerts to an SNS topic.
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
}

// NewPublisher creates an SNS-backed alert publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    logger.WithComponent("notification"),
	}, nil
}

// PublishQuotaAlert publishes a quota alert with filterable attributes.
func (p *Publisher) PublishQuotaAlert(ctx context.Context, alert QuotaAlert) error {
	attributes := map[string]string{
		"alert_type": "quota",
		"level":      alert.Level,
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, alert, attributes); err != nil {
		return fmt.Errorf("quota alert publish failed: %w", err)
	}

	p.logger.LogInfo(ctx, "published quota alert",
		"action", "publish",
		"level", alert.Level,
		"usage_percent", alert.UsagePercent,
	)
	return nil
}

// PublishInvalidationAudit publishes an invalidation audit event.
func (p *Publisher) PublishInvalidationAudit(ctx context.Context, audit InvalidationAudit) error {
	attributes := map[string]string{
		"alert_type": "invalidation",
		"cause":      audit.Cause,
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, audit, attributes); err != nil {
		return fmt.Errorf("invalidation audit publish failed: %w", err)
	}

	p.logger.LogInfo(ctx, "published invalidation audit",
		"action", "publish",
		"target", audit.Target,
		"removed", audit.Removed,
	)
	return nil
}
