package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// dynamoRecord is the table representation of one entry. The ttl
// attribute lets DynamoDB expire abandoned entries on its own.
type dynamoRecord struct {
	CacheKey  string `dynamodbav:"cache_key" json:"cache_key"`
	Schema    int    `dynamodbav:"schema" json:"schema"`
	Payload   []byte `dynamodbav:"payload" json:"payload"`
	UpdatedAt int64  `dynamodbav:"updated_at" json:"updated_at"`
	TTL       int64  `dynamodbav:"ttl" json:"ttl"`
}

// DynamoStore is a DynamoDB-backed persistent store, for deployments
// where the durable tier lives behind an API instead of a local Redis.
type DynamoStore struct {
	client     *dynamodb.Client
	tableName  string
	maxEntries int
	maxAge     time.Duration
	logger     *observability.Logger
	pruning    atomic.Bool
}

// DynamoStoreConfig configures a DynamoStore.
type DynamoStoreConfig struct {
	Client     *dynamodb.Client
	TableName  string
	MaxEntries int
	MaxAge     time.Duration
	Logger     *observability.Logger
}

// NewDynamoStore creates a DynamoDB-backed store.
func NewDynamoStore(cfg DynamoStoreConfig) (*DynamoStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("dynamo store: client is required")
	}
	if cfg.TableName == "" {
		return nil, fmt.Errorf("dynamo store: table name is required")
	}

	return &DynamoStore{
		client:     cfg.Client,
		tableName:  cfg.TableName,
		maxEntries: cfg.MaxEntries,
		maxAge:     cfg.MaxAge,
		logger:     cfg.Logger,
	}, nil
}

func (d *DynamoStore) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Get retrieves an entry by key.
func (d *DynamoStore) Get(ctx context.Context, key string) (*Entry, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.keyAttr(key),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo get error: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var record dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	if record.Schema != storeSchemaVersion {
		_ = d.Del(ctx, key)
		return nil, ErrNotFound
	}

	var entry Entry
	if err := json.Unmarshal(record.Payload, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	return &entry, nil
}

// Set stores an entry and kicks an asynchronous prune.
func (d *DynamoStore) Set(ctx context.Context, key string, entry *Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	record := dynamoRecord{
		CacheKey:  key,
		Schema:    storeSchemaVersion,
		Payload:   payload,
		UpdatedAt: entry.Meta.UpdatedAt.UnixMilli(),
		TTL:       entry.Meta.ExpiresAt.Unix(),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamo put error: %w", err)
	}

	d.pruneAsync()

	return nil
}

// Del removes a key.
func (d *DynamoStore) Del(ctx context.Context, key string) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.keyAttr(key),
	}); err != nil {
		return fmt.Errorf("dynamo delete error: %w", err)
	}
	return nil
}

// Clear removes every entry.
func (d *DynamoStore) Clear(ctx context.Context) error {
	keys, err := d.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := d.Del(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Keys lists all live keys via a projected scan.
func (d *DynamoStore) Keys(ctx context.Context) ([]string, error) {
	records, err := d.scanIndex(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, r.CacheKey)
	}
	return keys, nil
}

// Prune deletes entries older than maxAge, then trims oldest-first until
// at most maxEntries remain.
func (d *DynamoStore) Prune(ctx context.Context, maxEntries int, maxAge time.Duration) (int, error) {
	records, err := d.scanIndex(ctx)
	if err != nil {
		return 0, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt < records[j].UpdatedAt
	})

	removed := 0

	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge).UnixMilli()
		for len(records) > 0 && records[0].UpdatedAt < cutoff {
			if err := d.Del(ctx, records[0].CacheKey); err != nil {
				return removed, err
			}
			records = records[1:]
			removed++
		}
	}

	if maxEntries > 0 {
		for len(records) > maxEntries {
			if err := d.Del(ctx, records[0].CacheKey); err != nil {
				return removed, err
			}
			records = records[1:]
			removed++
		}
	}

	return removed, nil
}

// scanIndex reads key + timestamp for every record, following pagination.
func (d *DynamoStore) scanIndex(ctx context.Context) ([]dynamoRecord, error) {
	var records []dynamoRecord
	var startKey map[string]types.AttributeValue

	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.tableName),
			ProjectionExpression: aws.String("cache_key, updated_at"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo scan error: %w", err)
		}

		var page []dynamoRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		records = append(records, page...)

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return records, nil
}

func (d *DynamoStore) pruneAsync() {
	if d.maxEntries <= 0 && d.maxAge <= 0 {
		return
	}
	if !d.pruning.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer d.pruning.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := d.Prune(ctx, d.maxEntries, d.maxAge); err != nil && d.logger != nil {
			d.logger.LogWarn(ctx, "background prune failed", "action", "prune", "error", err)
		}
	}()
}

// Close is a no-op; the SDK client owns no long-lived connection state here.
func (d *DynamoStore) Close() error {
	return nil
}
