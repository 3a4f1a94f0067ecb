package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
)

const (
	attrPK    = "pk"
	attrSK    = "sk"
	tableWait = 2 * time.Minute
)

// auditItem is the stored shape of an audit entry.
// pk is entity_type#entity_id; sk is the zero-padded UnixNano timestamp
// followed by the entry ID so a Query on pk returns entries in time order.
type auditItem struct {
	PK          string                 `dynamodbav:"pk"`
	SK          string                 `dynamodbav:"sk"`
	ID          string                 `dynamodbav:"id"`
	EntityType  string                 `dynamodbav:"entity_type"`
	EntityID    string                 `dynamodbav:"entity_id"`
	Action      string                 `dynamodbav:"action"`
	Actor       string                 `dynamodbav:"actor"`
	Timestamp   int64                  `dynamodbav:"ts"`
	BeforeState string                 `dynamodbav:"before_state,omitempty"`
	AfterState  string                 `dynamodbav:"after_state,omitempty"`
	Metadata    map[string]interface{} `dynamodbav:"metadata,omitempty"`
}

// AuditStore implements port.AuditStore on DynamoDB
type AuditStore struct {
	client *dynamodb.Client
	table  string
	logger *zap.Logger
}

// NewAuditStore creates an audit store on the given table
func NewAuditStore(client *dynamodb.Client, table string, logger *zap.Logger) *AuditStore {
	return &AuditStore{
		client: client,
		table:  table,
		logger: logger,
	}
}

// Append stores an entry. An existing item with the same key is never overwritten.
func (s *AuditStore) Append(ctx context.Context, entry *entity.AuditLogEntry) error {
	av, err := attributevalue.MarshalMap(toAuditItem(entry))
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return fmt.Errorf("audit entry %s: %w", entry.ID, entity.ErrConflict)
		}
		s.logger.Error("Failed to append audit entry",
			zap.String("entity_id", entry.EntityID),
			zap.String("action", entry.Action),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries newest first. Filters naming a single entity
// use a key query; anything broader falls back to a table scan.
func (s *AuditStore) Query(ctx context.Context, filter entity.AuditFilter) ([]*entity.AuditLogEntry, error) {
	var (
		items []auditItem
		err   error
	)
	if filter.EntityType != "" && filter.EntityID != "" {
		items, err = s.queryEntity(ctx, filter)
	} else {
		items, err = s.scan(ctx, filter)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SK > items[j].SK
	})
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	entries := make([]*entity.AuditLogEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, fromAuditItem(it))
	}
	return entries, nil
}

func (s *AuditStore) queryEntity(ctx context.Context, filter entity.AuditFilter) ([]auditItem, error) {
	keyCond := "#pk = :pk"
	names := map[string]string{"#pk": attrPK}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: partitionKey(filter.EntityType.String(), filter.EntityID)},
	}
	if !filter.Since.IsZero() {
		keyCond += " AND #sk >= :since"
		names["#sk"] = attrSK
		values[":since"] = &types.AttributeValueMemberS{Value: sortPrefix(filter.Since)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
		ConsistentRead:            aws.Bool(true),
	}
	if filter.Action != "" {
		input.FilterExpression = aws.String("#action = :action")
		names["#action"] = "action"
		values[":action"] = &types.AttributeValueMemberS{Value: filter.Action}
	}

	var items []auditItem
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query audit log: %w", err)
		}
		var batch []auditItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode audit entries: %w", err)
		}
		items = append(items, batch...)
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func (s *AuditStore) scan(ctx context.Context, filter entity.AuditFilter) ([]auditItem, error) {
	var conds []string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}

	if filter.EntityType != "" {
		conds = append(conds, "#entity_type = :entity_type")
		names["#entity_type"] = "entity_type"
		values[":entity_type"] = &types.AttributeValueMemberS{Value: filter.EntityType.String()}
	}
	if filter.EntityID != "" {
		conds = append(conds, "#entity_id = :entity_id")
		names["#entity_id"] = "entity_id"
		values[":entity_id"] = &types.AttributeValueMemberS{Value: filter.EntityID}
	}
	if filter.Action != "" {
		conds = append(conds, "#action = :action")
		names["#action"] = "action"
		values[":action"] = &types.AttributeValueMemberS{Value: filter.Action}
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "#sk >= :since")
		names["#sk"] = attrSK
		values[":since"] = &types.AttributeValueMemberS{Value: sortPrefix(filter.Since)}
	}

	input := &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	}
	if len(conds) > 0 {
		input.FilterExpression = aws.String(strings.Join(conds, " AND "))
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var items []auditItem
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		var batch []auditItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode audit entries: %w", err)
		}
		items = append(items, batch...)
	}
	return items, nil
}

func partitionKey(entityType, entityID string) string {
	return entityType + "#" + entityID
}

// sortPrefix renders t so that lexical order matches time order
func sortPrefix(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func toAuditItem(e *entity.AuditLogEntry) auditItem {
	return auditItem{
		PK:          partitionKey(e.EntityType.String(), e.EntityID),
		SK:          sortPrefix(e.Timestamp) + "#" + e.ID,
		ID:          e.ID,
		EntityType:  e.EntityType.String(),
		EntityID:    e.EntityID,
		Action:      e.Action,
		Actor:       e.Actor,
		Timestamp:   e.Timestamp.UnixNano(),
		BeforeState: e.BeforeState,
		AfterState:  e.AfterState,
		Metadata:    e.Metadata,
	}
}

func fromAuditItem(it auditItem) *entity.AuditLogEntry {
	return &entity.AuditLogEntry{
		ID:          it.ID,
		EntityType:  entity.EntityType(it.EntityType),
		EntityID:    it.EntityID,
		Action:      it.Action,
		Actor:       it.Actor,
		Timestamp:   time.Unix(0, it.Timestamp).UTC(),
		BeforeState: it.BeforeState,
		AfterState:  it.AfterState,
		Metadata:    it.Metadata,
	}
}

var _ port.AuditStore = (*AuditStore)(nil)
