package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the idempotency adapter needs.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoIdempotencyRepository stores completions in a table keyed by
// effect_name (hash) and event_id (range).
type DynamoIdempotencyRepository struct {
	client DynamoAPI
	table  string
}

func NewDynamoIdempotencyRepository(client DynamoAPI, table string) *DynamoIdempotencyRepository {
	return &DynamoIdempotencyRepository{client: client, table: table}
}

func (d *DynamoIdempotencyRepository) key(effectName, eventID string) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(map[string]string{
		"effect_name": effectName,
		"event_id":    eventID,
	})
}

func (d *DynamoIdempotencyRepository) Exists(ctx context.Context, effectName, eventID string) (bool, error) {
	key, err := d.key(effectName, eventID)
	if err != nil {
		return false, fmt.Errorf("marshal key: %w", err)
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	return len(out.Item) > 0, nil
}

func (d *DynamoIdempotencyRepository) Record(ctx context.Context, effectName, eventID string, completedAt time.Time) error {
	item, err := attributevalue.MarshalMap(models.IdempotencyRecord{
		EffectName:  effectName,
		EventID:     eventID,
		CompletedAt: completedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(event_id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}
