package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// --- Creation queue operations ---

func (s *DynamoStore) PutQueueItem(ctx context.Context, item *QueueItem) error {
	if err := s.putItem(ctx, pkQueue, item.ID, item); err != nil {
		return fmt.Errorf("put queue item %s: %w", item.ID, err)
	}

	log.Debug().
		Str("itemId", item.ID).
		Str("status", string(item.Status)).
		Int("attempts", item.Attempts).
		Msg("Queue item persisted")
	return nil
}

func (s *DynamoStore) GetQueueItem(ctx context.Context, id string) (*QueueItem, error) {
	var item QueueItem
	found, err := s.getItem(ctx, pkQueue, id, &item)
	if err != nil {
		return nil, fmt.Errorf("get queue item %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	item.ID = id
	return &item, nil
}

func (s *DynamoStore) DeleteQueueItem(ctx context.Context, id string) error {
	if err := s.deleteItem(ctx, pkQueue, id); err != nil {
		return fmt.Errorf("delete queue item %s: %w", id, err)
	}

	log.Debug().Str("itemId", id).Msg("Queue item removed")
	return nil
}

func (s *DynamoStore) ListQueueItems(ctx context.Context, status Status) ([]*QueueItem, error) {
	keyCond, values := keyCondition(pkQueue)
	input := &dynamodb.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    keyCond,
		ExpressionAttributeValues: values,
	}
	if status != "" {
		// "status" is a DynamoDB reserved word
		input.FilterExpression = aws.String("#s = :status")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	items, err := s.queryAll(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}

	queue := make([]*QueueItem, 0, len(items))
	for _, raw := range items {
		var item QueueItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			log.Warn().Err(err).Str("sk", itemSK(raw)).Msg("Failed to unmarshal queue item, skipping")
			continue
		}
		item.ID = itemSK(raw)
		queue = append(queue, &item)
	}

	return queue, nil
}

// --- Deletion queue operations ---

func (s *DynamoStore) PutDeleteRequest(ctx context.Context, req *DeleteQueueItem) error {
	if err := s.putItem(ctx, pkDelq, req.ID, req); err != nil {
		return fmt.Errorf("put delete request %s: %w", req.ID, err)
	}

	log.Debug().
		Str("requestId", req.ID).
		Str("correlationId", req.CorrelationID).
		Msg("Delete request persisted")
	return nil
}

func (s *DynamoStore) GetDeleteRequest(ctx context.Context, id string) (*DeleteQueueItem, error) {
	var req DeleteQueueItem
	found, err := s.getItem(ctx, pkDelq, id, &req)
	if err != nil {
		return nil, fmt.Errorf("get delete request %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	req.ID = id
	return &req, nil
}

func (s *DynamoStore) RemoveDeleteRequest(ctx context.Context, id string) error {
	if err := s.deleteItem(ctx, pkDelq, id); err != nil {
		return fmt.Errorf("remove delete request %s: %w", id, err)
	}

	log.Debug().Str("requestId", id).Msg("Delete request removed")
	return nil
}
