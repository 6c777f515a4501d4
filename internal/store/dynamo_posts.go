package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// --- Post operations ---

func (s *DynamoStore) CreatePost(ctx context.Context, post *Post) (string, error) {
	if post.CreatedAt == 0 {
		post.CreatedAt = time.Now().UnixMilli()
	}
	if post.ID == "" {
		post.ID = NewPostID(time.UnixMilli(post.CreatedAt))
	}

	if err := s.putItem(ctx, pkPost, post.ID, post); err != nil {
		return "", fmt.Errorf("create post %s: %w", post.ID, err)
	}

	log.Debug().
		Str("postId", post.ID).
		Str("author", post.Author).
		Str("correlationId", post.CorrelationID).
		Msg("Post persisted")
	return post.ID, nil
}

func (s *DynamoStore) GetPost(ctx context.Context, id string) (*Post, error) {
	var post Post
	found, err := s.getItem(ctx, pkPost, id, &post)
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	post.ID = id
	return &post, nil
}

func (s *DynamoStore) FindPostByCorrelation(ctx context.Context, channel, correlationID string, deleted bool) (*Post, error) {
	keyCond, values := keyCondition(pkPost)
	values[":cid"] = &types.AttributeValueMemberS{Value: correlationID}
	values[":d"] = &types.AttributeValueMemberBOOL{Value: deleted}

	filter := "correlationId = :cid AND deleted = :d"
	if channel != "" {
		filter += " AND channel = :ch"
		values[":ch"] = &types.AttributeValueMemberS{Value: channel}
	}

	input := &dynamodb.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    keyCond,
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: values,
		// Descending SK order: the first match is the newest post.
		ScanIndexForward: aws.Bool(false),
	}

	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("find post by correlation %s: %w", correlationID, err)
		}

		if len(result.Items) > 0 {
			raw := result.Items[0]
			var post Post
			if err := attributevalue.UnmarshalMap(raw, &post); err != nil {
				return nil, fmt.Errorf("unmarshal post %s: %w", itemSK(raw), err)
			}
			post.ID = itemSK(raw)
			return &post, nil
		}

		if result.LastEvaluatedKey == nil {
			return nil, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func (s *DynamoStore) MarkPostDeleted(ctx context.Context, id string, deletedAt time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              itemKey(pkPost, id),
		UpdateExpression: aws.String("SET deleted = :t, deletedAt = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t":  &types.AttributeValueMemberBOOL{Value: true},
			":at": &types.AttributeValueMemberN{Value: strconv.FormatInt(deletedAt.UnixMilli(), 10)},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("mark post %s deleted: %w", id, err)
	}

	log.Debug().Str("postId", id).Msg("Post soft-deleted")
	return nil
}

func (s *DynamoStore) RestorePost(ctx context.Context, id string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              itemKey(pkPost, id),
		UpdateExpression: aws.String("SET deleted = :f REMOVE deletedAt"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("restore post %s: %w", id, err)
	}

	log.Debug().Str("postId", id).Msg("Post restored")
	return nil
}

func (s *DynamoStore) ListPosts(ctx context.Context, limit int, cursor string) ([]*Post, string, error) {
	keyCond, values := keyCondition(pkPost)
	input := &dynamodb.QueryInput{
		TableName:                 &s.tableName,
		KeyConditionExpression:    keyCond,
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	if cursor != "" {
		input.ExclusiveStartKey = itemKey(pkPost, cursor)
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("list posts: %w", err)
	}

	posts := make([]*Post, 0, len(result.Items))
	for _, raw := range result.Items {
		var post Post
		if err := attributevalue.UnmarshalMap(raw, &post); err != nil {
			log.Warn().Err(err).Str("sk", itemSK(raw)).Msg("Failed to unmarshal post, skipping")
			continue
		}
		post.ID = itemSK(raw)
		posts = append(posts, &post)
	}

	next := ""
	if result.LastEvaluatedKey != nil && len(posts) > 0 {
		next = posts[len(posts)-1].ID
	}
	return posts, next, nil
}
