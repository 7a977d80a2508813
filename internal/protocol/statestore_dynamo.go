package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// stateItem is the persisted shape. ExpiresAt is a unix-epoch TTL
// attribute; DynamoDB TTL deletion lags, so reads also filter on it.
type stateItem struct {
	ProtocolState
	ExpiresAtEpoch int64 `dynamodbav:"expiresAt"`
}

// DynamoStateStore persists instances to a DynamoDB table keyed by
// instanceId, with a userId GSI for List. Alternate store for
// serverless deployments.
type DynamoStateStore struct {
	client    dynamoAPI
	tableName string
	userIndex string
	logger    *logging.Logger
	now       func() time.Time
}

var _ StateStore = (*DynamoStateStore)(nil)

func NewDynamoStateStore(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoStateStore {
	if client == nil {
		panic("protocol: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("protocol: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoStateStore{
		client:    client,
		tableName: tableName,
		userIndex: "userId-index",
		logger:    logger,
		now:       time.Now,
	}
}

func (s *DynamoStateStore) Get(ctx context.Context, instanceID string) (*ProtocolState, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"instanceId": &types.AttributeValueMemberS{Value: instanceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: dynamo get %s: %w", instanceID, err)
	}
	if out.Item == nil {
		return nil, ErrInstanceNotFound
	}

	var item stateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal instance %s: %w", instanceID, err)
	}
	state := item.ProtocolState
	state.ExpiresAt = time.Unix(item.ExpiresAtEpoch, 0)
	if state.Expired(s.now()) {
		return nil, ErrInstanceNotFound
	}
	return &state, nil
}

func (s *DynamoStateStore) Put(ctx context.Context, state *ProtocolState) error {
	if state == nil || state.InstanceID == "" {
		return errors.New("protocol: instance id required")
	}

	item, err := attributevalue.MarshalMap(stateItem{
		ProtocolState:  *state,
		ExpiresAtEpoch: state.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("protocol: marshal instance %s: %w", state.InstanceID, err)
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("protocol: dynamo put %s: %w", state.InstanceID, err)
	}
	return nil
}

func (s *DynamoStateStore) Delete(ctx context.Context, instanceID string) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"instanceId": &types.AttributeValueMemberS{Value: instanceID},
		},
	}); err != nil {
		return fmt.Errorf("protocol: dynamo delete %s: %w", instanceID, err)
	}
	return nil
}

// List queries the userId GSI and filters the rest client-side.
func (s *DynamoStateStore) List(ctx context.Context, filter Filter) ([]*ProtocolState, error) {
	if filter.UserID == "" {
		return nil, errors.New("protocol: dynamo list requires a user filter")
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.userIndex),
		KeyConditionExpression: aws.String("userId = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: filter.UserID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("protocol: dynamo list for user %s: %w", filter.UserID, err)
	}

	now := s.now()
	var states []*ProtocolState
	for _, raw := range out.Items {
		var item stateItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			s.logger.Warn("skipping undecodable protocol state item", "error", err)
			continue
		}
		state := item.ProtocolState
		state.ExpiresAt = time.Unix(item.ExpiresAtEpoch, 0)
		if state.Expired(now) || !filter.matches(&state) {
			continue
		}
		states = append(states, &state)
	}
	return states, nil
}
