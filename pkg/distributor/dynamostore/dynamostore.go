// Package dynamostore backs pkg/distributor.TaskStore with a DynamoDB table
// keyed on task_id, with a client_id GSI for per-tenant queries.
package dynamostore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
)

const clientIndexName = "ClientIdIndex"

// API is the subset of the AWS DynamoDB client used here, narrowed for
// testing.
type API interface {
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store implements distributor.TaskStore over a real or fake DynamoDB API,
// guarding every call except EnsureTable's DescribeTable existence check
// with a circuit breaker.
type Store struct {
	client    API
	tableName string
	cb        *resilience.CircuitBreaker
	limiter   *resilience.RateLimiter
}

// New loads the default AWS config for region and wraps a DynamoDB client.
func New(ctx context.Context, region, tableName string) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return newStore(dynamodb.NewFromConfig(cfg), tableName), nil
}

// NewWithAPI wraps an already-constructed DynamoDB API, for tests and for
// pointing at a local DynamoDB.
func NewWithAPI(client API, tableName string) *Store {
	return newStore(client, tableName)
}

func newStore(client API, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		cb:        resilience.NewCircuitBreaker("dynamodb", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter:   resilience.NewRateLimiter("dynamodb", resilience.RateLimiterConfig{Limit: 500, Period: resilience.DefaultPeriod}),
	}
}

// EnsureTable creates the tasks table, with its client id GSI, if it does
// not already exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.tableName)})
	if err == nil {
		return nil
	}

	_, err = s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(s.tableName),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("task_id"), AttributeType: types.ScalarAttributeTypeS},
				{AttributeName: aws.String("client_id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("task_id"), KeyType: types.KeyTypeHash},
			},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
				{
					IndexName: aws.String(clientIndexName),
					KeySchema: []types.KeySchemaElement{
						{AttributeName: aws.String("client_id"), KeyType: types.KeyTypeHash},
					},
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
	})
	return err
}

// PutTask writes data under taskID, stamping data["client_id"] onto the GSI
// attribute so QueryByClient can find it.
func (s *Store) PutTask(ctx context.Context, taskID string, data map[string]interface{}) error {
	if !s.limiter.Allow() {
		return awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for dynamodb")
	}

	item := toAttributeValueMap(data)
	item["task_id"] = &types.AttributeValueMemberS{Value: taskID}
	if _, ok := item["client_id"]; !ok {
		item["client_id"] = &types.AttributeValueMemberS{Value: ""}
	}

	_, err := s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      item,
		})
	})
	if err != nil {
		return awcperrors.Wrap(err, awcperrors.Unavailable, "put task "+taskID)
	}
	return nil
}

// GetTask reads taskID's item, reporting (nil, false, nil) if absent.
func (s *Store) GetTask(ctx context.Context, taskID string) (map[string]interface{}, bool, error) {
	if !s.limiter.Allow() {
		return nil, false, awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for dynamodb")
	}

	result, err := s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"task_id": &types.AttributeValueMemberS{Value: taskID},
			},
		})
	})
	if err != nil {
		return nil, false, awcperrors.Wrap(err, awcperrors.Unavailable, "get task "+taskID)
	}
	out := result.(*dynamodb.GetItemOutput)
	if len(out.Item) == 0 {
		return nil, false, nil
	}
	return fromAttributeValueMap(out.Item), true, nil
}

// QueryByClient looks up every task whose client_id matches clientID via the
// ClientIdIndex GSI.
func (s *Store) QueryByClient(ctx context.Context, clientID string) ([]map[string]interface{}, error) {
	if !s.limiter.Allow() {
		return nil, awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for dynamodb")
	}

	result, err := s.cb.Execute(ctx, func() (interface{}, error) {
		return s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(clientIndexName),
			KeyConditionExpression: aws.String("client_id = :c"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: clientID},
			},
		})
	})
	if err != nil {
		return nil, awcperrors.Wrap(err, awcperrors.Unavailable, "query client tasks for "+clientID)
	}
	out := result.(*dynamodb.QueryOutput)

	items := make([]map[string]interface{}, 0, len(out.Items))
	for _, item := range out.Items {
		items = append(items, fromAttributeValueMap(item))
	}
	return items, nil
}

// toAttributeValueMap converts a plain Go map into DynamoDB attribute
// values, mirroring the source's manual dict-to-DynamoDB conversion.
func toAttributeValueMap(data map[string]interface{}) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(data))
	for k, v := range data {
		out[k] = toAttributeValue(v)
	}
	return out
}

func toAttributeValue(v interface{}) types.AttributeValue {
	switch val := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}
	case bool:
		return &types.AttributeValueMemberBOOL{Value: val}
	case string:
		return &types.AttributeValueMemberS{Value: val}
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(val)}
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(val, 10)}
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(val, 'f', -1, 64)}
	case map[string]interface{}:
		return &types.AttributeValueMemberM{Value: toAttributeValueMap(val)}
	case []interface{}:
		list := make([]types.AttributeValue, 0, len(val))
		for _, item := range val {
			list = append(list, toAttributeValue(item))
		}
		return &types.AttributeValueMemberL{Value: list}
	default:
		return &types.AttributeValueMemberS{Value: fmt.Sprintf("%v", val)}
	}
}

// fromAttributeValueMap is the inverse of toAttributeValueMap.
func fromAttributeValueMap(item map[string]types.AttributeValue) map[string]interface{} {
	out := make(map[string]interface{}, len(item))
	for k, v := range item {
		out[k] = fromAttributeValue(v)
	}
	return out
}

func fromAttributeValue(v types.AttributeValue) interface{} {
	switch val := v.(type) {
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberBOOL:
		return val.Value
	case *types.AttributeValueMemberS:
		return val.Value
	case *types.AttributeValueMemberN:
		if f, err := strconv.ParseFloat(val.Value, 64); err == nil {
			return f
		}
		return val.Value
	case *types.AttributeValueMemberM:
		return fromAttributeValueMap(val.Value)
	case *types.AttributeValueMemberL:
		list := make([]interface{}, 0, len(val.Value))
		for _, item := range val.Value {
			list = append(list, fromAttributeValue(item))
		}
		return list
	default:
		return nil
	}
}
