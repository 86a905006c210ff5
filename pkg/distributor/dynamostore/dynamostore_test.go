package dynamostore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockAPI struct {
	describeFunc func(ctx context.Context, input *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	createFunc   func(ctx context.Context, input *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	putFunc      func(ctx context.Context, input *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	getFunc      func(ctx context.Context, input *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	queryFunc    func(ctx context.Context, input *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

func (m *mockAPI) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return m.describeFunc(ctx, input, optFns...)
}
func (m *mockAPI) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return m.createFunc(ctx, input, optFns...)
}
func (m *mockAPI) PutItem(ctx context.Context, input *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.putFunc(ctx, input, optFns...)
}
func (m *mockAPI) GetItem(ctx context.Context, input *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return m.getFunc(ctx, input, optFns...)
}
func (m *mockAPI) Query(ctx context.Context, input *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return m.queryFunc(ctx, input, optFns...)
}

func TestEnsureTableSkipsCreateWhenTableExists(t *testing.T) {
	created := false
	mock := &mockAPI{
		describeFunc: func(ctx context.Context, input *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			return &dynamodb.DescribeTableOutput{}, nil
		},
		createFunc: func(ctx context.Context, input *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			created = true
			return &dynamodb.CreateTableOutput{}, nil
		},
	}
	store := NewWithAPI(mock, "agent_tasks")
	if err := store.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if created {
		t.Error("expected CreateTable not to be called when table already exists")
	}
}

func TestEnsureTableCreatesWithClientIndex(t *testing.T) {
	mock := &mockAPI{
		describeFunc: func(ctx context.Context, input *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
			return nil, errors.New("not found")
		},
		createFunc: func(ctx context.Context, input *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
			if len(input.GlobalSecondaryIndexes) != 1 || aws.ToString(input.GlobalSecondaryIndexes[0].IndexName) != clientIndexName {
				t.Errorf("expected ClientIdIndex GSI, got %+v", input.GlobalSecondaryIndexes)
			}
			return &dynamodb.CreateTableOutput{}, nil
		},
	}
	store := NewWithAPI(mock, "agent_tasks")
	if err := store.EnsureTable(context.Background()); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
}

func TestPutTaskAndGetTaskRoundTrip(t *testing.T) {
	var stored map[string]types.AttributeValue
	mock := &mockAPI{
		putFunc: func(ctx context.Context, input *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			stored = input.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		getFunc: func(ctx context.Context, input *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: stored}, nil
		},
	}
	store := NewWithAPI(mock, "agent_tasks")

	if err := store.PutTask(context.Background(), "t1", map[string]interface{}{
		"client_id": "tenantA",
		"priority":  float64(5),
		"done":      false,
	}); err != nil {
		t.Fatalf("PutTask: %v", err)
	}

	data, ok, err := store.GetTask(context.Background(), "t1")
	if err != nil || !ok {
		t.Fatalf("GetTask: data=%+v ok=%v err=%v", data, ok, err)
	}
	if data["task_id"] != "t1" || data["client_id"] != "tenantA" || data["priority"] != float64(5) || data["done"] != false {
		t.Errorf("unexpected round-tripped data: %+v", data)
	}
}

func TestGetTaskMissingReturnsFalse(t *testing.T) {
	mock := &mockAPI{getFunc: func(ctx context.Context, input *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{}, nil
	}}
	store := NewWithAPI(mock, "agent_tasks")

	_, ok, err := store.GetTask(context.Background(), "ghost")
	if err != nil || ok {
		t.Fatalf("expected not-found, got ok=%v err=%v", ok, err)
	}
}

func TestQueryByClientUsesIndex(t *testing.T) {
	mock := &mockAPI{queryFunc: func(ctx context.Context, input *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
		if aws.ToString(input.IndexName) != clientIndexName {
			t.Errorf("IndexName = %s, want %s", aws.ToString(input.IndexName), clientIndexName)
		}
		return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
			{"task_id": &types.AttributeValueMemberS{Value: "t1"}, "client_id": &types.AttributeValueMemberS{Value: "tenantA"}},
		}}, nil
	}}
	store := NewWithAPI(mock, "agent_tasks")

	items, err := store.QueryByClient(context.Background(), "tenantA")
	if err != nil || len(items) != 1 || items[0]["task_id"] != "t1" {
		t.Fatalf("unexpected query result: items=%+v err=%v", items, err)
	}
}
