package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tree-estimator/core/engine"
	ierrors "tree-estimator/internal/errors"
)

// DynamoDBOptions configures the DynamoDB client.
// Static credentials and an endpoint are for local DynamoDB; leave them
// empty to use the default AWS credential chain.
type DynamoDBOptions struct {
	Table           string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// DynamoDBAPI is the part of the DynamoDB client the store uses
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// NewDynamoDBClient builds a client from opts
func NewDynamoDBClient(ctx context.Context, opts DynamoDBOptions) (*dynamodb.Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, ierrors.Config("failed to load aws config", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// resultItem is the stored shape. Table requirements: PK id (string).
type resultItem struct {
	ID              string `dynamodbav:"id"`
	CalculationDate string `dynamodbav:"calculation_date"`
	CalculatedAt    string `dynamodbav:"calculated_at"`
	FinalTotal      string `dynamodbav:"final_total"`
	Checksum        string `dynamodbav:"checksum"`
	Payload         string `dynamodbav:"payload"`
}

// DynamoStore persists results in a DynamoDB table
type DynamoStore struct {
	ddb       DynamoDBAPI
	tableName string
}

// NewDynamoStore creates a DynamoDB-backed store
func NewDynamoStore(ddb DynamoDBAPI, table string) *DynamoStore {
	if table == "" {
		table = "calculations"
	}
	return &DynamoStore{ddb: ddb, tableName: table}
}

func (s *DynamoStore) Save(ctx context.Context, result *engine.Result) error {
	if err := checkSavable(result); err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	av, err := attributevalue.MarshalMap(resultItem{
		ID:              result.ID,
		CalculationDate: result.Input.CalculationDate.String(),
		CalculatedAt:    result.CalculatedAt.UTC().Format(time.RFC3339Nano),
		FinalTotal:      result.FinalTotal.StringFixed(2),
		Checksum:        result.Checksum,
		Payload:         string(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": "id",
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return conflict(result.ID)
		}
		return ierrors.Wrap(ierrors.TypeNetwork, "dynamodb put item", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*engine.Result, error) {
	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, ierrors.Wrap(ierrors.TypeNetwork, "dynamodb get item", err)
	}
	if len(out.Item) == 0 {
		return nil, notFound(id)
	}
	return decodeItem(out.Item)
}

func (s *DynamoStore) List(ctx context.Context, filter *ListFilter) ([]*engine.Result, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}
	if filter != nil {
		expr, names, values := scanFilter(filter)
		if expr != "" {
			input.FilterExpression = aws.String(expr)
			input.ExpressionAttributeNames = names
			input.ExpressionAttributeValues = values
		}
	}

	var results []*engine.Result
	paginator := dynamodb.NewScanPaginator(s.ddb, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, ierrors.Wrap(ierrors.TypeNetwork, "dynamodb scan", err)
		}
		for _, item := range page.Items {
			result, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			if filter.Match(result) {
				results = append(results, result)
			}
		}
	}
	return filter.finish(results), nil
}

func (s *DynamoStore) Close() error {
	return nil
}

// scanFilter pushes the date range down to DynamoDB. ISO dates compare correctly as strings.
func scanFilter(f *ListFilter) (string, map[string]string, map[string]types.AttributeValue) {
	var expr string
	values := map[string]types.AttributeValue{}
	if f.From != (civil.Date{}) {
		expr = "#d >= :from"
		values[":from"] = &types.AttributeValueMemberS{Value: f.From.String()}
	}
	if f.To != (civil.Date{}) {
		if expr != "" {
			expr += " AND "
		}
		expr += "#d < :to"
		values[":to"] = &types.AttributeValueMemberS{Value: f.To.String()}
	}
	if expr == "" {
		return "", nil, nil
	}
	return expr, map[string]string{"#d": "calculation_date"}, values
}

func decodeItem(item map[string]types.AttributeValue) (*engine.Result, error) {
	var it resultItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, ierrors.Parsing("failed to unmarshal item", err)
	}
	var result engine.Result
	if err := json.Unmarshal([]byte(it.Payload), &result); err != nil {
		return nil, ierrors.Parsing("failed to unmarshal result "+it.ID, err)
	}
	return &result, nil
}
