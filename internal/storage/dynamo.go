package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/models"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore keeps records in a DynamoDB table whose partition key is
// "Service" and sort key is "Username".
type DynamoStore struct {
	client DynamoAPI
	table  string
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Table() string {
	return s.table
}

func recordKey(service, username string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Service":  &types.AttributeValueMemberS{Value: service},
		"Username": &types.AttributeValueMemberS{Value: username},
	}
}

// PutRecord overwrites unconditionally; the last write wins.
func (s *DynamoStore) PutRecord(ctx context.Context, rec *models.Record) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return chainerr.NewServiceError(fmt.Sprintf("dynamodb encode item for %s", s.table), err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return chainerr.NewServiceError(fmt.Sprintf("dynamodb put item in %s", s.table), err)
	}

	return nil
}

func (s *DynamoStore) GetRecord(ctx context.Context, service, username string) (*models.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       recordKey(service, username),
	})
	if err != nil {
		return nil, chainerr.NewServiceError(fmt.Sprintf("dynamodb get item from %s", s.table), err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	var rec models.Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, chainerr.NewServiceError(fmt.Sprintf("dynamodb decode item from %s", s.table), err)
	}

	return &rec, nil
}

// ScanRecords reads the whole table, following pagination.
func (s *DynamoStore) ScanRecords(ctx context.Context) ([]*models.Record, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})

	var records []*models.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, chainerr.NewServiceError(fmt.Sprintf("dynamodb scan %s", s.table), err)
		}

		var batch []*models.Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, chainerr.NewServiceError(fmt.Sprintf("dynamodb decode scanned items from %s", s.table), err)
		}
		records = append(records, batch...)
	}

	return records, nil
}
