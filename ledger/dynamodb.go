package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// dynamoItem is the table layout. expires_at and updated_at are epoch
// milliseconds; purge_at is epoch seconds so it can serve as the table's TTL
// attribute.
type dynamoItem struct {
	PK        string `dynamodbav:"pk"`
	Status    string `dynamodbav:"status"`
	ExpiresAt *int64 `dynamodbav:"expires_at"`
	Attempts  int    `dynamodbav:"attempts"`
	Result    string `dynamodbav:"result,omitempty"`
	Error     string `dynamodbav:"error,omitempty"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
	PurgeAt   *int64 `dynamodbav:"purge_at"`
}

// DynamoStore is a Store backed by a DynamoDB table keyed on the string
// attribute "pk".
type DynamoStore struct {
	client dynamodbiface.DynamoDBAPI
	table  string
}

func NewDynamoStore(client dynamodbiface.DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Get(ctx context.Context, key string) (*model.LedgerEntry, error) {
	out, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", key, err)
	}

	e := &model.LedgerEntry{
		Key:       item.PK,
		Status:    model.Status(item.Status),
		Attempts:  item.Attempts,
		Error:     item.Error,
		UpdatedAt: time.UnixMilli(item.UpdatedAt).UTC(),
	}
	if item.ExpiresAt != nil {
		t := time.UnixMilli(*item.ExpiresAt).UTC()
		e.ExpiresAt = &t
	}
	if item.PurgeAt != nil {
		t := time.Unix(*item.PurgeAt, 0).UTC()
		e.PurgeAt = &t
	}
	if item.Result != "" {
		e.Result = []byte(item.Result)
	}
	return e, nil
}

func (s *DynamoStore) Claim(ctx context.Context, key string, now, expiresAt time.Time, purgeAt *time.Time) (int, error) {
	update := "SET #s = :inflight, expires_at = :exp, updated_at = :now"
	values := map[string]*dynamodb.AttributeValue{
		":inflight": {S: aws.String(string(model.StatusInProgress))},
		":failed":   {S: aws.String(string(model.StatusFailed))},
		":exp":      millis(expiresAt),
		":now":      millis(now),
		":nowsec":   {N: aws.String(strconv.FormatInt(now.Unix(), 10))},
		":one":      {N: aws.String("1")},
	}
	remove := " REMOVE #res, #err"
	if purgeAt != nil {
		update += ", purge_at = :purge"
		values[":purge"] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(purgeAt.Unix(), 10))}
	} else {
		remove += ", purge_at"
	}
	update += remove + " ADD attempts :one"

	out, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.table),
		Key:              s.key(key),
		UpdateExpression: aws.String(update),
		ConditionExpression: aws.String(
			"attribute_not_exists(pk) OR #s = :failed OR expires_at < :now OR purge_at <= :nowsec"),
		ExpressionAttributeNames: map[string]*string{
			"#s":   aws.String("status"),
			"#res": aws.String("result"),
			"#err": aws.String("error"),
		},
		ExpressionAttributeValues: values,
		ReturnValues:              aws.String(dynamodb.ReturnValueUpdatedNew),
	})
	if err != nil {
		return 0, mapDynamoError(err)
	}

	attr, ok := out.Attributes["attempts"]
	if !ok || attr.N == nil {
		return 0, errors.New("update response missing attempts")
	}
	n, err := strconv.Atoi(aws.StringValue(attr.N))
	if err != nil {
		return 0, fmt.Errorf("parse attempts: %w", err)
	}
	return n, nil
}

func (s *DynamoStore) Complete(ctx context.Context, key string, attempt int, result []byte, now time.Time, purgeAt *time.Time) error {
	update := "SET #s = :done, #res = :result, updated_at = :now"
	values := map[string]*dynamodb.AttributeValue{
		":done":     {S: aws.String(string(model.StatusDone))},
		":inflight": {S: aws.String(string(model.StatusInProgress))},
		":result":   {S: aws.String(string(result))},
		":now":      millis(now),
		":attempt":  {N: aws.String(strconv.Itoa(attempt))},
	}
	if purgeAt != nil {
		update += ", purge_at = :purge"
		values[":purge"] = &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(purgeAt.Unix(), 10))}
	}
	update += " REMOVE expires_at"

	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(key),
		UpdateExpression:    aws.String(update),
		ConditionExpression: aws.String("#s = :inflight AND attempts = :attempt"),
		ExpressionAttributeNames: map[string]*string{
			"#s":   aws.String("status"),
			"#res": aws.String("result"),
		},
		ExpressionAttributeValues: values,
	})
	return mapDynamoError(err)
}

func (s *DynamoStore) Fail(ctx context.Context, key string, attempt int, reason string, now, expiresAt time.Time) error {
	_, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(key),
		UpdateExpression:    aws.String("SET #s = :failed, expires_at = :exp, #err = :reason, updated_at = :now"),
		ConditionExpression: aws.String("#s = :inflight AND attempts = :attempt"),
		ExpressionAttributeNames: map[string]*string{
			"#s":   aws.String("status"),
			"#err": aws.String("error"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":failed":   {S: aws.String(string(model.StatusFailed))},
			":inflight": {S: aws.String(string(model.StatusInProgress))},
			":exp":      millis(expiresAt),
			":reason":   {S: aws.String(reason)},
			":now":      millis(now),
			":attempt":  {N: aws.String(strconv.Itoa(attempt))},
		},
	})
	return mapDynamoError(err)
}

func (s *DynamoStore) key(k string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{"pk": {S: aws.String(k)}}
}

func millis(t time.Time) *dynamodb.AttributeValue {
	return &dynamodb.AttributeValue{N: aws.String(strconv.FormatInt(t.UnixMilli(), 10))}
}

func mapDynamoError(err error) error {
	if err == nil {
		return nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrConditionFailed
	}
	return err
}
