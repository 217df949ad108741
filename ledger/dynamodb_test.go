package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

type fakeDynamo struct {
	dynamodbiface.DynamoDBAPI

	getOut    *dynamodb.GetItemOutput
	updateOut *dynamodb.UpdateItemOutput
	err       error

	gets    []*dynamodb.GetItemInput
	updates []*dynamodb.UpdateItemInput
}

func (f *fakeDynamo) GetItemWithContext(_ aws.Context, in *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	f.gets = append(f.gets, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.getOut, nil
}

func (f *fakeDynamo) UpdateItemWithContext(_ aws.Context, in *dynamodb.UpdateItemInput, _ ...request.Option) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.err != nil {
		return nil, f.err
	}
	return f.updateOut, nil
}

func conditionFailed() error {
	return awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
}

func TestDynamoStore_ClaimBuildsConditionalUpdate(t *testing.T) {
	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{
		Attributes: map[string]*dynamodb.AttributeValue{"attempts": {N: aws.String("3")}},
	}}
	s := NewDynamoStore(fake, "ledger")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	purge := now.Add(24 * time.Hour)

	n, err := s.Claim(context.Background(), "s3://b/k#e", now, now.Add(15*time.Minute), &purge)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, fake.updates, 1)
	in := fake.updates[0]
	assert.Equal(t, "ledger", aws.StringValue(in.TableName))
	assert.Equal(t, "s3://b/k#e", aws.StringValue(in.Key["pk"].S))
	assert.Equal(t,
		"attribute_not_exists(pk) OR #s = :failed OR expires_at < :now OR purge_at <= :nowsec",
		aws.StringValue(in.ConditionExpression))
	assert.Contains(t, aws.StringValue(in.UpdateExpression), "ADD attempts :one")
	assert.Contains(t, aws.StringValue(in.UpdateExpression), "purge_at = :purge")
	assert.NotContains(t, aws.StringValue(in.UpdateExpression), "REMOVE #res, #err, purge_at")
	assert.Equal(t, "1740831300000", aws.StringValue(in.ExpressionAttributeValues[":exp"].N))
	assert.Equal(t, "1740916800", aws.StringValue(in.ExpressionAttributeValues[":purge"].N))
}

func TestDynamoStore_ClaimWithoutRetentionClearsPurgeAt(t *testing.T) {
	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{
		Attributes: map[string]*dynamodb.AttributeValue{"attempts": {N: aws.String("2")}},
	}}
	s := NewDynamoStore(fake, "ledger")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Claim(context.Background(), "k", now, now.Add(time.Minute), nil)
	require.NoError(t, err)

	in := fake.updates[0]
	assert.Equal(t,
		"SET #s = :inflight, expires_at = :exp, updated_at = :now REMOVE #res, #err, purge_at ADD attempts :one",
		aws.StringValue(in.UpdateExpression))
	assert.NotContains(t, in.ExpressionAttributeValues, ":purge")
}

func TestDynamoStore_ConditionFailureMaps(t *testing.T) {
	fake := &fakeDynamo{err: conditionFailed()}
	s := NewDynamoStore(fake, "ledger")
	now := time.Now()

	_, err := s.Claim(context.Background(), "k", now, now.Add(time.Minute), nil)
	assert.ErrorIs(t, err, ErrConditionFailed)

	err = s.Complete(context.Background(), "k", 1, []byte(`{}`), now, nil)
	assert.ErrorIs(t, err, ErrConditionFailed)

	err = s.Fail(context.Background(), "k", 1, "boom", now, now.Add(-time.Second))
	assert.ErrorIs(t, err, ErrConditionFailed)
}

func TestDynamoStore_OtherErrorsPassThrough(t *testing.T) {
	boom := errors.New("throttled")
	s := NewDynamoStore(&fakeDynamo{err: boom}, "ledger")

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
}

func TestDynamoStore_CompleteFencesOnAttempt(t *testing.T) {
	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{}}
	s := NewDynamoStore(fake, "ledger")

	require.NoError(t, s.Complete(context.Background(), "k", 2, []byte(`{"records_parsed":1}`), time.Now(), nil))

	in := fake.updates[0]
	assert.Equal(t, "#s = :inflight AND attempts = :attempt", aws.StringValue(in.ConditionExpression))
	assert.Equal(t, "2", aws.StringValue(in.ExpressionAttributeValues[":attempt"].N))
	assert.Contains(t, aws.StringValue(in.UpdateExpression), "REMOVE expires_at")
	assert.NotContains(t, aws.StringValue(in.UpdateExpression), "purge_at")
}

func TestDynamoStore_GetDecodesItem(t *testing.T) {
	fake := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]*dynamodb.AttributeValue{
		"pk":         {S: aws.String("k")},
		"status":     {S: aws.String("DONE")},
		"attempts":   {N: aws.String("2")},
		"result":     {S: aws.String(`{"records_parsed":5}`)},
		"updated_at": {N: aws.String("1740830400000")},
		"purge_at":   {N: aws.String("1740916800")},
	}}}
	s := NewDynamoStore(fake, "ledger")

	e, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, e.Status)
	assert.Equal(t, 2, e.Attempts)
	assert.JSONEq(t, `{"records_parsed":5}`, string(e.Result))
	assert.Nil(t, e.ExpiresAt)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), e.UpdatedAt)
	require.NotNil(t, e.PurgeAt)
	assert.Equal(t, time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC), *e.PurgeAt)
	assert.True(t, aws.BoolValue(fake.gets[0].ConsistentRead))
}

func TestDynamoStore_GetMissing(t *testing.T) {
	s := NewDynamoStore(&fakeDynamo{getOut: &dynamodb.GetItemOutput{}}, "ledger")
	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
