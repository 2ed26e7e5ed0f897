package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kustom-api/internal/domain"
)

// itemAPI is the part of the DynamoDB client the repos use.
type itemAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// VerificationRepo manages email verification tokens.
// PK: subject (lower-cased email), SK: type ("email").
type VerificationRepo struct {
	client    itemAPI
	tableName string
}

func NewVerificationRepo(client itemAPI, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

// Put stores a pending record, replacing an earlier pending one. A confirmed
// record is never overwritten: Put then fails with domain.ErrConflict.
func (r *VerificationRepo) Put(ctx context.Context, v *domain.EmailVerification) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#v)"),
		ExpressionAttributeNames: map[string]string{"#v": fieldVerifiedAt},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("verification already confirmed: %w", domain.ErrConflict)
	}
	return err
}

func (r *VerificationRepo) Get(ctx context.Context, subject, verType string) (*domain.EmailVerification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            compositeKey(fieldSubject, subject, fieldType, verType),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var v domain.EmailVerification
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Update sets the given attributes on an existing record.
func (r *VerificationRepo) Update(ctx context.Context, subject, verType string, updates map[string]interface{}) error {
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       compositeKey(fieldSubject, subject, fieldType, verType),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ConditionExpression:       aws.String("attribute_exists(" + fieldSubject + ")"),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	return err
}

// IncrementAttempts atomically bumps the mismatch counter while it is below
// limit and returns the new count. Once the counter has reached limit, or the
// record is gone, it fails with domain.ErrRateLimited.
func (r *VerificationRepo) IncrementAttempts(ctx context.Context, subject, verType string, limit int) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 compositeKey(fieldSubject, subject, fieldType, verType),
		UpdateExpression:    aws.String("ADD #a :one"),
		ConditionExpression: aws.String("attribute_exists(#s) AND (attribute_not_exists(#a) OR #a < :max)"),
		ExpressionAttributeNames: map[string]string{
			"#a": fieldAttempts,
			"#s": fieldSubject,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":max": &types.AttributeValueMemberN{Value: strconv.Itoa(limit)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return 0, fmt.Errorf("attempt limit reached: %w", domain.ErrRateLimited)
	}
	if err != nil {
		return 0, err
	}

	var updated struct {
		Attempts int `dynamodbav:"attempts"`
	}
	if err := attributevalue.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("unmarshal attempts: %w", err)
	}
	return updated.Attempts, nil
}

// MarkVerified records a confirmation, drops the token hash and keeps the
// record until retainUntil (Unix seconds).
func (r *VerificationRepo) MarkVerified(ctx context.Context, subject, verType string, at time.Time, retainUntil int64) error {
	return r.Update(ctx, subject, verType, map[string]interface{}{
		fieldVerifiedAt: at.UTC(),
		fieldCodeHash:   "",
		fieldExpiresAt:  retainUntil,
	})
}

func (r *VerificationRepo) Delete(ctx context.Context, subject, verType string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       compositeKey(fieldSubject, subject, fieldType, verType),
	})
	return err
}
