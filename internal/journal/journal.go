// Package journal records completed submissions in DynamoDB. It is an
// audit trail only: nothing here is ever read back to rebuild conversation
// state, and the whole package is inert when no table is configured.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Status is the lifecycle state of a journaled submission.
type Status string

// Possible values for Status.
const (
	StatusUploading Status = "UPLOADING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
)

// Record is one submission: the answers gathered by the form plus transfer
// counters filled in when the finalizer finishes.
type Record struct {
	PK string `dynamodbav:"PK"` // USER#<id>
	SK string `dynamodbav:"SK"` // SUB#<ulid>

	SubmissionID string `dynamodbav:"submission_id"`
	UserID       string `dynamodbav:"user_id"`
	City         string `dynamodbav:"city"`
	Point        string `dynamodbav:"point"`
	Date         string `dynamodbav:"date"`
	Supplier     string `dynamodbav:"supplier"`
	Invoice      string `dynamodbav:"invoice"`
	Photos       int    `dynamodbav:"photos"`
	Uploaded     int    `dynamodbav:"uploaded"`
	Failed       int    `dynamodbav:"failed"`
	Status       Status `dynamodbav:"status"`
	CreatedAt    string `dynamodbav:"created_at"`
	FinishedAt   string `dynamodbav:"finished_at"`
}

// Repo wraps a DynamoDB client and table name for submission records.
type Repo struct {
	DB    *dynamodb.Client
	Table string
}

// PutPending inserts a new submission record with status UPLOADING,
// ensuring no duplicate exists.
func (r *Repo) PutPending(ctx context.Context, rec Record) error {
	rec.Status = StatusUploading
	rec.CreatedAt = NowISO()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return err
	}
	_, err = r.DB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	return err
}

// Finish updates the record with transfer counters and the terminal status:
// COMPLETE when every photo transferred, FAILED otherwise.
func (r *Repo) Finish(ctx context.Context, userID, submissionID string, uploaded, failed int) error {
	status := StatusComplete
	if failed > 0 {
		status = StatusFailed
	}
	pk, sk := MakeKeys(userID, submissionID)
	_, err := r.DB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression: aws.String("SET #s = :s, uploaded = :u, failed = :f, finished_at = :t"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(status)},
			":u": &types.AttributeValueMemberN{Value: fmt.Sprint(uploaded)},
			":f": &types.AttributeValueMemberN{Value: fmt.Sprint(failed)},
			":t": &types.AttributeValueMemberS{Value: NowISO()},
		},
	})
	return err
}

// NowISO returns the current time in ISO8601 format.
func NowISO() string { return time.Now().UTC().Format(time.RFC3339) }

// MakeKeys constructs the partition key (PK) and sort key (SK) for a
// submission record.
func MakeKeys(userID, submissionID string) (pk, sk string) {
	return fmt.Sprintf("USER#%s", userID), fmt.Sprintf("SUB#%s", submissionID)
}
