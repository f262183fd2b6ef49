package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"channel-assistant/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastQueryIn  *dynamodb.QueryInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getOut == nil && f.getErr == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	if f.queryOut == nil && f.queryErr == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOut, f.queryErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func s(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func n(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func makeItem(pk, sk, text, answer, status string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": s(pk), "SK": s(sk), "text": s(text), "answer": s(answer), "status": s(status),
	}
}

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 42, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestTimestampIsFixedWidth(t *testing.T) {
	a := timestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := timestamp(time.Date(2024, 1, 1, 0, 0, 0, 5, time.UTC))
	require.Equal(t, len(a), len(b))
	require.Less(t, a, b)
	require.Equal(t, "2024-05-01T12:30:00.000000042Z", timestamp(fixedNow))
}

// ---------------------------------------------------------------------------
// GetHistory
// ---------------------------------------------------------------------------

func TestGetHistory_ChronologicalSinceStart(t *testing.T) {
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		makeItem("CONV#c1", "MSG#2", "second", "b", "complete"),
		makeItem("CONV#c1", "MSG#1", "first", "a", "complete"),
	}}}
	c := mustNewClient(t, db)

	msgs, err := c.GetHistory(context.Background(), "c1", 8)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "first", msgs[0].Text)
	require.Equal(t, "second", msgs[1].Text)
	require.Equal(t, "c1", msgs[0].ConversationID)

	require.Equal(t, "PK = :pk AND SK >= :from", *db.lastQueryIn.KeyConditionExpression)
	require.Equal(t, "MSG#", db.lastQueryIn.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "CONV#c1", db.lastQueryIn.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value)
	require.False(t, *db.lastQueryIn.ScanIndexForward)
	require.EqualValues(t, 8, *db.lastQueryIn.Limit)
}

func TestGetHistory_StartsAtReset(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK": s("CONV#c1"), "SK": s(skMeta), "turns": n("3"), "resetAt": s("2024-05-01T00:00:00.000000000Z"),
	}}}
	c := mustNewClient(t, db)

	_, err := c.GetHistory(context.Background(), "c1", 2)
	require.NoError(t, err)
	require.Equal(t, "MSG#2024-05-01T00:00:00.000000000Z",
		db.lastQueryIn.ExpressionAttributeValues[":from"].(*types.AttributeValueMemberS).Value)
}

func TestGetHistory_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.GetHistory(context.Background(), "c1", 2)
	require.ErrorContains(t, err, "boom")

	c = mustNewClient(t, &fakeDynamo{getErr: errors.New("meta down")})
	_, err = c.GetHistory(context.Background(), "c1", 2)
	require.ErrorContains(t, err, "meta down")

	c = mustNewClient(t, &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		{"PK": s("CONV#c1"), "SK": s("MSG#1")},
	}}})
	_, err = c.GetHistory(context.Background(), "c1", 2)
	require.ErrorContains(t, err, "text")
}

func TestGetHistory_ZeroLimit(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	msgs, err := c.GetHistory(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Nil(t, db.lastQueryIn)
}

func TestGetMeta(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, ok, err := c.GetMeta(context.Background(), "c1")
	require.NoError(t, err)
	require.False(t, ok)

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK": s("CONV#c1"), "SK": s(skMeta), "turns": n("7"), "lastActivity": s("2024-05-01T12:30:00Z"),
	}}})
	meta, ok, err := c.GetMeta(context.Background(), "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, meta.Turns)
	require.Equal(t, "", meta.ResetAt)

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"turns": s("x"),
	}}})
	_, _, err = c.GetMeta(context.Background(), "c1")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// SaveCompletedTurn
// ---------------------------------------------------------------------------

func TestSaveCompletedTurn(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SaveCompletedTurn(context.Background(), "c1", "q", "a", false))
	items := db.lastTxInput.TransactItems
	require.Len(t, items, 2)

	put := items[0].Put
	require.NotNil(t, put)
	require.Equal(t, "CONV#c1", put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "MSG#"+timestamp(fixedNow), put.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, domain.StatusComplete, put.Item["status"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "a", put.Item["answer"].(*types.AttributeValueMemberS).Value)

	upd := items[1].Update
	require.NotNil(t, upd)
	require.Equal(t, skMeta, upd.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, *upd.UpdateExpression, "ADD turns :one")
	require.NotContains(t, *upd.UpdateExpression, "resetAt")
	require.Equal(t, "ttl", upd.ExpressionAttributeNames["#ttl"])
}

func TestSaveCompletedTurn_ResetMarksHistoryStart(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SaveCompletedTurn(context.Background(), "c1", "q", "a", true))
	upd := db.lastTxInput.TransactItems[1].Update
	require.True(t, strings.Contains(*upd.UpdateExpression, "resetAt = :reset"))
	resetAt := upd.ExpressionAttributeValues[":reset"].(*types.AttributeValueMemberS).Value

	msgSKValue := db.lastTxInput.TransactItems[0].Put.Item["SK"].(*types.AttributeValueMemberS).Value
	require.Equal(t, msgSKValue, skPrefixMsg+resetAt)
}

func TestSaveCompletedTurn_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{txErr: errors.New("conflict")})
	require.ErrorContains(t, c.SaveCompletedTurn(context.Background(), "c1", "q", "a", false), "conflict")
	require.Error(t, c.SaveCompletedTurn(context.Background(), " ", "q", "a", false))
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

func TestGetValue(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, ok, err := c.GetValue(context.Background(), "chan-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "KV#chan-1", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.True(t, *db.lastGetInput.ConsistentRead)

	db.getOut = &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{"value": s("true")}}
	v, ok, err := c.GetValue(context.Background(), "chan-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)

	db.getOut = &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{"value": n("1")}}
	_, _, err = c.GetValue(context.Background(), "chan-1")
	require.Error(t, err)

	db.getOut, db.getErr = nil, errors.New("down")
	_, _, err = c.GetValue(context.Background(), "chan-1")
	require.ErrorContains(t, err, "down")
}

func TestSetValue(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.SetValue(context.Background(), "chan-1", "false"))
	item := db.lastPutInput.Item
	require.Equal(t, "KV#chan-1", item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, skValue, item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "false", item["value"].(*types.AttributeValueMemberS).Value)

	db.putErr = errors.New("throttled")
	require.ErrorContains(t, c.SetValue(context.Background(), "chan-1", "true"), "throttled")
}
