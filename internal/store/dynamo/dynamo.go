// Package dynamo adapts the store contract onto DynamoDB. The table hashes
// on `id`; the GSIs consumed by QueryPrefix are type/update_date,
// congress/type, chamber/date and version/update_date.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// Store implements store.Store over DynamoDB.
type Store struct {
	client *dynamodb.Client
	table  string
}

// New resolves AWS credentials through the SDK default chain and builds the
// adapter.
func New(ctx context.Context, region, table string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Store{
		client: dynamodb.NewFromConfig(cfg),
		table:  table,
	}, nil
}

// NewWithClient injects a client, for tests against DynamoDB Local.
func NewWithClient(client *dynamodb.Client, table string) *Store {
	return &Store{client: client, table: table}
}

// DescribeTable implements store.Store.
func (s *Store) DescribeTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return store.ErrTableMissing
	}
	if isAuthError(err) {
		return store.ErrAuthFailed
	}
	return fmt.Errorf("describe table %s: %w", s.table, err)
}

// PutItem implements store.Store. The conditional write keeps an existing
// item with an equal or newer schema version in place.
func (s *Store) PutItem(ctx context.Context, rec *domain.Record) store.ItemResult {
	item, err := attributevalue.MarshalMap(stamp(rec))
	if err != nil {
		return store.ItemResult{ID: rec.ID, Outcome: store.OutcomeValidationRejected, Err: err}
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id) OR version < :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Version)},
		},
	})
	if err != nil {
		return store.ItemResult{ID: rec.ID, Outcome: classify(err), Err: err}
	}
	return store.ItemResult{ID: rec.ID, Outcome: store.OutcomeOK}
}

// BatchPut implements store.Store. DynamoDB's native batch holds 25 puts;
// unprocessed items come back tagged throughput_exceeded so the writer's
// backoff retry picks them up.
func (s *Store) BatchPut(ctx context.Context, recs []*domain.Record) ([]store.ItemResult, error) {
	var all []store.ItemResult
	for start := 0; start < len(recs); start += store.MaxBatchItems {
		end := start + store.MaxBatchItems
		if end > len(recs) {
			end = len(recs)
		}
		results, err := s.batchChunk(ctx, recs[start:end])
		all = append(all, results...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func (s *Store) batchChunk(ctx context.Context, recs []*domain.Record) ([]store.ItemResult, error) {
	writes := make([]types.WriteRequest, 0, len(recs))
	results := make([]store.ItemResult, 0, len(recs))
	indexByID := make(map[string]int, len(recs))

	for i, rec := range recs {
		item, err := attributevalue.MarshalMap(stamp(rec))
		if err != nil {
			results = append(results, store.ItemResult{ID: rec.ID, Outcome: store.OutcomeValidationRejected, Err: err})
			continue
		}
		writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		results = append(results, store.ItemResult{ID: rec.ID, Outcome: store.OutcomeOK})
		indexByID[rec.ID] = i
	}
	if len(writes) == 0 {
		return results, nil
	}

	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.table: writes},
	})
	if err != nil {
		outcome := classify(err)
		if outcome.Fatal() {
			switch outcome {
			case store.OutcomeAuthFailed:
				return nil, store.ErrAuthFailed
			default:
				return nil, store.ErrTableMissing
			}
		}
		for i := range results {
			if results[i].Outcome == store.OutcomeOK {
				results[i] = store.ItemResult{ID: results[i].ID, Outcome: outcome, Err: err}
			}
		}
		return results, nil
	}

	for _, wr := range out.UnprocessedItems[s.table] {
		if wr.PutRequest == nil {
			continue
		}
		id := itemID(wr.PutRequest.Item)
		if idx, ok := indexByID[id]; ok {
			results[idx] = store.ItemResult{
				ID:      id,
				Outcome: store.OutcomeThroughputExceeded,
				Err:     fmt.Errorf("unprocessed by BatchWriteItem"),
			}
		}
	}
	return results, nil
}

// QueryPrefix implements store.Store with a paginating lazy iterator.
func (s *Store) QueryPrefix(ctx context.Context, q store.PrefixQuery) (store.Iterator, error) {
	hashAttr, rangeAttr, numericHash, err := indexAttrs(q.Index)
	if err != nil {
		return nil, err
	}

	keyExpr := "#h = :h"
	names := map[string]string{"#h": hashAttr}
	values := map[string]types.AttributeValue{":h": hashValue(q.Hash, numericHash)}

	switch {
	case q.RangeFrom != "" && q.RangeTo != "":
		keyExpr += " AND #r BETWEEN :rfrom AND :rto"
		names["#r"] = rangeAttr
		values[":rfrom"] = &types.AttributeValueMemberS{Value: q.RangeFrom}
		values[":rto"] = &types.AttributeValueMemberS{Value: q.RangeTo}
	case q.RangeFrom != "":
		keyExpr += " AND #r >= :rfrom"
		names["#r"] = rangeAttr
		values[":rfrom"] = &types.AttributeValueMemberS{Value: q.RangeFrom}
	case q.RangeTo != "":
		keyExpr += " AND #r <= :rto"
		names["#r"] = rangeAttr
		values[":rto"] = &types.AttributeValueMemberS{Value: q.RangeTo}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(keyExpr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(int32(q.Limit))
	}
	return &queryIterator{store: s, input: input, limit: q.Limit}, nil
}

type queryIterator struct {
	store   *Store
	input   *dynamodb.QueryInput
	buf     []map[string]any
	pos     int
	yielded int
	limit   int
	done    bool
}

func (it *queryIterator) Next(ctx context.Context) (map[string]any, bool, error) {
	for {
		if it.limit > 0 && it.yielded >= it.limit {
			return nil, false, nil
		}
		if it.pos < len(it.buf) {
			item := it.buf[it.pos]
			it.pos++
			it.yielded++
			return item, true, nil
		}
		if it.done {
			return nil, false, nil
		}

		out, err := it.store.client.Query(ctx, it.input)
		if err != nil {
			return nil, false, fmt.Errorf("query %s: %w", it.store.table, err)
		}
		it.buf = it.buf[:0]
		for _, raw := range out.Items {
			var item map[string]any
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				log.Warn().Err(err).Msg("skipping undecodable stored item")
				continue
			}
			it.buf = append(it.buf, item)
		}
		it.pos = 0
		if out.LastEvaluatedKey == nil {
			it.done = true
		} else {
			it.input.ExclusiveStartKey = out.LastEvaluatedKey
		}
		if len(it.buf) == 0 && it.done {
			return nil, false, nil
		}
	}
}

// stamp adds the write timestamp the mirror tracks for freshness queries.
func stamp(rec *domain.Record) map[string]any {
	item := rec.Item()
	item["timestamp"] = time.Now().Unix()
	return item
}

func itemID(item map[string]types.AttributeValue) string {
	if v, ok := item["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func hashValue(hash string, numeric bool) types.AttributeValue {
	if numeric {
		return &types.AttributeValueMemberN{Value: hash}
	}
	return &types.AttributeValueMemberS{Value: hash}
}

func indexAttrs(index string) (hash, rng string, numericHash bool, err error) {
	switch index {
	case "":
		return "id", "", false, nil
	case store.IndexTypeUpdateDate:
		return "type", "update_date", false, nil
	case store.IndexCongressType:
		return "congress", "type", true, nil
	case store.IndexChamberDate:
		return "chamber", "date", false, nil
	case store.IndexVersionUpdateDate:
		return "version", "update_date", true, nil
	default:
		return "", "", false, fmt.Errorf("unknown index %q", index)
	}
}

func classify(err error) store.Outcome {
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return store.OutcomeConditionalFailed
	}
	var throughput *types.ProvisionedThroughputExceededException
	if errors.As(err, &throughput) {
		return store.OutcomeThroughputExceeded
	}
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return store.OutcomeTableMissing
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return store.OutcomeTimeout
	}
	if isAuthError(err) {
		return store.OutcomeAuthFailed
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException", "ItemCollectionSizeLimitExceededException":
			return store.OutcomeValidationRejected
		case "ThrottlingException", "RequestLimitExceeded":
			return store.OutcomeThroughputExceeded
		case "InternalServerError", "ServiceUnavailable":
			return store.OutcomeTransient
		}
	}
	return store.OutcomeTransient
}

func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "UnrecognizedClientException", "AccessDeniedException",
			"MissingAuthenticationToken", "InvalidSignatureException",
			"ExpiredTokenException":
			return true
		}
	}
	return false
}
