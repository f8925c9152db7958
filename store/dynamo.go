package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Dynamo is a Store backed by DynamoDB. Every logical table maps to one
// physical table keyed by FieldID; secondary indexes are global secondary
// indexes whose hash key is the indexed field and whose range key is
// FieldCreationTime.
type Dynamo struct {
	client DynamoAPI
	config DynamoConfig
	now    func() time.Time
}

// DynamoOption configures a Dynamo store.
type DynamoOption func(*Dynamo)

// WithDynamoClock overrides the clock used for creation times and TTL filtering.
func WithDynamoClock(now func() time.Time) DynamoOption {
	return func(d *Dynamo) { d.now = now }
}

// NewDynamo creates a new DynamoDB-backed store.
func NewDynamo(client DynamoAPI, config DynamoConfig, opts ...DynamoOption) *Dynamo {
	config.validate()
	d := &Dynamo{
		client: client,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the store configuration.
func (d *Dynamo) Config() DynamoConfig {
	return d.config
}

func (d *Dynamo) table(logical string) *string {
	return aws.String(d.config.PhysicalTable(logical))
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		FieldID: &types.AttributeValueMemberS{Value: id},
	}
}

// Get retrieves a document by id, returning ErrNotFound if expired or missing.
func (d *Dynamo) Get(ctx context.Context, table, id string) (Doc, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      d.table(table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	if IsDeleted(result.Item, d.now()) {
		return nil, ErrNotFound
	}
	return unmarshalDoc(result.Item)
}

// Insert stores a new document. FieldCreationTime is stamped when absent.
func (d *Dynamo) Insert(ctx context.Context, table string, data Doc) (string, error) {
	doc := data.Clone()
	if doc == nil {
		doc = Doc{}
	}
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
		doc[FieldID] = id
	}
	if !doc.Has(FieldCreationTime) {
		doc[FieldCreationTime] = Millis(d.now())
	}
	item, err := marshalDoc(doc)
	if err != nil {
		return "", err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                d.table(table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": FieldID},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return "", ErrAlreadyExists
		}
		return "", err
	}
	return id, nil
}

// Put replaces the document with id unconditionally.
func (d *Dynamo) Put(ctx context.Context, table, id string, data Doc) error {
	doc := data.Clone()
	if doc == nil {
		doc = Doc{}
	}
	doc[FieldID] = id
	if !doc.Has(FieldCreationTime) {
		doc[FieldCreationTime] = Millis(d.now())
	}
	item, err := marshalDoc(doc)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: d.table(table),
		Item:      item,
	})
	return err
}

// Patch applies patch with an UpdateItem. The document must exist and be
// live; expect adds optimistic-lock conditions.
func (d *Dynamo) Patch(ctx context.Context, table, id string, patch Doc, expect ...Eq) error {
	b := newExprBuilder()
	idName := b.name(FieldID)

	keys := make([]string, 0, len(patch))
	for k := range patch {
		if k == FieldID {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var setClauses, removeClauses []string
	for _, k := range keys {
		v := patch[k]
		if v == nil {
			removeClauses = append(removeClauses, b.name(k))
			continue
		}
		ph, err := b.value(v)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", b.name(k), ph))
	}
	if len(setClauses) == 0 && len(removeClauses) == 0 {
		ph, err := b.value(id)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", idName, ph))
	}

	var update []string
	if len(setClauses) > 0 {
		update = append(update, "SET "+strings.Join(setClauses, ", "))
	}
	if len(removeClauses) > 0 {
		update = append(update, "REMOVE "+strings.Join(removeClauses, ", "))
	}

	conds := []string{"attribute_exists(" + idName + ")", TTLFilterExpr()}
	for _, e := range expect {
		c, err := b.compile(Cmp{Field: e.Field, Op: OpEq, Value: e.Value})
		if err != nil {
			return err
		}
		conds = append(conds, c)
	}

	now := d.now()
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           d.table(table),
		Key:                                 idKey(id),
		UpdateExpression:                    aws.String(strings.Join(update, " ")),
		ConditionExpression:                 aws.String(strings.Join(conds, " AND ")),
		ExpressionAttributeNames:            mergeExpr(b.names, TTLFilterNames()),
		ExpressionAttributeValues:           mergeExpr(b.values, TTLFilterValues(now)),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			if len(condErr.Item) == 0 || IsDeleted(condErr.Item, now) {
				return ErrNotFound
			}
			return ErrConcurrentModification
		}
		return err
	}
	return nil
}

// Delete removes a document by id.
func (d *Dynamo) Delete(ctx context.Context, table, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                d.table(table),
		Key:                      idKey(id),
		ConditionExpression:      aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": FieldID},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Query reads through an index (Query) or the whole table (Scan), with
// automatic TTL filtering. Pages are cut so the cursor never skips rows:
// each request asks for at most the number of rows still wanted. Unpaged
// scans are read in full and sorted before Limit applies.
func (d *Dynamo) Query(ctx context.Context, q Query) (Page, error) {
	b := newExprBuilder()
	now := d.now()

	var filters []string
	if q.Filter != nil {
		f, err := b.compile(q.Filter)
		if err != nil {
			return Page{}, err
		}
		if f != "" {
			filters = append(filters, f)
		}
	}

	useIndex := q.Index != "" && len(q.Eq) > 0
	var keyCond string
	eqFilters := q.Eq
	if useIndex {
		ph, err := b.value(q.Eq[0].Value)
		if err != nil {
			return Page{}, err
		}
		keyCond = fmt.Sprintf("%s = %s", b.name(q.Eq[0].Field), ph)
		eqFilters = q.Eq[1:]
	}
	for _, e := range eqFilters {
		f, err := b.compile(Cmp{Field: e.Field, Op: OpEq, Value: e.Value})
		if err != nil {
			return Page{}, err
		}
		filters = append(filters, f)
	}

	scanBudget := 0
	if q.Search != nil {
		useIndex = false
		scanBudget = d.config.SearchScanLimit
		for _, term := range strings.Fields(q.Search.Text) {
			ph, err := b.value(term)
			if err != nil {
				return Page{}, err
			}
			filters = append(filters, fmt.Sprintf("contains(%s, %s)", b.name(q.Search.Field), ph))
		}
	}

	names := b.names
	values := b.values
	if !q.IncludeExpired {
		filters = append(filters, TTLFilterExpr())
		names = mergeExpr(names, TTLFilterNames())
		values = mergeExpr(values, TTLFilterValues(now))
	}

	start, err := decodeCursor(q.Cursor)
	if err != nil {
		return Page{}, err
	}

	want := q.Limit
	if q.PageSize > 0 {
		want = q.PageSize
	}
	// Scans return rows in hash order. An unpaged scan reads everything so
	// Limit can be applied after sorting.
	sortedScan := !useIndex && q.PageSize == 0
	if sortedScan {
		want = 0
	}

	var filterExpr *string
	if len(filters) > 0 {
		filterExpr = aws.String(strings.Join(filters, " AND "))
	}
	if len(values) == 0 {
		values = nil
	}
	if len(names) == 0 {
		names = nil
	}

	page := Page{}
	scanned := 0
	for {
		var reqLimit *int32
		if want > 0 {
			reqLimit = aws.Int32(int32(min(want-len(page.Docs), math.MaxInt32)))
		}

		var items []map[string]types.AttributeValue
		var last map[string]types.AttributeValue
		if useIndex {
			out, err := d.client.Query(ctx, &dynamodb.QueryInput{
				TableName:                 d.table(q.Table),
				IndexName:                 aws.String(q.Index),
				KeyConditionExpression:    aws.String(keyCond),
				FilterExpression:          filterExpr,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
				ScanIndexForward:          aws.Bool(q.Order == Asc),
				ExclusiveStartKey:         start,
				Limit:                     reqLimit,
			})
			if err != nil {
				return Page{}, err
			}
			items, last = out.Items, out.LastEvaluatedKey
			scanned += int(out.ScannedCount)
		} else {
			out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
				TableName:                 d.table(q.Table),
				FilterExpression:          filterExpr,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
				ExclusiveStartKey:         start,
				Limit:                     reqLimit,
			})
			if err != nil {
				return Page{}, err
			}
			items, last = out.Items, out.LastEvaluatedKey
			scanned += int(out.ScannedCount)
		}

		for _, raw := range items {
			doc, err := unmarshalDoc(raw)
			if err != nil {
				return Page{}, err
			}
			page.Docs = append(page.Docs, doc)
		}
		start = last

		if len(last) == 0 {
			page.IsDone = true
			break
		}
		if want > 0 && len(page.Docs) >= want {
			break
		}
		if scanBudget > 0 && scanned >= scanBudget {
			page.IsDone = true
			break
		}
	}

	if sortedScan {
		sortByCreation(page.Docs, q.Order)
		if q.Limit > 0 && len(page.Docs) > q.Limit {
			page.Docs = page.Docs[:q.Limit]
		}
	}

	if !page.IsDone {
		c, err := encodeCursor(start)
		if err != nil {
			return Page{}, err
		}
		page.ContinueCursor = c
	}
	return page, nil
}

func sortByCreation(docs []Doc, order Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, _ := docs[i].Int64(FieldCreationTime)
		b, _ := docs[j].Int64(FieldCreationTime)
		if order == Asc {
			return a < b
		}
		return a > b
	})
}

// encodeCursor turns a LastEvaluatedKey into an opaque string.
func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	var plain map[string]any
	if err := attributevalue.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil || len(plain) == 0 {
		return nil, ErrInvalidCursor
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return key, nil
}

func marshalDoc(doc Doc) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(map[string]any(doc))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return item, nil
}

// unmarshalDoc converts a DynamoDB item to a Doc. Numbers decode as float64,
// matching documents decoded from JSON.
func unmarshalDoc(raw map[string]types.AttributeValue) (Doc, error) {
	var m map[string]any
	if err := attributevalue.UnmarshalMap(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return Doc(m), nil
}

var _ Store = (*Dynamo)(nil)
