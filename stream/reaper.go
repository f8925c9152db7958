// Package stream provides the DynamoDB Streams handler that finishes the
// deletion of rows removed by the TTL service.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/canopy/store"
)

// ttlPrincipal is the user identity DynamoDB puts on TTL deletions.
const ttlPrincipal = "dynamodb.amazonaws.com"

// Reaper cascades and cleans up after a removed document.
// *crud.Engine satisfies it.
type Reaper interface {
	Reap(ctx context.Context, table string, doc store.Doc) error
}

// TableMapper maps a physical table name to its logical name.
type TableMapper func(physical string) (string, bool)

// Handler processes DynamoDB stream events for expired rows.
type Handler struct {
	reaper Reaper
	tables TableMapper
	logger *slog.Logger
}

// NewHandler creates a new stream handler. tables is usually
// store.DynamoConfig.LogicalTable.
func NewHandler(r Reaper, tables TableMapper, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		reaper: r,
		tables: tables,
		logger: logger,
	}
}

// HandleExpired reaps every row the TTL service removed. Designed to be
// used as an AWS Lambda handler; a failed record fails the batch so the
// stream retries it.
func (h *Handler) HandleExpired(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != string(events.DynamoDBOperationTypeRemove) {
		return nil
	}
	// User deletes were already cascaded by the engine.
	if record.UserIdentity == nil || record.UserIdentity.PrincipalID != ttlPrincipal {
		return nil
	}

	physical := TableFromARN(record.EventSourceArn)
	table, ok := h.tables(physical)
	if !ok {
		h.logger.Warn("skipping record of unknown table",
			"eventID", record.EventID,
			"table", physical,
		)
		return nil
	}

	doc, err := ImageToDoc(record.Change.OldImage)
	if err != nil {
		return fmt.Errorf("decode %s image: %w", table, err)
	}
	if doc.ID() == "" {
		// KEYS_ONLY streams carry no old image.
		doc = store.Doc{store.FieldID: getStringAttr(record.Change.Keys, store.FieldID)}
	}

	h.logger.Info("reaping expired document",
		"table", table,
		"id", doc.ID(),
		"ttl", getNumberAttr(record.Change.OldImage, store.FieldTTL),
	)
	return h.reaper.Reap(ctx, table, doc)
}

// TableFromARN extracts the table name from a stream ARN
// (arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>).
func TableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// ImageToDoc converts a stream image to a document. Numbers decode as
// float64, matching documents read through the store.
func ImageToDoc(image map[string]events.DynamoDBAttributeValue) (store.Doc, error) {
	doc := make(store.Doc, len(image))
	for k, v := range image {
		val, err := attrValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		doc[k] = val
	}
	return doc, nil
}

func attrValue(v events.DynamoDBAttributeValue) (any, error) {
	switch v.DataType() {
	case events.DataTypeNull:
		return nil, nil
	case events.DataTypeString:
		return v.String(), nil
	case events.DataTypeBoolean:
		return v.Boolean(), nil
	case events.DataTypeNumber:
		return strconv.ParseFloat(v.Number(), 64)
	case events.DataTypeBinary:
		return v.Binary(), nil
	case events.DataTypeBinarySet:
		out := make([]any, len(v.BinarySet()))
		for i, b := range v.BinarySet() {
			out[i] = b
		}
		return out, nil
	case events.DataTypeStringSet:
		return toAny(v.StringSet()), nil
	case events.DataTypeNumberSet:
		out := make([]any, 0, len(v.NumberSet()))
		for _, n := range v.NumberSet() {
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	case events.DataTypeList:
		out := make([]any, 0, len(v.List()))
		for _, item := range v.List() {
			x, err := attrValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, x)
		}
		return out, nil
	case events.DataTypeMap:
		m, err := ImageToDoc(v.Map())
		if err != nil {
			return nil, err
		}
		return map[string]any(m), nil
	}
	return nil, fmt.Errorf("unsupported attribute type %d", v.DataType())
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}
