package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IndexSpec is a secondary index keyed on Field.
type IndexSpec struct {
	Name  string
	Field string

	// Number declares the key as a number attribute instead of a string.
	Number bool
}

// TableSpec describes a logical table to provision.
type TableSpec struct {
	Table   string
	Indexes []IndexSpec
}

// MergeSpecs folds specs of the same table together, dropping repeated
// index names. The result is sorted by table.
func MergeSpecs(specs ...TableSpec) []TableSpec {
	byTable := map[string]*TableSpec{}
	for _, s := range specs {
		cur, ok := byTable[s.Table]
		if !ok {
			cur = &TableSpec{Table: s.Table}
			byTable[s.Table] = cur
		}
		for _, idx := range s.Indexes {
			if !cur.hasIndex(idx.Name) {
				cur.Indexes = append(cur.Indexes, idx)
			}
		}
	}
	out := make([]TableSpec, 0, len(byTable))
	for _, s := range byTable {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

func (s TableSpec) hasIndex(name string) bool {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// DynamoAdmin is the subset of the DynamoDB client provisioning uses.
type DynamoAdmin interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// CreateTableInput renders spec as an on-demand table keyed by FieldID,
// with one global secondary index per IndexSpec whose range key is
// FieldCreationTime. The stream carries old images for the TTL reaper.
func (c DynamoConfig) CreateTableInput(spec TableSpec) *dynamodb.CreateTableInput {
	attrs := map[string]types.ScalarAttributeType{FieldID: types.ScalarAttributeTypeS}
	var gsis []types.GlobalSecondaryIndex
	for _, idx := range spec.Indexes {
		typ := types.ScalarAttributeTypeS
		if idx.Number {
			typ = types.ScalarAttributeTypeN
		}
		attrs[idx.Field] = typ
		attrs[FieldCreationTime] = types.ScalarAttributeTypeN
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName: aws.String(idx.Name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(idx.Field), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(FieldCreationTime), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]types.AttributeDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: attrs[name]})
	}

	return &dynamodb.CreateTableInput{
		TableName: aws.String(c.PhysicalTable(spec.Table)),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(FieldID), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions:   defs,
		GlobalSecondaryIndexes: gsis,
		BillingMode:            types.BillingModePayPerRequest,
		StreamSpecification: &types.StreamSpecification{
			StreamEnabled:  aws.Bool(true),
			StreamViewType: types.StreamViewTypeNewAndOldImages,
		},
	}
}

// Provision creates every table that does not exist yet, waits for it to
// become active and enables TTL on FieldTTL. Existing tables are left as
// they are. It returns the logical names of the tables it created.
func Provision(ctx context.Context, client DynamoAdmin, config DynamoConfig, specs []TableSpec, wait time.Duration) ([]string, error) {
	config.validate()
	var created []string
	for _, spec := range specs {
		in := config.CreateTableInput(spec)
		_, err := client.CreateTable(ctx, in)
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create table %s: %w", *in.TableName, err)
		}

		waiter := dynamodb.NewTableExistsWaiter(client)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, wait); err != nil {
			return created, fmt.Errorf("wait for table %s: %w", *in.TableName, err)
		}
		_, err = client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
			TableName: in.TableName,
			TimeToLiveSpecification: &types.TimeToLiveSpecification{
				AttributeName: aws.String(FieldTTL),
				Enabled:       aws.Bool(true),
			},
		})
		if err != nil {
			return created, fmt.Errorf("enable ttl on %s: %w", *in.TableName, err)
		}
		created = append(created, spec.Table)
	}
	return created, nil
}
