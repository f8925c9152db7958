package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted checks if a raw DynamoDB item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue, now time.Time) bool {
	ttlAttr, exists := item[FieldTTL]
	if !exists {
		return false // No TTL = active
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseFloat(ttlNum.Value, 64)
	if err != nil {
		return false
	}
	return expired(int64(ttl), now)
}

// IsExpired is IsDeleted for decoded documents.
func IsExpired(d Doc, now time.Time) bool {
	ttl, ok := d.Int64(FieldTTL)
	return ok && expired(ttl, now)
}

// expired reports whether a TTL of ttl seconds has passed at now. DynamoDB
// deletes lazily, so rows linger after this point.
func expired(ttl int64, now time.Time) bool { return ttl <= now.Unix() }

// TTLAt returns the TTL value (unix seconds) for an expiry instant.
func TTLAt(t time.Time) int64 {
	return t.Unix()
}

// TTLFilterExpr is the condition that keeps rows whose TTL has not passed.
// It is parenthesized so it can be ANDed onto other conditions.
func TTLFilterExpr() string {
	return "(attribute_not_exists(#ttl) OR #ttl > :now)"
}

// TTLFilterNames are the attribute names TTLFilterExpr refers to.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": FieldTTL}
}

// TTLFilterValues binds :now for TTLFilterExpr.
func TTLFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(now.Unix(), 10),
		},
	}
}

// mergeExpr merges expression attribute maps; later maps win.
func mergeExpr[V any](maps ...map[string]V) map[string]V {
	result := make(map[string]V)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
