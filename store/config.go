package store

import "strings"

// DynamoConfig holds configuration for the DynamoDB store.
type DynamoConfig struct {
	// TablePrefix is prepended to every logical table name.
	// Default: "canopy_"
	TablePrefix string

	// SearchScanLimit caps the number of items a search scan evaluates.
	// DynamoDB has no full-text index, so search is a filtered scan.
	// Default: 5000
	// Max: 100000
	SearchScanLimit int
}

// DefaultDynamoConfig returns sensible defaults for small datasets.
func DefaultDynamoConfig() DynamoConfig {
	return DynamoConfig{
		TablePrefix:     "canopy_",
		SearchScanLimit: 5000,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *DynamoConfig) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "canopy_"
	}
	if c.SearchScanLimit < 1 {
		c.SearchScanLimit = 5000
	}
	if c.SearchScanLimit > 100000 {
		c.SearchScanLimit = 100000
	}
}

// PhysicalTable maps a logical table to its DynamoDB table name.
func (c DynamoConfig) PhysicalTable(logical string) string {
	return c.TablePrefix + logical
}

// LogicalTable is the inverse of PhysicalTable. ok is false when name does
// not carry the configured prefix.
func (c DynamoConfig) LogicalTable(name string) (string, bool) {
	if !strings.HasPrefix(name, c.TablePrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, c.TablePrefix), true
}
