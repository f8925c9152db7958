package stream

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
)

func TestGetStringAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"name":    events.NewStringAttribute("日本語テスト"),
		"empty":   events.NewStringAttribute(""),
		"special": events.NewStringAttribute("value#with:special/chars"),
		"count":   events.NewNumberAttribute("3"),
	}

	tests := []struct {
		key  string
		want string
	}{
		{"name", "日本語テスト"},
		{"empty", ""},
		{"special", "value#with:special/chars"},
		{"count", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := getStringAttr(image, tt.key); got != tt.want {
			t.Errorf("getStringAttr(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}

	if got := getStringAttr(nil, "name"); got != "" {
		t.Errorf("expected empty string for nil image, got %q", got)
	}
}

func TestGetNumberAttr(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"ttl":   events.NewNumberAttribute("1772355600"),
		"zero":  events.NewNumberAttribute("0"),
		"neg":   events.NewNumberAttribute("-100"),
		"min":   events.NewNumberAttribute("-9223372036854775808"),
		"str":   events.NewStringAttribute("12"),
		"float": events.NewNumberAttribute("1.5"),
	}

	tests := []struct {
		key  string
		want int64
	}{
		{"ttl", 1772355600},
		{"zero", 0},
		{"neg", -100},
		{"min", -9223372036854775808},
		{"str", 0},
		{"float", 0},
		{"missing", 0},
	}
	for _, tt := range tests {
		if got := getNumberAttr(image, tt.key); got != tt.want {
			t.Errorf("getNumberAttr(%q) = %d, want %d", tt.key, got, tt.want)
		}
	}

	if got := getNumberAttr(nil, "ttl"); got != 0 {
		t.Errorf("expected 0 for nil image, got %d", got)
	}
}
