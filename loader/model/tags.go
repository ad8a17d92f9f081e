package model

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/rudderlabs/rudder-go-kit/jsonrs"
	"github.com/tidwall/gjson"
)

type Tag struct {
	Key   string
	Value string
}

// Tags is an ordered set of key/value pairs. Keys are unique.
type Tags []Tag

// ParseTag parses a "key=value" pair. The value may itself contain '='.
func ParseTag(s string) (Tag, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return Tag{}, fmt.Errorf("invalid tag %q: expected key=value", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Tag{}, fmt.Errorf("invalid tag %q: empty key", s)
	}
	if !IsSafeIdentifier(key) {
		return Tag{}, fmt.Errorf("invalid tag %q: unsafe key %q", s, key)
	}
	return Tag{Key: key, Value: value}, nil
}

// ParseTags parses every pair in order, rejecting duplicate keys.
func ParseTags(pairs []string) (Tags, error) {
	tags := make(Tags, 0, len(pairs))
	for _, pair := range pairs {
		tag, err := ParseTag(pair)
		if err != nil {
			return nil, err
		}
		if tags.Has(tag.Key) {
			return nil, fmt.Errorf("duplicate tag key %q", tag.Key)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// Validate rejects keys that cannot be used as unquoted column names and keys
// that repeat case-insensitively. Tag keys are rendered into SQL verbatim.
func (t Tags) Validate() error {
	seen := make(map[string]struct{}, len(t))
	for _, tag := range t {
		if !IsSafeIdentifier(tag.Key) {
			return fmt.Errorf("unsafe tag key %q", tag.Key)
		}
		k := strings.ToUpper(tag.Key)
		if _, ok := seen[k]; ok {
			return fmt.Errorf("duplicate tag key %q", tag.Key)
		}
		seen[k] = struct{}{}
	}
	return nil
}

func (t Tags) Keys() []string {
	keys := make([]string, len(t))
	for i, tag := range t {
		keys[i] = tag.Key
	}
	return keys
}

func (t Tags) Values() []string {
	values := make([]string, len(t))
	for i, tag := range t {
		values[i] = tag.Value
	}
	return values
}

// Has reports whether a tag with the given key exists, comparing keys case-insensitively.
func (t Tags) Has(key string) bool {
	for _, tag := range t {
		if strings.EqualFold(tag.Key, key) {
			return true
		}
	}
	return false
}

// Merge returns t with the tags of override applied on top: existing keys take
// the new value in place, new keys are appended.
func (t Tags) Merge(override Tags) Tags {
	merged := make(Tags, len(t), len(t)+len(override))
	copy(merged, t)
next:
	for _, o := range override {
		for i := range merged {
			if strings.EqualFold(merged[i].Key, o.Key) {
				merged[i].Value = o.Value
				continue next
			}
		}
		merged = append(merged, o)
	}
	return merged
}

func (t Tags) String() string {
	parts := make([]string, len(t))
	for i, tag := range t {
		parts[i] = tag.Key + "=" + tag.Value
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the tags as a JSON object preserving their order.
func (t Tags) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tag := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := jsonrs.Marshal(tag.Key)
		if err != nil {
			return nil, err
		}
		v, err := jsonrs.Marshal(tag.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (t *Tags) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid tags json: %s", data)
	}
	result := gjson.ParseBytes(data)
	if result.Type == gjson.Null {
		*t = nil
		return nil
	}
	if !result.IsObject() {
		return fmt.Errorf("tags must be a json object, got %s", result.Type)
	}
	tags := Tags{}
	result.ForEach(func(key, value gjson.Result) bool {
		tags = append(tags, Tag{Key: key.String(), Value: value.String()})
		return true
	})
	*t = tags
	return nil
}
