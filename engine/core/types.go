package core

import (
	"encoding/json"
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// Input carries the structured arguments handed to a run or a step.
type Input map[string]any

// Output carries the structured result recorded for a run or a step.
type Output map[string]any

func (i Input) AsMap() map[string]any {
	return map[string]any(i)
}

func (o Output) AsMap() map[string]any {
	return map[string]any(o)
}

// RawJSON marshals the value for storage in a JSONB column or for replay by
// the durable substrate.
func RawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}
	return data, nil
}

// ParseHumanDuration accepts Go duration syntax ("90s") plus the extended
// day/week units str2duration understands ("1d", "2w3d12h").
func ParseHumanDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	return str2duration.ParseDuration(s)
}
