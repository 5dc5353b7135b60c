package utils

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// DecodeLenient unmarshals JSON content into T, repairing the input and
// retrying once when the first decode fails. Upstreams occasionally emit
// slightly malformed JSON (single quotes, trailing commas, unquoted keys) in
// tool arguments and stream lines, and a repair pass recovers most of them.
func DecodeLenient[T any](content string) (T, error) {
	var result T

	err := json.Unmarshal([]byte(content), &result)
	if err == nil {
		return result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(content)
	if repairErr != nil {
		return result, fmt.Errorf("failed to decode as %T: %w (repair also failed: %v)", result, err, repairErr)
	}

	if err := json.Unmarshal([]byte(repaired), &result); err != nil {
		return result, fmt.Errorf("failed to decode repaired JSON as %T: %w (original: %s)",
			result, err, TruncateString(content, DefaultMaxStringLength))
	}
	return result, nil
}
