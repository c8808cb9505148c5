package actions

import (
	"fmt"
	"strconv"

	"github.com/akmatori/nocpilot/internal/models"
)

func requireString(action *models.RemediationAction, key string) (string, error) {
	v := action.StringParam(key)
	if v == "" {
		return "", fmt.Errorf("%s: missing required parameter %q", action.ActionType, key)
	}
	return v, nil
}

// intParam accepts the shapes a number takes after JSON or YAML decoding
func intParam(action *models.RemediationAction, key string) (int, bool, error) {
	raw, ok := action.Parameters[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int32:
		return int(v), true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, true, fmt.Errorf("%s: parameter %q must be a whole number, got %v", action.ActionType, key, v)
		}
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("%s: parameter %q: %w", action.ActionType, key, err)
		}
		return n, true, nil
	default:
		return 0, true, fmt.Errorf("%s: parameter %q has unsupported type %T", action.ActionType, key, raw)
	}
}
