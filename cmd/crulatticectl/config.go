package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	api "crulattice/pkg/crulattice"
)

func loadRunRequestFromConfig(path string) (api.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return api.RunRequest{}, err
	}

	var req api.RunRequest
	if v, ok := asString(raw["cell"]); ok {
		req.Cell = v
	}
	if v, ok := raw["sub"]; ok {
		sub, err := asDims(v)
		if err != nil {
			return api.RunRequest{}, fmt.Errorf("sub: %w", err)
		}
		req.Sub = sub
	}
	if v, ok := asString(raw["geometry"]); ok {
		req.Geometry = v
	}
	if v, ok := asString(raw["channels"]); ok {
		req.Channels = v
	}
	if v, ok := asString(raw["ltcc_model"]); ok {
		req.LTCCModel = v
	}
	if v, ok := asString(raw["heterogeneity"]); ok {
		req.Heterogeneity = v
	}
	if v, ok := asString(raw["heterogeneity_map"]); ok {
		req.HeteroMap = v
	}
	if v, ok := asFloat64(raw["heterogeneity_spread"]); ok {
		req.HeteroSpread = v
	}
	if v, ok := asFloat64(raw["dt"]); ok {
		req.DT = v
	}
	if v, ok := asFloat64(raw["duration"]); ok {
		req.Duration = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		if v < 0 {
			return api.RunRequest{}, fmt.Errorf("seed must be >= 0, got %d", v)
		}
		req.Seed = uint64(v)
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asString(raw["membrane"]); ok {
		req.Membrane = v
	}
	if v, ok := asFloat64(raw["bcl"]); ok {
		req.BCL = v
	}
	if v, ok := asFloat64(raw["hold_v"]); ok {
		req.HoldV = &v
	}
	if v, ok := asBool(raw["srf"]); ok {
		req.SRF = v
	}
	if v, ok := asFloat64(raw["srf_value"]); ok {
		req.SRFValue = v
	}
	if v, ok := asString(raw["force"]); ok {
		req.Force = v
	}
	if v, ok := asBool(raw["clamp"]); ok {
		req.Clamp = v
	}
	if v, ok := asFloat64(raw["clamp_value"]); ok {
		req.ClampValue = v
	}
	if v, ok := asInt(raw["trace_every"]); ok {
		req.TraceEvery = v
	}
	return req, nil
}

func loadOrDefaultRunRequest(configPath string) (api.RunRequest, error) {
	if configPath == "" {
		return api.RunRequest{}, nil
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return api.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func overrideFromFlags(req *api.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "cell":
			req.Cell = v.(string)
		case "sub":
			sub, err := parseDims(v.(string))
			if err != nil {
				return fmt.Errorf("sub: %w", err)
			}
			req.Sub = sub
		case "geometry":
			req.Geometry = v.(string)
		case "channels":
			req.Channels = v.(string)
		case "ltcc":
			req.LTCCModel = v.(string)
		case "hetero":
			req.Heterogeneity = v.(string)
		case "hetero-map":
			req.HeteroMap = v.(string)
		case "hetero-spread":
			req.HeteroSpread = v.(float64)
		case "dt":
			req.DT = v.(float64)
		case "duration":
			req.Duration = v.(float64)
		case "seed":
			req.Seed = v.(uint64)
		case "workers":
			req.Workers = v.(int)
		case "membrane":
			req.Membrane = v.(string)
		case "bcl":
			req.BCL = v.(float64)
		case "hold-v":
			hold := v.(float64)
			req.HoldV = &hold
		case "srf":
			req.SRF = v.(bool)
		case "srf-value":
			req.SRFValue = v.(float64)
		case "force":
			req.Force = v.(string)
		case "clamp":
			req.Clamp = v.(bool)
		case "clamp-value":
			req.ClampValue = v.(float64)
		case "trace-every":
			req.TraceEvery = v.(int)
		}
	}
	return nil
}

// parseDims accepts NXxNYxNZ. An empty string means the whole preset.
func parseDims(s string) ([3]int, error) {
	var dims [3]int
	s = strings.TrimSpace(s)
	if s == "" {
		return dims, nil
	}
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 3 {
		return dims, fmt.Errorf("want NXxNYxNZ, got %q", s)
	}
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return dims, fmt.Errorf("invalid extent %q in %q", part, s)
		}
		dims[i] = n
	}
	return dims, nil
}

func asDims(v any) ([3]int, error) {
	switch x := v.(type) {
	case string:
		return parseDims(x)
	case []any:
		var dims [3]int
		if len(x) != 3 {
			return dims, fmt.Errorf("want 3 extents, got %d", len(x))
		}
		for i, item := range x {
			n, ok := asInt(item)
			if !ok || n < 1 {
				return dims, fmt.Errorf("invalid extent %v", item)
			}
			dims[i] = n
		}
		return dims, nil
	default:
		return [3]int{}, fmt.Errorf("unsupported value %v", v)
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
