/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package policy

import "strings"

// predicateResult is (matched, unknown). unknown marks a predicate key this
// engine doesn't recognize — treated as vacuously true per spec §4.2/§9.
type predicateResult struct {
	matched bool
	unknown bool
}

func evalPredicate(key string, value any, args Args) predicateResult {
	switch key {
	case "method":
		want, _ := value.(string)
		return predicateResult{matched: args.GetString("method") == want}

	case "host_in":
		hosts := toStringSlice(value)
		host := extractHost(args.GetString("url"))
		for _, h := range hosts {
			if h == host {
				return predicateResult{matched: true}
			}
		}
		return predicateResult{matched: false}

	case "path_not_under":
		prefixes := toStringSlice(value)
		path := args.GetString("path")
		if path == "" {
			return predicateResult{matched: false}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return predicateResult{matched: true}
			}
		}
		return predicateResult{matched: false}

	case "body_bytes_over":
		threshold := toInt(value)
		return predicateResult{matched: args.BodyByteLength() > threshold}

	case "estimated_cost_usd_over":
		threshold := toFloat(value)
		return predicateResult{matched: args.GetFloatOr("estimated_cost_usd", 0) > threshold}

	default:
		return predicateResult{matched: true, unknown: true}
	}
}

// extractHost returns the host portion of a URL: after "://", up to the
// first "/". An empty or malformed URL yields an empty host, which fails
// host_in (spec §4.2 tie-breaks).
func extractHost(url string) string {
	idx := strings.Index(url, "://")
	if idx < 0 {
		return ""
	}
	rest := url[idx+3:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		return rest[:slash]
	}
	return rest
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

func toInt(v any) int {
	return int(toFloat(v))
}
