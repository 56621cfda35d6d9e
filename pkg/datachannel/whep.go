package datachannel

import (
	"encoding/json"
	"strings"
)

const whepScanMaxDepth = 3

var (
	whepDirectKeys = []string{"whepUrl", "whep", "whepplay", "whepPlay", "whepshare", "whepShare"}
	whepURLKeys    = []string{"url", "URL"}
	whepNestedKeys = []string{"whepSettings", "whepScreenSettings", "info", "data"}
)

// ExtractWHEPURL scans a data-channel frame for an advertised WHEP
// playback URL. WHEP keys are checked first, then generic url keys, then
// a bounded set of nested objects. Returns "" when nothing plausible is
// found; malformed JSON is treated the same way.
func ExtractWHEPURL(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return extractWHEP(body, 0)
}

func extractWHEP(body map[string]any, depth int) string {
	if depth > whepScanMaxDepth {
		return ""
	}

	if url := trimmedURL(body, whepDirectKeys); url != "" {
		return url
	}
	if url := trimmedURL(body, whepURLKeys); url != "" {
		return url
	}

	for _, key := range whepNestedKeys {
		nested, ok := body[key].(map[string]any)
		if !ok {
			continue
		}
		if url := extractWHEP(nested, depth+1); url != "" {
			return url
		}
	}
	return ""
}

func trimmedURL(body map[string]any, keys []string) string {
	for _, key := range keys {
		s, ok := body[key].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if looksLikeWHEPURL(s) {
			return s
		}
	}
	return ""
}

func looksLikeWHEPURL(candidate string) bool {
	return strings.HasPrefix(candidate, "https://") ||
		strings.HasPrefix(candidate, "http://") ||
		strings.HasPrefix(candidate, "whep:")
}
