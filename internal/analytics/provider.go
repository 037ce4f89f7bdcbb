package analytics

import (
	"fmt"
	"strings"
)

// ProviderFromEnv normalizes a provider name taken from configuration.
func ProviderFromEnv(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "console":
		return "console", nil
	case "posthog":
		return "posthog", nil
	case "mixpanel":
		return "mixpanel", nil
	case "none", "noop", "disabled", "off":
		return "none", nil
	default:
		return "", fmt.Errorf("unknown analytics provider %q (expected console|posthog|mixpanel|none)", value)
	}
}

// ProvidersFromEnv parses a comma separated provider list. Duplicates are
// collapsed and "none" is dropped when other providers are listed.
func ProvidersFromEnv(value string) ([]string, error) {
	seen := map[string]bool{}
	names := []string{}
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		name, err := ProviderFromEnv(part)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	if len(names) == 0 {
		return []string{"console"}, nil
	}
	if len(names) > 1 && seen["none"] {
		kept := names[:0]
		for _, name := range names {
			if name != "none" {
				kept = append(kept, name)
			}
		}
		names = kept
	}
	return names, nil
}
