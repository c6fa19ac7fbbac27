package filter

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// AdvancedKey names one attribute filter.
type AdvancedKey string

const (
	KeyLocale        AdvancedKey = "locale"
	KeyIntentGroup   AdvancedKey = "intentGroup"
	KeyQueue         AdvancedKey = "queue"
	KeyCampaign      AdvancedKey = "campaign"
	KeyHandoffReason AdvancedKey = "handoffReason"
	KeyTool          AdvancedKey = "tool"
	KeyModelVersion  AdvancedKey = "modelVersion"
)

// AdvancedKeys lists every attribute filter in display order.
var AdvancedKeys = []AdvancedKey{
	KeyLocale, KeyIntentGroup, KeyQueue, KeyCampaign,
	KeyHandoffReason, KeyTool, KeyModelVersion,
}

// Valid reports whether k is a known attribute filter.
func (k AdvancedKey) Valid() bool {
	for _, known := range AdvancedKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Advanced holds the attribute filters. An empty field means no
// constraint.
type Advanced struct {
	Locale        string `json:"locale"`
	IntentGroup   string `json:"intentGroup"`
	Queue         string `json:"queue"`
	Campaign      string `json:"campaign"`
	HandoffReason string `json:"handoffReason"`
	Tool          string `json:"tool"`
	ModelVersion  string `json:"modelVersion"`
}

func (a *Advanced) field(k AdvancedKey) *string {
	switch k {
	case KeyLocale:
		return &a.Locale
	case KeyIntentGroup:
		return &a.IntentGroup
	case KeyQueue:
		return &a.Queue
	case KeyCampaign:
		return &a.Campaign
	case KeyHandoffReason:
		return &a.HandoffReason
	case KeyTool:
		return &a.Tool
	case KeyModelVersion:
		return &a.ModelVersion
	}
	return nil
}

// Get returns the value of k, or "" when unset or unknown.
func (a Advanced) Get(k AdvancedKey) string {
	if f := a.field(k); f != nil {
		return *f
	}
	return ""
}

// With returns a copy with k set to v. Unknown keys are ignored.
func (a Advanced) With(k AdvancedKey, v string) Advanced {
	if f := a.field(k); f != nil {
		*f = v
	}
	return a
}

// Merge returns a copy with every key in m applied. Keys absent
// from m keep their current value.
func (a Advanced) Merge(m map[AdvancedKey]string) Advanced {
	for k, v := range m {
		a = a.With(k, v)
	}
	return a
}

// Active returns the set filters as a map.
func (a Advanced) Active() map[AdvancedKey]string {
	out := make(map[AdvancedKey]string)
	for _, k := range AdvancedKeys {
		if v := a.Get(k); v != "" {
			out[k] = v
		}
	}
	return out
}

// IsZero reports whether no attribute filter is set.
func (a Advanced) IsZero() bool {
	return a == Advanced{}
}

// ParseAdvanced parses a space-separated list of key=value pairs
// with shell-style quoting, e.g. `locale=en-US queue="Tier 2"`.
// A pair with an empty value clears that key.
func ParseAdvanced(expr string) (map[AdvancedKey]string, error) {
	tokens, err := shlex.Split(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing advanced filters: %w", err)
	}
	out := make(map[AdvancedKey]string, len(tokens))
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("advanced filter %q: expected key=value", tok)
		}
		key := AdvancedKey(k)
		if !key.Valid() {
			return nil, fmt.Errorf("unknown advanced filter %q", k)
		}
		out[key] = v
	}
	return out, nil
}
