package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flag names evaluated per scope.
const (
	Reconcile  = "reconcile"
	HardDelete = "hard_delete"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "reconcile=on,hard_delete=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a given scope.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic per-scope rollout, e.g. 25%)
func (m *Manager) Enabled(name, scope string) bool {
	return m.EnabledOr(name, scope, false)
}

// EnabledOr is Enabled with a fallback for flags that are not configured.
func (m *Manager) EnabledOr(name, scope string, fallback bool) bool {
	if m == nil {
		return fallback
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return fallback
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if scope == "" {
		return false
	}
	return rolloutBucket(name, scope) < pct
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one scope.
func (m *Manager) Snapshot(scope string) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, scope)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, scope string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + scope))
	return int(h.Sum32() % 100)
}
