package featureflags

import "testing"

func TestEnabled_BooleanValues(t *testing.T) {
	m := NewManager("a=on,b=off,c=true,d=false,e=1,f=0")

	if !m.Enabled("a", "g1") || !m.Enabled("c", "g1") || !m.Enabled("e", "g1") {
		t.Fatal("expected enabled boolean values to evaluate true")
	}
	if m.Enabled("b", "g1") || m.Enabled("d", "g1") || m.Enabled("f", "g1") {
		t.Fatal("expected disabled boolean values to evaluate false")
	}
}

func TestEnabled_PercentageValues(t *testing.T) {
	m := NewManager("always=100%,never=0%,canary=25%")

	if !m.Enabled("always", "g1") {
		t.Fatal("100% rollout should always be enabled")
	}
	if m.Enabled("never", "g1") {
		t.Fatal("0% rollout should always be disabled")
	}

	first := m.Enabled("canary", "guild-42")
	for i := 0; i < 5; i++ {
		if got := m.Enabled("canary", "guild-42"); got != first {
			t.Fatal("rollout evaluation must be deterministic per scope")
		}
	}

	if m.Enabled("canary", "") {
		t.Fatal("percentage rollout requires a scope")
	}
}

func TestEnabledOr_Fallback(t *testing.T) {
	m := NewManager("hard_delete=off")

	if !m.EnabledOr(Reconcile, "g1", true) {
		t.Fatal("unconfigured flag should use the fallback")
	}
	if m.EnabledOr(HardDelete, "g1", true) {
		t.Fatal("configured flag should ignore the fallback")
	}

	var nilManager *Manager
	if !nilManager.EnabledOr(Reconcile, "g1", true) {
		t.Fatal("nil manager should use the fallback")
	}
}

func TestParseAndSnapshot(t *testing.T) {
	m := NewManager(" bad ,x=on, y = 20% ,z=off ")

	raw := m.Raw()
	if len(raw) != 3 {
		t.Fatalf("expected 3 parsed flags, got %d", len(raw))
	}
	if raw["x"] != "on" || raw["y"] != "20%" || raw["z"] != "off" {
		t.Fatalf("unexpected raw flags: %#v", raw)
	}

	snap := m.Snapshot("guild-1")
	if len(snap) != 3 {
		t.Fatalf("expected snapshot size 3, got %d", len(snap))
	}
}
