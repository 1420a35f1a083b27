package taint

import "testing"

func TestRatioAccounting(t *testing.T) {
	b := NewBudget(0.10, nil)

	b.RecordInbound("s1", 4000, TrustExternal)
	b.RecordInbound("s1", 100, TrustUser)

	got := b.Ratio("s1")
	want := 4000.0 / 4100.0
	if got != want {
		t.Fatalf("Ratio = %v, want %v", got, want)
	}
	if b.Ratio("unknown") != 0 {
		t.Error("unknown session should have ratio 0")
	}
}

func TestGatedActionDenied(t *testing.T) {
	b := NewBudget(0.10, nil)
	b.RecordInbound("sx", 4000, TrustExternal)
	b.RecordInbound("sx", 100, TrustUser)

	d := b.CheckAction("sx", "memory_write", TrustUser)
	if d.Allowed {
		t.Fatalf("memory_write should be denied at ratio %.3f > 0.10", d.Ratio)
	}
	if d.Reason == "" {
		t.Error("denial should carry a reason")
	}

	// Non-gated actions pass regardless of ratio.
	if d := b.CheckAction("sx", "memory_read", TrustUser); !d.Allowed {
		t.Error("non-gated action denied")
	}

	// System actors bypass the gate.
	if d := b.CheckAction("sx", "memory_write", TrustSystem); !d.Allowed {
		t.Error("system actor should bypass the gate")
	}
}

func TestGateAllowsUnderThreshold(t *testing.T) {
	b := NewBudget(0.5, nil)
	b.RecordInbound("s", 100, TrustExternal)
	b.RecordInbound("s", 900, TrustUser)

	if d := b.CheckAction("s", "web_fetch", TrustUser); !d.Allowed {
		t.Errorf("ratio %.2f under threshold should be allowed", d.Ratio)
	}
}

func TestEndSessionResets(t *testing.T) {
	b := NewBudget(0.10, nil)
	b.RecordInbound("s", 1000, TrustExternal)
	if d := b.CheckAction("s", "web_fetch", TrustUser); d.Allowed {
		t.Fatal("expected denial before reset")
	}
	b.EndSession("s")
	if d := b.CheckAction("s", "web_fetch", TrustUser); !d.Allowed {
		t.Error("session counters should be discarded on end")
	}
}

func TestCustomGatedSet(t *testing.T) {
	b := NewBudget(0.1, []string{"only_this"})
	b.RecordInbound("s", 1000, TrustExternal)

	if d := b.CheckAction("s", "only_this", TrustUser); d.Allowed {
		t.Error("custom gated action should be denied")
	}
	if d := b.CheckAction("s", "memory_write", TrustUser); !d.Allowed {
		t.Error("default gated action should not apply with custom set")
	}
}
