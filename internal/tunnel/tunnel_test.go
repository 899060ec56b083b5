package tunnel

import "testing"

func TestManualRequiresPortForwarding(t *testing.T) {
	res, err := Manual{}.Open(4000, MethodAuto, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !res.RequiresPortForwarding {
		t.Fatal("manual provider must flag that the operator forwards the port themselves")
	}
	if res.Method != MethodManual {
		t.Fatalf("expected method %q, got %q", MethodManual, res.Method)
	}
}
