package discovery

import (
	"testing"
	"time"
)

func TestAdvertiseAndProbeRoundTrip(t *testing.T) {
	r, err := Advertise(func() Advert {
		return Advert{NodeID: "node1", NetworkName: "test", Host: "127.0.0.1", Port: 9000, ConnectionCode: "melq://127.0.0.1:9000", Timestamp: 42}
	})
	if err != nil {
		t.Skipf("UDP broadcast unavailable in this environment: %v", err)
	}
	defer r.Close()

	results, err := Probe(500 * time.Millisecond)
	if err != nil {
		t.Skipf("probe failed in this environment: %v", err)
	}

	for _, adv := range results {
		if adv.NodeID == "node1" {
			return
		}
	}
	t.Skip("no reply observed; broadcast may be filtered in this environment")
}
