package netcontrol

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// fakeProber answers each probe from a scripted list. A zero duration
// means a timeout.
type fakeProber struct {
	rtts []time.Duration
	next int
}

func (f *fakeProber) Probe(host string, timeout time.Duration) (time.Duration, error) {
	if f.next >= len(f.rtts) {
		return 0, errors.New("timeout")
	}
	rtt := f.rtts[f.next]
	f.next++
	if rtt == 0 {
		return 0, errors.New("timeout")
	}
	return rtt, nil
}

func TestPingAllResponsesSucceed(t *testing.T) {
	prober := &fakeProber{rtts: []time.Duration{
		10 * time.Millisecond, 10 * time.Millisecond,
		10 * time.Millisecond, 10 * time.Millisecond,
	}}

	report := TestPing(prober, "host-under-test", 4, time.Second)

	if !report.Success {
		t.Fatal("expected success")
	}
	stats := report.Statistics
	if stats.PacketsSent != 4 || stats.PacketsReceived != 4 {
		t.Errorf("expected 4/4 packets, got %d/%d", stats.PacketsReceived, stats.PacketsSent)
	}
	if stats.PacketLossPct != 0 {
		t.Errorf("expected 0%% loss, got %v", stats.PacketLossPct)
	}
	if math.Abs(stats.AvgTimeMS-10) > 0.01 {
		t.Errorf("expected avg ~10ms, got %v", stats.AvgTimeMS)
	}
	if len(report.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(report.Results))
	}
	for i, r := range report.Results {
		if r.Sequence != i+1 {
			t.Errorf("result %d: sequence %d", i, r.Sequence)
		}
		if !r.Success || r.LatencyMS == nil {
			t.Errorf("result %d: expected success with latency", i)
		}
	}
}

func TestPingPartialLoss(t *testing.T) {
	prober := &fakeProber{rtts: []time.Duration{
		20 * time.Millisecond, 0, 0, 40 * time.Millisecond,
	}}

	report := TestPing(prober, "flaky-host", 4, time.Second)

	stats := report.Statistics
	if stats.PacketsReceived != 2 {
		t.Errorf("expected 2 received, got %d", stats.PacketsReceived)
	}
	if stats.PacketLossPct != 50 {
		t.Errorf("expected 50%% loss, got %v", stats.PacketLossPct)
	}
	if math.Abs(stats.AvgTimeMS-30) > 0.01 {
		t.Errorf("expected avg 30ms over received, got %v", stats.AvgTimeMS)
	}
	if report.Results[1].Success || report.Results[1].Error == "" {
		t.Error("lost probe should carry an error")
	}
}

func TestPingTotalLossAvgZero(t *testing.T) {
	prober := &fakeProber{}
	report := TestPing(prober, "dead-host", 3, time.Second)

	stats := report.Statistics
	if stats.PacketsReceived != 0 || stats.PacketLossPct != 100 {
		t.Errorf("expected total loss, got %+v", stats)
	}
	if stats.AvgTimeMS != 0 {
		t.Errorf("avg must be 0 with no responses, got %v", stats.AvgTimeMS)
	}
}

// scriptedFirewall records iptables invocations.
type scriptedFirewall struct {
	calls   []string
	listing string
}

func (s *scriptedFirewall) run(args ...string) (string, error) {
	call := strings.Join(args, " ")
	s.calls = append(s.calls, call)
	if args[0] == "-L" {
		return s.listing, nil
	}
	return "", nil
}

func TestFirewallDisableEnableRoundTrip(t *testing.T) {
	script := &scriptedFirewall{}
	fw := &Firewall{run: script.run, enabled: true}

	if err := fw.DisablePing(); err != nil {
		t.Fatal(err)
	}
	if fw.enabled {
		t.Error("expected disabled state")
	}

	var drops, accepts int
	for _, call := range script.calls {
		if strings.HasPrefix(call, "-I") && strings.HasSuffix(call, "DROP") {
			drops++
		}
	}
	if drops != 2 {
		t.Errorf("expected DROP inserted on both chains, got %d", drops)
	}

	script.calls = nil
	if err := fw.EnablePing(); err != nil {
		t.Fatal(err)
	}
	for _, call := range script.calls {
		if strings.HasPrefix(call, "-I") && strings.HasSuffix(call, "ACCEPT") {
			accepts++
		}
	}
	if accepts != 2 {
		t.Errorf("expected ACCEPT inserted on both chains, got %d", accepts)
	}
	if !fw.enabled {
		t.Error("expected enabled state")
	}
}

func TestFirewallStatusReflectsLiveRules(t *testing.T) {
	script := &scriptedFirewall{listing: "Chain INPUT (policy ACCEPT)\nDROP  icmp -- 0.0.0.0/0  0.0.0.0/0  icmptype 8\n"}
	fw := &Firewall{run: script.run, enabled: true}

	if fw.PingEnabled() {
		t.Error("live DROP rule should report ping disabled")
	}
}
