// internal/netcontrol/ping.go
package netcontrol

import (
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/user/hallmonitor/internal/types"
)

// Prober sends a single echo probe and returns its round-trip time.
type Prober interface {
	Probe(host string, timeout time.Duration) (time.Duration, error)
}

// ICMPProber probes with real ICMP echo requests (unprivileged UDP mode,
// the same mode ping3 used in practice).
type ICMPProber struct{}

func (ICMPProber) Probe(host string, timeout time.Duration) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return 0, err
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("timeout")
	}
	return stats.AvgRtt, nil
}

// PingReport is the full outcome of one ping test run.
type PingReport struct {
	Success    bool                 `json:"success"`
	Host       string               `json:"host"`
	Results    []types.PingResult   `json:"results"`
	Statistics types.PingStatistics `json:"statistics"`
	Error      string               `json:"error,omitempty"`
}

// TestPing sends count sequential probes to host and aggregates the
// results. Individual probe failures are recorded, not fatal.
func TestPing(prober Prober, host string, count int, timeout time.Duration) *PingReport {
	if count <= 0 {
		count = 4
	}
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	report := &PingReport{Success: true, Host: host}
	received := 0
	var totalMS float64

	for i := 0; i < count; i++ {
		rtt, err := prober.Probe(host, timeout)
		if err != nil {
			report.Results = append(report.Results, types.PingResult{
				Sequence: i + 1,
				Success:  false,
				Error:    err.Error(),
			})
			continue
		}
		ms := float64(rtt) / float64(time.Millisecond)
		report.Results = append(report.Results, types.PingResult{
			Sequence:  i + 1,
			LatencyMS: &ms,
			Success:   true,
		})
		received++
		totalMS += ms
	}

	report.Statistics = types.PingStatistics{
		PacketsSent:     count,
		PacketsReceived: received,
		PacketLossPct:   float64(count-received) / float64(count) * 100,
	}
	if received > 0 {
		report.Statistics.AvgTimeMS = totalMS / float64(received)
	}
	return report
}

// ResolveHostname resolves a hostname to its first IP address.
func ResolveHostname(hostname string) (string, error) {
	addrs, err := net.LookupHost(hostname)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", hostname, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", hostname)
	}
	return addrs[0], nil
}
