// internal/netcontrol/firewall.go
package netcontrol

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// firewallRunner executes a firewall utility invocation.
type firewallRunner func(args ...string) (string, error)

func iptablesRun(args ...string) (string, error) {
	out, err := exec.Command("iptables", args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("iptables %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Firewall toggles ICMP echo handling through iptables rules. Echo
// requests are blocked or allowed in BOTH directions, matching how the
// coordinator expects "ping disabled" to behave.
type Firewall struct {
	run firewallRunner

	mu      sync.Mutex
	enabled bool
}

// NewFirewall creates a Firewall in the enabled (ping answered) state.
func NewFirewall() *Firewall {
	return &Firewall{run: iptablesRun, enabled: true}
}

var icmpChains = []string{"INPUT", "OUTPUT"}

// EnablePing removes echo-request DROP rules and inserts ACCEPT rules.
// Deleting a rule that does not exist is not a failure.
func (f *Firewall) EnablePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, chain := range icmpChains {
		f.run("-D", chain, "-p", "icmp", "--icmp-type", "echo-request", "-j", "DROP")
		if out, err := f.run("-I", chain, "1", "-p", "icmp", "--icmp-type", "echo-request", "-j", "ACCEPT"); err != nil {
			return classifyFirewallError(out, err)
		}
	}
	f.enabled = true
	slog.Info("ping enabled")
	return nil
}

// DisablePing removes echo-request ACCEPT rules and inserts DROP rules.
func (f *Firewall) DisablePing() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, chain := range icmpChains {
		f.run("-D", chain, "-p", "icmp", "--icmp-type", "echo-request", "-j", "ACCEPT")
		if out, err := f.run("-I", chain, "1", "-p", "icmp", "--icmp-type", "echo-request", "-j", "DROP"); err != nil {
			return classifyFirewallError(out, err)
		}
	}
	f.enabled = false
	slog.Info("ping disabled")
	return nil
}

// Reset removes every rule this component could have added, in either
// polarity, and restores the enabled state.
func (f *Firewall) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, chain := range icmpChains {
		for _, action := range []string{"DROP", "ACCEPT"} {
			f.run("-D", chain, "-p", "icmp", "--icmp-type", "echo-request", "-j", action)
		}
	}
	f.enabled = true
}

// PingEnabled reports the last state this component set. The live
// firewall is additionally consulted so an externally added DROP rule
// is reflected.
func (f *Firewall) PingEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	out, err := f.run("-L", "-n")
	if err != nil {
		return f.enabled
	}
	if strings.Contains(out, "DROP") && strings.Contains(out, "icmptype 8") {
		return false
	}
	return f.enabled
}

func classifyFirewallError(out string, err error) error {
	if strings.Contains(strings.ToLower(out), "permission denied") ||
		strings.Contains(strings.ToLower(out), "must be root") {
		return fmt.Errorf("insufficient privilege to modify firewall rules: %w", err)
	}
	return err
}
