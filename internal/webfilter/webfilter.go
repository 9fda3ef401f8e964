// internal/webfilter/webfilter.go
package webfilter

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Filter blocks websites by redirecting them to localhost in the hosts
// file. Blocked entries are written for the bare domain and its www.
// variant. The bookkeeping set is rebuilt from the file on startup, so
// entries survive an agent restart.
type Filter struct {
	hostsPath string

	mu      sync.Mutex
	blocked map[string]struct{}
}

// New creates a Filter over the given hosts file and loads the
// currently blocked domains from it.
func New(hostsPath string) *Filter {
	if hostsPath == "" {
		hostsPath = "/etc/hosts"
	}
	f := &Filter{hostsPath: hostsPath, blocked: make(map[string]struct{})}
	f.load()
	return f
}

// NormalizeDomain strips scheme, www prefix, path, and whitespace.
func NormalizeDomain(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "www.")
	if i := strings.IndexAny(url, "/?#"); i >= 0 {
		url = url[:i]
	}
	return strings.TrimSpace(url)
}

func (f *Filter) load() {
	data, err := os.ReadFile(f.hostsPath)
	if err != nil {
		slog.Warn("cannot read hosts file", "path", f.hostsPath, "error", err)
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "127.0.0.1") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] != "localhost" {
			f.blocked[NormalizeDomain(fields[1])] = struct{}{}
		}
	}
	slog.Info("blocked sites loaded", "count", len(f.blocked))
}

// Block redirects the domain (and www. variant) to localhost.
// Idempotent: blocking an already blocked domain succeeds.
func (f *Filter) Block(url string) error {
	domain := NormalizeDomain(url)
	if domain == "" {
		return fmt.Errorf("invalid url %q", url)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.blocked[domain]; ok {
		return nil
	}

	file, err := os.OpenFile(f.hostsPath, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return classifyHostsError(err)
	}
	defer file.Close()

	entry := fmt.Sprintf("127.0.0.1    %s\n127.0.0.1    www.%s\n", domain, domain)
	if _, err := file.WriteString(entry); err != nil {
		return fmt.Errorf("write hosts file: %w", err)
	}

	f.blocked[domain] = struct{}{}
	f.blocked["www."+domain] = struct{}{}
	slog.Info("website blocked", "domain", domain)
	return nil
}

// Unblock removes the domain's redirect lines. Idempotent.
func (f *Filter) Unblock(url string) error {
	domain := NormalizeDomain(url)
	if domain == "" {
		return fmt.Errorf("invalid url %q", url)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.hostsPath)
	if err != nil {
		return classifyHostsError(err)
	}

	var kept []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && strings.HasPrefix(line, "127.0.0.1") &&
			(fields[1] == domain || fields[1] == "www."+domain) {
			continue
		}
		kept = append(kept, line)
	}

	// Rewrite via tmp+rename so a failed write cannot leave the hosts
	// file truncated.
	tmpPath := f.hostsPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(strings.Join(kept, "\n")), 0644); err != nil {
		return classifyHostsError(err)
	}
	if err := os.Rename(tmpPath, f.hostsPath); err != nil {
		os.Remove(tmpPath)
		return classifyHostsError(err)
	}

	delete(f.blocked, domain)
	delete(f.blocked, "www."+domain)
	slog.Info("website unblocked", "domain", domain)
	return nil
}

// Blocked returns the currently blocked domains, excluding www variants.
func (f *Filter) Blocked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for domain := range f.blocked {
		if !strings.HasPrefix(domain, "www.") {
			out = append(out, domain)
		}
	}
	return out
}

// IsBlocked reports whether the domain is currently blocked.
func (f *Filter) IsBlocked(url string) bool {
	domain := NormalizeDomain(url)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blocked[domain]
	return ok
}

func classifyHostsError(err error) error {
	if os.IsPermission(err) {
		return fmt.Errorf("insufficient privilege to modify hosts file: %w", err)
	}
	return err
}
