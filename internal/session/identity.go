// internal/session/identity.go
package session

import (
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/user/hallmonitor/internal/sysinfo"
)

// Identity is the stable id this agent registers under. Derived once
// from the hostname and the primary interface's MAC suffix, then cached
// for the life of the process.
type Identity struct {
	once sync.Once
	id   string
}

// ID returns the agent id in hostname_macsuffix form.
func (i *Identity) ID() string {
	i.once.Do(func() { i.id = deriveID() })
	return i.id
}

func deriveID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	suffix := macSuffix()
	if suffix == "" {
		// No usable interface; fall back to a random suffix.
		suffix = uuid.NewString()[:8]
	}
	return hostname + "_" + suffix
}

// macSuffix returns the last 8 characters of the primary interface's
// MAC address, colons included.
func macSuffix() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if len(mac) > 8 {
			mac = mac[len(mac)-8:]
		}
		return mac
	}
	return ""
}

// Registration is the payload announced to the coordinator on connect.
type Registration struct {
	Name        string `json:"name"`
	IP          string `json:"ip"`
	OS          string `json:"os"`
	User        string `json:"user"`
	ConnectedAt string `json:"connected_at"`
}

// NewRegistration collects the host facts the coordinator displays for
// this agent.
func NewRegistration() Registration {
	hostname, _ := os.Hostname()

	osDesc := runtime.GOOS
	if info, err := host.Info(); err == nil {
		osDesc = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	return Registration{
		Name:        hostname,
		IP:          sysinfo.OutboundIP(),
		OS:          osDesc,
		User:        username,
		ConnectedAt: time.Now().Format(time.RFC3339),
	}
}
