// internal/sysinfo/sysinfo.go
package sysinfo

import (
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"
)

const bytesPerGB = 1 << 30

// Stats is one telemetry snapshot of the host.
type Stats struct {
	CPU struct {
		Percent float64 `json:"percent"`
		Count   int     `json:"count"`
	} `json:"cpu"`
	Memory struct {
		Percent float64 `json:"percent"`
		TotalGB float64 `json:"total_gb"`
		UsedGB  float64 `json:"used_gb"`
	} `json:"memory"`
	Disk struct {
		Percent float64 `json:"percent"`
		TotalGB float64 `json:"total_gb"`
		UsedGB  float64 `json:"used_gb"`
	} `json:"disk"`
	Network struct {
		BytesSent uint64 `json:"bytes_sent"`
		BytesRecv uint64 `json:"bytes_recv"`
	} `json:"network"`
	System struct {
		Platform string `json:"platform"`
		Release  string `json:"release"`
		Machine  string `json:"machine"`
		Hostname string `json:"hostname"`
		Uptime   string `json:"uptime"`
	} `json:"system"`
}

// Collect gathers a full snapshot. Individual collector failures leave
// their section zeroed; only a total failure is an error.
func Collect() (*Stats, error) {
	stats := &Stats{}
	collected := false

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPU.Percent = round2(percents[0])
		collected = true
	}
	if count, err := cpu.Counts(true); err == nil {
		stats.CPU.Count = count
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory.Percent = round2(vm.UsedPercent)
		stats.Memory.TotalGB = round2(float64(vm.Total) / bytesPerGB)
		stats.Memory.UsedGB = round2(float64(vm.Used) / bytesPerGB)
		collected = true
	}

	if du, err := disk.Usage("/"); err == nil {
		stats.Disk.Percent = round2(du.UsedPercent)
		stats.Disk.TotalGB = round2(float64(du.Total) / bytesPerGB)
		stats.Disk.UsedGB = round2(float64(du.Used) / bytesPerGB)
		collected = true
	}

	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		stats.Network.BytesSent = counters[0].BytesSent
		stats.Network.BytesRecv = counters[0].BytesRecv
	}

	if info, err := host.Info(); err == nil {
		stats.System.Platform = info.Platform
		stats.System.Release = info.PlatformVersion
		stats.System.Hostname = info.Hostname
		stats.System.Uptime = (time.Duration(info.Uptime) * time.Second).String()
		collected = true
	}
	stats.System.Machine = runtime.GOARCH

	if !collected {
		return nil, fmt.Errorf("no system statistics available")
	}
	return stats, nil
}

// OutboundIP discovers the primary outbound IPv4 address by dialing a
// public address; no packet is actually sent for UDP.
func OutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
