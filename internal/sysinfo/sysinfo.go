package sysinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const meminfoPath = "/proc/meminfo"

// Metrics describes the host the review server runs on
type Metrics struct {
	CPUCount          int     `json:"cpu_count"`
	Goroutines        int     `json:"goroutines"`
	HeapAllocMB       float64 `json:"heap_alloc_mb"`
	MemoryTotalMB     float64 `json:"memory_total_mb,omitempty"`
	MemoryAvailableMB float64 `json:"memory_available_mb,omitempty"`
	MemoryUsedMB      float64 `json:"memory_used_mb,omitempty"`
	DatabaseSizeMB    float64 `json:"database_size_mb"`
}

// GetMetrics collects process and host metrics. Host memory is only known
// where /proc/meminfo exists; elsewhere those fields stay zero.
func GetMetrics(databasePath string) Metrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := Metrics{
		CPUCount:       runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    float64(mem.HeapAlloc) / (1024 * 1024),
		DatabaseSizeMB: databaseSize(databasePath),
	}

	if file, err := os.Open(meminfoPath); err == nil {
		defer file.Close()
		_ = readMemInfo(file, &metrics)
	}

	return metrics
}

// readMemInfo parses meminfo content (values in kB)
func readMemInfo(r io.Reader, metrics *Metrics) error {
	var memTotal, memAvailable float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			memTotal = value / 1024 // KB to MB
		case strings.HasPrefix(line, "MemAvailable:"):
			memAvailable = value / 1024 // KB to MB
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading meminfo: %w", err)
	}

	metrics.MemoryTotalMB = memTotal
	metrics.MemoryAvailableMB = memAvailable
	metrics.MemoryUsedMB = memTotal - memAvailable

	return nil
}

// databaseSize sums the SQLite file and its write-ahead log
func databaseSize(path string) float64 {
	if path == "" {
		return 0
	}
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return float64(total) / (1024 * 1024)
}
