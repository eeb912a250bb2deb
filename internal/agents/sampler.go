package agents

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/executor"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"github.com/google/uuid"
)

const probeTimeout = 15 * time.Second

// One line per value: cpu%, "total used" memory MB, "total used" disk KB,
// process count.
const linuxProbe = "top -bn1 | head -3 | grep Cpu | awk '{print $2}'" +
	" && free -m | awk 'NR==2{print $2\" \"$3}'" +
	" && df -P / | awk 'NR==2{print $2\" \"$3}'" +
	" && ps -e | wc -l"

// One line per value: cpu%, total and free memory KB, disk size and free
// bytes, process count.
const windowsProbe = "Get-CimInstance Win32_Processor | Measure-Object -Property LoadPercentage -Average | Select-Object -ExpandProperty Average" +
	"; Get-CimInstance Win32_OperatingSystem | Select-Object -ExpandProperty TotalVisibleMemorySize" +
	"; Get-CimInstance Win32_OperatingSystem | Select-Object -ExpandProperty FreePhysicalMemory" +
	"; Get-CimInstance Win32_LogicalDisk -Filter \"DeviceID='C:'\" | Select-Object -ExpandProperty Size" +
	"; Get-CimInstance Win32_LogicalDisk -Filter \"DeviceID='C:'\" | Select-Object -ExpandProperty FreeSpace" +
	"; Get-Process | Measure-Object | Select-Object -ExpandProperty Count"

// ProbeRunner is the slice of the executor the command sampler needs.
type ProbeRunner interface {
	OSFor(serverID uuid.UUID) (string, error)
	RunReadOnly(ctx context.Context, serverID uuid.UUID, command string, timeout time.Duration) (*executor.Result, error)
}

// CommandSampler polls servers that have a registered connection with
// read-only probe commands and defers to Fallback for the rest.
type CommandSampler struct {
	Runner   ProbeRunner
	Fallback Sampler
}

func (s *CommandSampler) Sample(ctx context.Context, server models.Server) (*models.Metric, error) {
	os, err := s.Runner.OSFor(server.ID)
	if errors.Is(err, executor.ErrNoConnection) && s.Fallback != nil {
		return s.Fallback.Sample(ctx, server)
	}
	if err != nil {
		return nil, err
	}

	probe := linuxProbe
	if os == models.OSWindows {
		probe = windowsProbe
	}
	res, err := s.Runner.RunReadOnly(ctx, server.ID, probe, probeTimeout)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", server.Hostname, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("probe %s exited %d: %s", server.Hostname, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if os == models.OSWindows {
		return parseWindowsProbe(res.Stdout)
	}
	return parseLinuxProbe(res.Stdout)
}

func probeFields(out string, want int) ([][]float64, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < want {
		return nil, fmt.Errorf("probe returned %d lines, want %d", len(lines), want)
	}
	rows := make([][]float64, want)
	for i := 0; i < want; i++ {
		for _, f := range strings.Fields(strings.ReplaceAll(lines[i], ",", ".")) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("probe line %d: %w", i+1, err)
			}
			rows[i] = append(rows[i], v)
		}
		if len(rows[i]) == 0 {
			return nil, fmt.Errorf("probe line %d is empty", i+1)
		}
	}
	return rows, nil
}

func percent(used, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(used/total*10000) / 100
}

func parseLinuxProbe(out string) (*models.Metric, error) {
	rows, err := probeFields(out, 4)
	if err != nil {
		return nil, err
	}
	if len(rows[1]) < 2 || len(rows[2]) < 2 {
		return nil, errors.New("probe memory/disk lines need total and used")
	}
	return &models.Metric{
		CPUUsage:     rows[0][0],
		MemoryUsage:  percent(rows[1][1], rows[1][0]),
		DiskUsage:    percent(rows[2][1], rows[2][0]),
		ProcessCount: int(rows[3][0]) - 1, // header line
	}, nil
}

func parseWindowsProbe(out string) (*models.Metric, error) {
	rows, err := probeFields(out, 6)
	if err != nil {
		return nil, err
	}
	memTotal, memFree := rows[1][0], rows[2][0]
	diskTotal, diskFree := rows[3][0], rows[4][0]
	return &models.Metric{
		CPUUsage:     rows[0][0],
		MemoryUsage:  percent(memTotal-memFree, memTotal),
		DiskUsage:    percent(diskTotal-diskFree, diskTotal),
		ProcessCount: int(rows[5][0]),
	}, nil
}

// SyntheticSampler random-walks plausible utilisation per server, for fleets
// without connections and for demos.
type SyntheticSampler struct {
	mu   sync.Mutex
	rng  *rand.Rand
	last map[uuid.UUID]models.Metric
}

func NewSyntheticSampler(seed int64) *SyntheticSampler {
	return &SyntheticSampler{rng: rand.New(rand.NewSource(seed)), last: make(map[uuid.UUID]models.Metric)}
}

func (s *SyntheticSampler) Sample(_ context.Context, server models.Server) (*models.Metric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.last[server.ID]
	if !ok {
		prev = models.Metric{
			CPUUsage:       20 + s.rng.Float64()*30,
			MemoryUsage:    30 + s.rng.Float64()*30,
			DiskUsage:      30 + s.rng.Float64()*25,
			NetworkLatency: 5 + s.rng.Float64()*20,
			ProcessCount:   80 + s.rng.Intn(120),
		}
	}
	m := models.Metric{
		ServerID:          server.ID,
		CPUUsage:          s.walk(prev.CPUUsage, 8, 1, 100),
		MemoryUsage:       s.walk(prev.MemoryUsage, 4, 1, 100),
		DiskUsage:         s.walk(prev.DiskUsage, 0.5, 1, 100),
		NetworkLatency:    s.walk(prev.NetworkLatency, 5, 0.5, 500),
		NetworkThroughput: math.Round(s.rng.Float64()*100000) / 100,
		ProcessCount:      prev.ProcessCount + s.rng.Intn(11) - 5,
	}
	if m.ProcessCount < 1 {
		m.ProcessCount = 1
	}
	s.last[server.ID] = m
	return &m, nil
}

func (s *SyntheticSampler) walk(v, step, lo, hi float64) float64 {
	v += (s.rng.Float64()*2 - 1) * step
	return math.Round(math.Max(lo, math.Min(hi, v))*100) / 100
}
