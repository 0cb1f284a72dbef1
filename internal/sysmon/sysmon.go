// Package sysmon periodically samples resource usage of the server
// process, the encoder child, and the host, and writes the numbers to the
// log. Encoding is by far the dominant cost, so these lines are usually
// the first stop when a session feels sluggish.
package sysmon

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lucidesk/lucidesk/internal/logging"
)

var log = logging.L("sysmon")

const defaultInterval = 30 * time.Second

// Sample is one reading. Encoder fields are zero when no child is running.
type Sample struct {
	HostCPUPercent float64
	HostMemPercent float64

	ServerCPUPercent float64
	ServerRSSMB      uint64

	EncoderPID        int
	EncoderCPUPercent float64
	EncoderRSSMB      uint64
}

// Monitor samples on a ticker until stopped.
type Monitor struct {
	interval time.Duration
	childPID func() int

	self *process.Process

	// child is cached across samples so CPU percentages are deltas
	// rather than lifetime averages. A restart invalidates it.
	child *process.Process

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewMonitor builds a monitor. childPID reports the current encoder child,
// zero when none runs.
func NewMonitor(interval time.Duration, childPID func() int) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		self = nil
	}
	return &Monitor{
		interval: interval,
		childPID: childPID,
		self:     self,
		done:     make(chan struct{}),
	}
}

// Start begins periodic sampling.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run()
	})
}

// Stop halts sampling and waits for the worker.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.logSample(m.sample())
		}
	}
}

func (m *Monitor) sample() Sample {
	var s Sample

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		s.HostCPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.HostMemPercent = vm.UsedPercent
	}

	s.ServerCPUPercent, s.ServerRSSMB = procUsage(m.self)

	if pid := m.childPID(); pid > 0 {
		if m.child == nil || int(m.child.Pid) != pid {
			child, err := process.NewProcess(int32(pid))
			if err != nil {
				child = nil
			}
			m.child = child
		}
		if m.child != nil {
			s.EncoderPID = pid
			s.EncoderCPUPercent, s.EncoderRSSMB = procUsage(m.child)
		}
	} else {
		m.child = nil
	}

	return s
}

func (m *Monitor) logSample(s Sample) {
	fields := []any{
		"hostCpuPct", pct(s.HostCPUPercent),
		"hostMemPct", pct(s.HostMemPercent),
		"serverCpuPct", pct(s.ServerCPUPercent),
		"serverRssMb", s.ServerRSSMB,
	}
	if s.EncoderPID > 0 {
		fields = append(fields,
			"encoderPid", s.EncoderPID,
			"encoderCpuPct", pct(s.EncoderCPUPercent),
			"encoderRssMb", s.EncoderRSSMB,
		)
	}
	log.Info("resource usage", fields...)
}

func procUsage(p *process.Process) (cpuPercent float64, rssMB uint64) {
	if p == nil {
		return 0, 0
	}
	if v, err := p.CPUPercent(); err == nil {
		cpuPercent = v
	}
	if info, err := p.MemoryInfo(); err == nil && info != nil {
		rssMB = info.RSS / 1024 / 1024
	}
	return cpuPercent, rssMB
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
