//go:generate mockgen -source=$GOFILE -destination=mock/$GOFILE -package=mock

// Package telemetry periodically logs the host's TCP connections, CPU and
// memory load. It only observes; admission never reads it.
package telemetry

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
)

// Conn is one TCP connection seen on the host.
type Conn struct {
	Remote string
	Status string
}

type Snapshot struct {
	Conns         []Conn
	CPUPercent    float64
	MemoryPercent float64
}

type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Reporter samples every interval and logs the result.
type Reporter struct {
	sampler  Sampler
	interval time.Duration
	log      *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(sampler Sampler, interval time.Duration, log *slog.Logger) *Reporter {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Reporter{
		sampler:  sampler,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

func (r *Reporter) Start() {
	r.wg.Add(1)
	go r.run()
	r.log.Info("telemetry started", "interval", r.interval)
}

// Stop ends sampling and waits for a sample in progress. Call it once.
func (r *Reporter) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("telemetry stopped")
}

func (r *Reporter) run() {
	defer r.wg.Done()

	r.report()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.report()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reporter) report() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	snap, err := r.sampler.Sample(ctx)
	if err != nil {
		r.log.Error("telemetry sample", "error", err)
		return
	}
	for _, c := range snap.Conns {
		r.log.Info("active connection", "remote", c.Remote, "status", c.Status)
	}
	r.log.Info("host load", "cpu_percent", snap.CPUPercent, "memory_percent", snap.MemoryPercent)
}

// GopsutilSampler reads the live host through gopsutil.
type GopsutilSampler struct{}

func (GopsutilSampler) Sample(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return snap, err
	}
	for _, c := range conns {
		if c.Raddr.IP == "" {
			continue
		}
		snap.Conns = append(snap.Conns, Conn{
			Remote: net.JoinHostPort(c.Raddr.IP, strconv.FormatUint(uint64(c.Raddr.Port), 10)),
			Status: c.Status,
		})
	}

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return snap, err
	}
	if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, err
	}
	snap.MemoryPercent = vm.UsedPercent
	return snap, nil
}
