package profiler

import (
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-rendercore/engine/renderer"
	"github.com/charmbracelet/log"
)

// Profiler tracks frame rate, renderer work and memory statistics, and logs a summary at a fixed interval.
type Profiler struct {
	logger         *log.Logger
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	totals renderer.FrameStats
}

// NewProfiler creates a Profiler logging once per interval. A non-positive interval defaults to one second.
//
// Parameters:
//   - logger: the logger summaries are written to, or nil for log.Default()
//   - interval: the time between summaries
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(logger *log.Logger, interval time.Duration) *Profiler {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Profiler{
		logger:         logger.WithPrefix("profiler"),
		lastTime:       time.Now(),
		updateInterval: interval,
	}
}

// Tick records one frame and its renderer counters. When the interval has elapsed it logs FPS, the average
// per-frame renderer work and memory statistics, then resets the window.
//
// Parameters:
//   - stats: the counters of the frame just rendered
//
// Returns:
//   - bool: true if stats were logged this tick
func (p *Profiler) Tick(stats renderer.FrameStats) bool {
	p.frameCount++
	p.accumulate(stats)

	now := time.Now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a ring of the last 256 pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		start := p.lastGCCount
		if gcCount-start > 256 {
			start = gcCount - 256
		}
		for i := start; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	avg := p.Average()
	p.logger.Info("frame stats",
		"fps", float64(p.frameCount)/elapsed.Seconds(),
		"draws", avg.Draws,
		"instances", avg.Instances,
		"activations", avg.Activations,
		"constant_uploads", avg.ConstantUploads,
		"instance_uploads", avg.InstanceUploads,
		"bone_uploads", avg.BoneUploads,
		"heap_mb", float64(p.memStats.Alloc)/1024/1024,
		"alloc_mb_s", float64(allocDelta)/1024/1024/elapsed.Seconds(),
		"gc", gcCount,
		"gc_last_us", lastPauseUs,
		"gc_max_us", maxPauseUs,
		"sys_mb", float64(p.memStats.Sys)/1024/1024,
	)

	p.frameCount = 0
	p.totals = renderer.FrameStats{}
	p.lastTime = now
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}

func (p *Profiler) accumulate(s renderer.FrameStats) {
	p.totals.ConstantUploads += s.ConstantUploads
	p.totals.InstanceUploads += s.InstanceUploads
	p.totals.BoneUploads += s.BoneUploads
	p.totals.Activations += s.Activations
	p.totals.Draws += s.Draws
	p.totals.Instances += s.Instances
}

// Average returns the per-frame renderer counters of the current window, rounded down.
func (p *Profiler) Average() renderer.FrameStats {
	n := p.frameCount
	if n == 0 {
		return renderer.FrameStats{}
	}
	return renderer.FrameStats{
		ConstantUploads: p.totals.ConstantUploads / n,
		InstanceUploads: p.totals.InstanceUploads / n,
		BoneUploads:     p.totals.BoneUploads / n,
		Activations:     p.totals.Activations / n,
		Draws:           p.totals.Draws / n,
		Instances:       p.totals.Instances / n,
	}
}
