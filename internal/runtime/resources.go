package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process, reported on /api/status.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	HeapBytes   uint64  `json:"heap_bytes"`
	Goroutines  uint64  `json:"goroutines"`
	GCCycles    uint64  `json:"gc_cycles"`
	SampledOver string  `json:"sampled_over,omitempty"`
}

const (
	sampleCPU        = "/sched/cpu:seconds"
	sampleHeap       = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleGCCycles   = "/gc/cycles/total:gc-cycles"
)

// resourceTracker turns cumulative runtime/metrics samples into a CPU rate
// between two status requests.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: resourceSamples(),
		numCPU:  float64(runtime.NumCPU()),
	}
}

func resourceSamples() []metrics.Sample {
	return []metrics.Sample{
		{Name: sampleCPU},
		{Name: sampleHeap},
		{Name: sampleGoroutines},
		{Name: sampleGCCycles},
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = resourceSamples()
	}
	metrics.Read(r.samples)
	now := time.Now()

	var usage ResourceUsage
	for _, sample := range r.samples {
		switch sample.Name {
		case sampleCPU:
			if sample.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpuSeconds := sample.Value.Float64()
			if !r.lastSample.IsZero() {
				wall := now.Sub(r.lastSample)
				if wall > 0 && r.numCPU > 0 {
					usage.CPUPercent = (cpuSeconds - r.lastCPUSeconds) / wall.Seconds() / r.numCPU * 100
					usage.SampledOver = wall.Round(time.Millisecond).String()
				}
			}
			r.lastCPUSeconds = cpuSeconds
		case sampleHeap:
			usage.HeapBytes = uint64Sample(sample)
		case sampleGoroutines:
			usage.Goroutines = uint64Sample(sample)
		case sampleGCCycles:
			usage.GCCycles = uint64Sample(sample)
		}
	}
	r.lastSample = now

	if usage.Goroutines == 0 {
		usage.Goroutines = uint64(runtime.NumGoroutine())
	}
	return usage
}

func uint64Sample(sample metrics.Sample) uint64 {
	if sample.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample.Value.Uint64()
}
