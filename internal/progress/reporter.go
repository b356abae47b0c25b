package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalSegments is the number of segments in the batch.
	TotalSegments int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Source is the file being fetched (for display).
	Source string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu                sync.Mutex
	completedBytes    atomic.Int64
	completedSegments atomic.Int32
	failedSegments    atomic.Int32
	inProgress        atomic.Int32
	startTime         time.Time
	lastUpdate        time.Time
	lastBytes         int64
	stopCh            chan struct{}
	doneCh            chan struct{}
	started           bool
	stopped           bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start prints the header and begins periodic updates.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[gribslurp] Fetching: %s\n", r.opts.Source)
	fmt.Fprintf(r.opts.Output, "[gribslurp] Segments: %d | Workers: %d\n",
		r.opts.TotalSegments,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop prints the final status and waits for the update loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// SegmentStarted marks a segment as in progress.
func (r *Reporter) SegmentStarted() {
	r.inProgress.Add(1)
}

// SegmentCompleted marks a segment of size bytes as done.
func (r *Reporter) SegmentCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedSegments.Add(1)
	r.inProgress.Add(-1)
}

// SegmentFailed marks a segment as failed.
func (r *Reporter) SegmentFailed() {
	r.failedSegments.Add(1)
	r.inProgress.Add(-1)
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	done := int(r.completedSegments.Load())
	failed := int(r.failedSegments.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	pending := r.opts.TotalSegments - done - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	// Segment sizes vary, so the ETA is based on segments per second.
	eta := "calculating..."
	if finished := done + failed; finished > 0 {
		perSegment := now.Sub(r.startTime) / time.Duration(finished)
		eta = formatDuration(perSegment * time.Duration(pending+inProgress))
	}

	fmt.Fprintf(r.opts.Output, "\r[gribslurp] Progress: %d/%d segments | %s | Speed: %s/s | ETA: %s    ",
		done,
		r.opts.TotalSegments,
		FormatBytes(completed),
		FormatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "\n[gribslurp] Segments: %d completed | %d in-progress | %d failed | %d pending    \033[A",
		done,
		inProgress,
		failed,
		pending,
	)
}

func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	done := int(r.completedSegments.Load())
	failed := int(r.failedSegments.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	status := "Complete!"
	if failed > 0 {
		status = fmt.Sprintf("%d failed", failed)
	}

	fmt.Fprintf(r.opts.Output, "\r[gribslurp] Progress: %d/%d segments | %s | Speed: %s/s | %s    \n",
		done,
		r.opts.TotalSegments,
		FormatBytes(completed),
		FormatBytes(int64(avgSpeed)),
		status,
	)
	fmt.Fprintf(r.opts.Output, "[gribslurp] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		FormatBytes(int64(avgSpeed)),
	)
}

// FormatBytes formats b with binary prefixes, e.g. "1.5 MiB".
func FormatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
