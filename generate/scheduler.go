// Package generate schedules asynchronous mesh generation jobs over sample
// point snapshots. Each admitted job runs its builder on a dedicated worker
// goroutine; admission control caps both the concurrent worker count and the
// tracked job table so a saturated scheduler rejects instead of blocking.
package generate

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/mesh"
	"github.com/pointsurf/pointsurf/voxel"
	goutils "go.viam.com/utils"
)

var (
	// ErrEmptyInput rejects submissions with no points.
	ErrEmptyInput = errors.New("no points to generate from")
	// ErrSaturated rejects submissions when admission control fails.
	ErrSaturated = errors.New("scheduler saturated")
	// ErrClosed rejects submissions after Close.
	ErrClosed = errors.New("scheduler closed")
	// ErrUnknownTask rejects submissions with an unrecognized task kind.
	ErrUnknownTask = errors.New("unknown task kind")
)

// Config tunes the scheduler. Zero values are replaced by defaults.
type Config struct {
	// MaxWorkers caps concurrently running jobs.
	MaxWorkers int
	// MaxQueuedJobs caps the active job table.
	MaxQueuedJobs int
	// RetentionDelay keeps completed jobs queryable before the sweep purges
	// them.
	RetentionDelay time.Duration
	// SweepInterval is the cadence of the retention sweep.
	SweepInterval time.Duration
	// AsyncThreshold is the point count above which GenerateNow dispatches to
	// a worker instead of running inline.
	AsyncThreshold int
	// Clock drives timestamps and the retention sweep. Nil means wall clock;
	// tests install clock.NewMock().
	Clock clock.Clock
}

// DefaultConfig returns the tuning used when the caller has nothing better.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:     4,
		MaxQueuedJobs:  16,
		RetentionDelay: 30 * time.Second,
		SweepInterval:  5 * time.Second,
		AsyncThreshold: 1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = d.MaxWorkers
	}
	if c.MaxQueuedJobs <= 0 {
		c.MaxQueuedJobs = d.MaxQueuedJobs
	}
	if c.RetentionDelay <= 0 {
		c.RetentionDelay = d.RetentionDelay
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.AsyncThreshold <= 0 {
		c.AsyncThreshold = d.AsyncThreshold
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}

// CompletionEvent is delivered to the completion callback exactly once per
// job, on the job's own worker, after the job reaches a terminal state.
type CompletionEvent struct {
	ID      uint64
	Kind    TaskKind
	Status  Status
	Buffers pointsurf.MeshBuffers
	Err     error
}

// Scheduler runs mesh generation jobs asynchronously. Safe for concurrent
// use.
type Scheduler struct {
	cfg    Config
	logger golog.Logger
	clock  clock.Clock

	mu         sync.Mutex
	nextID     uint64
	active     map[uint64]*job
	done       map[uint64]*job
	running    int
	onComplete func(CompletionEvent)
	closed     bool

	workers  sync.WaitGroup
	sweepers sync.WaitGroup
	stop     chan struct{}

	// hookJobRunning, when set, runs on the worker right after the job enters
	// Running and before the first cancellation checkpoint. Tests use it to
	// hold jobs in flight.
	hookJobRunning func(id uint64)
}

// NewScheduler starts a scheduler with its retention sweeper running.
func NewScheduler(cfg Config, logger golog.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		cfg:    cfg,
		logger: logger,
		clock:  cfg.Clock,
		nextID: 1,
		active: make(map[uint64]*job),
		done:   make(map[uint64]*job),
		stop:   make(chan struct{}),
	}
	s.sweepers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer s.sweepers.Done()
		s.sweepLoop()
	})
	return s
}

// SetCompletionFunc installs the callback invoked when a job goes terminal.
// Install before submitting; jobs finishing earlier deliver no event.
func (s *Scheduler) SetCompletionFunc(fn func(CompletionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Submit snapshots the points and starts a worker for them. The returned id
// is unique and strictly increasing in submission order. Saturation, empty
// input and a closed scheduler all reject without creating a job.
func (s *Scheduler) Submit(points []pointsurf.SamplePoint, kind TaskKind, grid voxel.GridConfig) (uint64, error) {
	if len(points) == 0 {
		return 0, ErrEmptyInput
	}
	if kind != TaskPointCloud && kind != TaskFan && kind != TaskVoxel && kind != TaskMarchingCubes {
		return 0, errors.Wrapf(ErrUnknownTask, "kind %d", kind)
	}
	snapshot := make([]pointsurf.SamplePoint, len(points))
	copy(snapshot, points)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.running >= s.cfg.MaxWorkers {
		s.mu.Unlock()
		return 0, errors.Wrapf(ErrSaturated, "%d workers running", s.running)
	}
	if len(s.active) >= s.cfg.MaxQueuedJobs {
		s.mu.Unlock()
		return 0, errors.Wrapf(ErrSaturated, "%d jobs active", len(s.active))
	}
	j := &job{
		id:         s.nextID,
		kind:       kind,
		pointCount: len(snapshot),
		submitted:  s.clock.Now(),
	}
	s.nextID++
	s.active[j.id] = j
	s.running++
	s.workers.Add(1)
	s.mu.Unlock()

	s.logger.Debugw("job submitted", "id", j.id, "kind", kind.String(), "points", j.pointCount)
	goutils.PanicCapturingGo(func() {
		defer s.workers.Done()
		s.runJob(j, snapshot, grid)
	})
	return j.id, nil
}

// GenerateNow builds small inputs inline and submits large ones. An inline
// build returns (buffers, 0, err); a dispatched one returns (zero, id, nil)
// and the result arrives through the usual job surface.
func (s *Scheduler) GenerateNow(points []pointsurf.SamplePoint, kind TaskKind, grid voxel.GridConfig) (pointsurf.MeshBuffers, uint64, error) {
	if len(points) == 0 {
		return pointsurf.MeshBuffers{}, 0, ErrEmptyInput
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return pointsurf.MeshBuffers{}, 0, ErrClosed
	}
	if len(points) <= s.cfg.AsyncThreshold {
		bufs, err := runBuilder(kind, points, grid, nil)
		return bufs, 0, err
	}
	id, err := s.Submit(points, kind, grid)
	return pointsurf.MeshBuffers{}, id, err
}

// Cancel flags an active job for cooperative cancellation. Returns false for
// unknown or already terminal jobs. The job transitions to Cancelled at its
// next checkpoint, not immediately.
func (s *Scheduler) Cancel(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.active[id]
	if !ok {
		return false
	}
	j.requestCancel()
	return true
}

// CancelAll flags every active job.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.active {
		j.requestCancel()
	}
}

// Status returns a snapshot of an active or retained job.
func (s *Scheduler) Status(id uint64) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.active[id]; ok {
		return j.info(), true
	}
	if j, ok := s.done[id]; ok {
		return j.info(), true
	}
	return JobInfo{}, false
}

// Result returns the buffers of a Completed job. Absent until the job
// completes and after the retention sweep purges it; Failed and Cancelled
// jobs never have a result.
func (s *Scheduler) Result(id uint64) (pointsurf.MeshBuffers, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.done[id]
	if !ok || j.getStatus() != StatusCompleted {
		return pointsurf.MeshBuffers{}, false
	}
	return j.result, true
}

// ActiveJobs returns the ids of all non-terminal jobs in submission order.
func (s *Scheduler) ActiveJobs() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RunningCount returns the number of jobs holding a worker.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close cancels every active job, waits for all workers and the sweeper to
// stop, then rejects further submissions. Completed jobs stay queryable on
// the closed scheduler.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, j := range s.active {
		j.requestCancel()
	}
	s.mu.Unlock()

	close(s.stop)
	s.workers.Wait()
	s.sweepers.Wait()
}

// runJob executes the builder for one job and moves it to a terminal state.
// Builder panics are converted to a Failed status here so they never take
// down the worker pool or sibling jobs.
func (s *Scheduler) runJob(j *job, points []pointsurf.SamplePoint, grid voxel.GridConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.finish(j, pointsurf.MeshBuffers{}, errors.Errorf("builder panic: %v", r))
		}
	}()

	j.setStatus(StatusRunning)
	if s.hookJobRunning != nil {
		s.hookJobRunning(j.id)
	}
	j.setProgress(0.1)
	if j.cancelRequested() {
		s.finish(j, pointsurf.MeshBuffers{}, mesh.ErrCancelled)
		return
	}
	j.setProgress(0.2)

	// The builder polls cancellation every fixed stride, so the poll count
	// approximates iteration progress through the interior range.
	polls := 0
	expected := len(points)/1000 + 1
	cancel := func() bool {
		polls++
		frac := float32(polls) / float32(expected)
		if frac > 1 {
			frac = 1
		}
		j.setProgress(0.2 + 0.6*frac)
		return j.cancelRequested()
	}

	bufs, err := runBuilder(j.kind, points, grid, cancel)
	j.setProgress(0.9)
	s.finish(j, bufs, err)
}

func runBuilder(kind TaskKind, points []pointsurf.SamplePoint, grid voxel.GridConfig, cancel mesh.Cancel) (pointsurf.MeshBuffers, error) {
	grid = grid.Clamped()
	switch kind {
	case TaskPointCloud:
		return mesh.CubeSplat(points, grid.VoxelSize, cancel)
	case TaskFan:
		return mesh.Fan(points, cancel)
	case TaskVoxel:
		return mesh.VoxelCubes(points, grid.VoxelSize, cancel)
	case TaskMarchingCubes:
		return mesh.MarchingCubes(points, grid, cancel)
	default:
		return pointsurf.MeshBuffers{}, errors.Wrapf(ErrUnknownTask, "kind %d", kind)
	}
}

// finish moves a job from the active table to the completed table under the
// scheduler mutex and delivers the completion event on the calling worker.
// Runs at most once per job; a job already out of the active table is
// terminal and stays untouched.
func (s *Scheduler) finish(j *job, bufs pointsurf.MeshBuffers, err error) {
	status := StatusCompleted
	switch {
	case errors.Is(err, mesh.ErrCancelled):
		status = StatusCancelled
	case err != nil:
		status = StatusFailed
	}

	s.mu.Lock()
	if _, ok := s.active[j.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, j.id)
	s.running--
	j.completedAt = s.clock.Now()
	if status == StatusCompleted {
		j.result = bufs
	} else {
		j.err = err
	}
	j.setStatus(status)
	j.setProgress(1)
	s.done[j.id] = j
	cb := s.onComplete
	s.mu.Unlock()

	switch status {
	case StatusCompleted:
		s.logger.Debugw("job completed", "id", j.id, "triangles", j.result.TriangleCount())
	case StatusCancelled:
		s.logger.Debugw("job cancelled", "id", j.id)
	case StatusFailed:
		s.logger.Errorw("job failed", "id", j.id, "error", err)
	}
	if cb != nil {
		s.deliver(cb, CompletionEvent{ID: j.id, Kind: j.kind, Status: status, Buffers: j.result, Err: j.err})
	}
}

// deliver runs the completion callback behind its own recover. A panicking
// consumer must not unwind into runJob's builder recover and finish the job
// a second time.
func (s *Scheduler) deliver(cb func(CompletionEvent), ev CompletionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("completion callback panicked", "id", ev.ID, "error", r)
		}
	}()
	cb(ev)
}

// sweepLoop purges completed jobs older than the retention delay.
func (s *Scheduler) sweepLoop() {
	ticker := s.clock.Ticker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, j := range s.done {
				if now.Sub(j.completedAt) >= s.cfg.RetentionDelay {
					delete(s.done, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
