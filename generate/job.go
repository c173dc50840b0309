package generate

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/pointsurf/pointsurf"
)

// TaskKind selects which mesh builder a job runs.
type TaskKind int

const (
	// TaskPointCloud emits one colored cube per point.
	TaskPointCloud TaskKind = iota
	// TaskFan triangulates the points as a single fan.
	TaskFan
	// TaskVoxel emits deduplicated cubes on a voxel lattice.
	TaskVoxel
	// TaskMarchingCubes voxelizes the points and extracts an isosurface.
	TaskMarchingCubes
)

func (k TaskKind) String() string {
	switch k {
	case TaskPointCloud:
		return "pointcloud"
	case TaskFan:
		return "fan"
	case TaskVoxel:
		return "voxel"
	case TaskMarchingCubes:
		return "marchingcubes"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a job. Terminal states are final.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one a job never leaves.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobInfo is a point-in-time snapshot of a job for status queries.
type JobInfo struct {
	ID            uint64
	Kind          TaskKind
	Status        Status
	Progress      float32
	PointCount    int
	TriangleCount int
	Submitted     time.Time
	Completed     time.Time
}

// job is the scheduler's internal record. Status and progress are atomics so
// any goroutine may read them while the worker updates; result, err and
// completedAt are written once under the scheduler mutex when the job goes
// terminal.
type job struct {
	id         uint64
	kind       TaskKind
	pointCount int
	submitted  time.Time

	status   atomic.Int32
	progress atomic.Uint32 // float32 bits
	cancel   atomic.Bool

	completedAt time.Time
	result      pointsurf.MeshBuffers
	err         error
}

func (j *job) getStatus() Status     { return Status(j.status.Load()) }
func (j *job) setStatus(s Status)    { j.status.Store(int32(s)) }
func (j *job) cancelRequested() bool { return j.cancel.Load() }
func (j *job) requestCancel()        { j.cancel.Store(true) }

func (j *job) getProgress() float32 {
	return math.Float32frombits(j.progress.Load())
}

// setProgress advances progress to p, never backwards. Concurrent updates
// race toward the maximum.
func (j *job) setProgress(p float32) {
	for {
		old := j.progress.Load()
		if math.Float32frombits(old) >= p {
			return
		}
		if j.progress.CompareAndSwap(old, math.Float32bits(p)) {
			return
		}
	}
}

func (j *job) info() JobInfo {
	return JobInfo{
		ID:            j.id,
		Kind:          j.kind,
		Status:        j.getStatus(),
		Progress:      j.getProgress(),
		PointCount:    j.pointCount,
		TriangleCount: j.result.TriangleCount(),
		Submitted:     j.submitted,
		Completed:     j.completedAt,
	}
}
