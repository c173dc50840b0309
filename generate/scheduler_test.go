package generate

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/pointsurf/pointsurf"
	"github.com/pointsurf/pointsurf/voxel"
	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r3"
)

func testPoints(n int) []pointsurf.SamplePoint {
	points := make([]pointsurf.SamplePoint, n)
	for i := range points {
		points[i] = pointsurf.NewSamplePoint(r3.Vec{X: float64(i), Y: float64(i % 3)}, pointsurf.White)
	}
	return points
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Clock = clock.NewMock()
	return cfg
}

// completionRecorder funnels completion events into a channel the test can
// block on.
func completionRecorder(s *Scheduler) <-chan CompletionEvent {
	events := make(chan CompletionEvent, 16)
	s.SetCompletionFunc(func(ev CompletionEvent) {
		events <- ev
	})
	return events
}

func waitEvent(t *testing.T, events <-chan CompletionEvent) CompletionEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
		return CompletionEvent{}
	}
}

func TestSubmitAndComplete(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()
	events := completionRecorder(s)

	id, err := s.Submit(testPoints(3), TaskPointCloud, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, uint64(1))

	ev := waitEvent(t, events)
	test.That(t, ev.ID, test.ShouldEqual, id)
	test.That(t, ev.Status, test.ShouldEqual, StatusCompleted)
	test.That(t, ev.Buffers.TriangleCount(), test.ShouldEqual, 36)

	info, ok := s.Status(id)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, info.Status, test.ShouldEqual, StatusCompleted)
	test.That(t, info.Progress, test.ShouldEqual, float32(1))
	test.That(t, info.PointCount, test.ShouldEqual, 3)
	test.That(t, info.TriangleCount, test.ShouldEqual, 36)

	bufs, ok := s.Result(id)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bufs.TriangleCount(), test.ShouldEqual, 36)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()

	_, err := s.Submit(nil, TaskPointCloud, voxel.DefaultGridConfig())
	test.That(t, errors.Is(err, ErrEmptyInput), test.ShouldBeTrue)

	_, err = s.Submit(testPoints(1), TaskKind(99), voxel.DefaultGridConfig())
	test.That(t, errors.Is(err, ErrUnknownTask), test.ShouldBeTrue)
}

func TestIDsIncreaseWithSubmissionOrder(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()
	events := completionRecorder(s)

	var ids []uint64
	for i := 0; i < 3; i++ {
		id, err := s.Submit(testPoints(2), TaskVoxel, voxel.DefaultGridConfig())
		test.That(t, err, test.ShouldBeNil)
		ids = append(ids, id)
		waitEvent(t, events)
	}
	test.That(t, ids, test.ShouldResemble, []uint64{1, 2, 3})
}

func TestAdmissionControl(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := testConfig()
	cfg.MaxWorkers = 2
	cfg.MaxQueuedJobs = 2
	s := NewScheduler(cfg, logger)
	defer s.Close()
	events := completionRecorder(s)

	release := make(chan struct{})
	s.hookJobRunning = func(uint64) { <-release }

	for i := 0; i < 2; i++ {
		_, err := s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, s.RunningCount(), test.ShouldEqual, 2)

	// Worker cap reached: the next submission is rejected, no job created.
	_, err := s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, errors.Is(err, ErrSaturated), test.ShouldBeTrue)
	test.That(t, len(s.ActiveJobs()), test.ShouldEqual, 2)

	close(release)
	waitEvent(t, events)
	waitEvent(t, events)
	test.That(t, s.RunningCount(), test.ShouldEqual, 0)

	// Capacity frees up once jobs retire.
	_, err = s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	waitEvent(t, events)
}

func TestQueueDepthCap(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := testConfig()
	cfg.MaxWorkers = 8
	cfg.MaxQueuedJobs = 1
	s := NewScheduler(cfg, logger)
	defer s.Close()
	events := completionRecorder(s)

	release := make(chan struct{})
	s.hookJobRunning = func(uint64) { <-release }

	_, err := s.Submit(testPoints(2), TaskVoxel, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	_, err = s.Submit(testPoints(2), TaskVoxel, voxel.DefaultGridConfig())
	test.That(t, errors.Is(err, ErrSaturated), test.ShouldBeTrue)

	close(release)
	waitEvent(t, events)
}

func TestCancelBeforeCheckpoint(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()
	events := completionRecorder(s)

	started := make(chan uint64, 1)
	release := make(chan struct{})
	s.hookJobRunning = func(id uint64) {
		started <- id
		<-release
	}

	id, err := s.Submit(testPoints(5), TaskPointCloud, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	<-started
	test.That(t, s.Cancel(id), test.ShouldBeTrue)
	close(release)

	ev := waitEvent(t, events)
	test.That(t, ev.Status, test.ShouldEqual, StatusCancelled)

	info, ok := s.Status(id)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, info.Status, test.ShouldEqual, StatusCancelled)
	_, ok = s.Result(id)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCancelUnknownJob(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()
	test.That(t, s.Cancel(42), test.ShouldBeFalse)
}

func TestBuilderPanicMarksFailed(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()
	events := completionRecorder(s)

	var panicNext atomic.Bool
	panicNext.Store(true)
	s.hookJobRunning = func(uint64) {
		if panicNext.Load() {
			panic("builder exploded")
		}
	}

	id, err := s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)

	ev := waitEvent(t, events)
	test.That(t, ev.Status, test.ShouldEqual, StatusFailed)
	test.That(t, ev.Err, test.ShouldNotBeNil)

	// The scheduler survives and runs later jobs.
	panicNext.Store(false)
	_, err = s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	ev = waitEvent(t, events)
	test.That(t, ev.Status, test.ShouldEqual, StatusCompleted)
	test.That(t, id, test.ShouldNotEqual, ev.ID)
}

func waitTerminal(t *testing.T, s *Scheduler, id uint64) JobInfo {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if info, ok := s.Status(id); ok && info.Status.Terminal() {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for job to finish")
			return JobInfo{}
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCallbackPanicContained(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	defer s.Close()

	var delivered atomic.Int32
	s.SetCompletionFunc(func(CompletionEvent) {
		delivered.Add(1)
		panic("consumer exploded")
	})

	id, err := s.Submit(testPoints(3), TaskPointCloud, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)

	deadline := time.Now().Add(5 * time.Second)
	for delivered.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for completion delivery")
		}
		time.Sleep(time.Millisecond)
	}
	// Give any stray re-delivery time to land before counting.
	time.Sleep(10 * time.Millisecond)

	// Delivered exactly once; the job stays Completed with its result.
	test.That(t, delivered.Load(), test.ShouldEqual, int32(1))
	info, ok := s.Status(id)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, info.Status, test.ShouldEqual, StatusCompleted)
	test.That(t, info.Progress, test.ShouldEqual, float32(1))
	bufs, ok := s.Result(id)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, bufs.TriangleCount(), test.ShouldEqual, 36)
	test.That(t, s.RunningCount(), test.ShouldEqual, 0)

	// Admission accounting is intact for later jobs.
	s.SetCompletionFunc(nil)
	id2, err := s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	info = waitTerminal(t, s, id2)
	test.That(t, info.Status, test.ShouldEqual, StatusCompleted)
}

func TestRetentionSweep(t *testing.T) {
	logger := golog.NewTestLogger(t)
	clk := clock.NewMock()
	cfg := testConfig()
	cfg.Clock = clk
	cfg.RetentionDelay = time.Second
	cfg.SweepInterval = time.Second
	s := NewScheduler(cfg, logger)
	defer s.Close()
	events := completionRecorder(s)

	id, err := s.Submit(testPoints(2), TaskVoxel, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	waitEvent(t, events)

	_, ok := s.Status(id)
	test.That(t, ok, test.ShouldBeTrue)

	clk.Add(2 * time.Second)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := s.Status(id); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("completed job not purged after retention delay")
		}
		time.Sleep(time.Millisecond)
	}
	_, ok = s.Result(id)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestCloseRejectsSubmissions(t *testing.T) {
	logger := golog.NewTestLogger(t)
	s := NewScheduler(testConfig(), logger)
	s.Close()
	_, err := s.Submit(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
	// The inline path rejects too.
	_, _, err = s.GenerateNow(testPoints(2), TaskFan, voxel.DefaultGridConfig())
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
	// Closing twice is harmless.
	s.Close()
}

func TestGenerateNow(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg := testConfig()
	cfg.AsyncThreshold = 10
	s := NewScheduler(cfg, logger)
	defer s.Close()
	events := completionRecorder(s)

	// Small inputs run inline on the caller.
	bufs, id, err := s.GenerateNow(testPoints(3), TaskPointCloud, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldEqual, uint64(0))
	test.That(t, bufs.TriangleCount(), test.ShouldEqual, 36)

	// Large inputs dispatch to a worker.
	bufs, id, err = s.GenerateNow(testPoints(11), TaskPointCloud, voxel.DefaultGridConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldNotEqual, uint64(0))
	test.That(t, bufs.TriangleCount(), test.ShouldEqual, 0)

	ev := waitEvent(t, events)
	test.That(t, ev.ID, test.ShouldEqual, id)
	test.That(t, ev.Buffers.TriangleCount(), test.ShouldEqual, 12*11)
}

func TestProgressNeverRegresses(t *testing.T) {
	j := &job{}
	j.setProgress(0.5)
	j.setProgress(0.3)
	test.That(t, j.getProgress(), test.ShouldEqual, float32(0.5))
	j.setProgress(0.9)
	test.That(t, j.getProgress(), test.ShouldEqual, float32(0.9))
}
