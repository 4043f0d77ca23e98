package services

import (
	"context"
	"errors"
	"sync"

	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
)

// ErrJobInFlight is returned when a job is submitted while a pipeline run
// for the same job id is still executing.
var ErrJobInFlight = errors.New("job already in flight")

// ProcessFunc runs the pipeline for one job.
type ProcessFunc func(ctx context.Context, jobID, audioPath string)

// Dispatcher hands pipeline work to detached goroutines that outlive the
// originating request. One goroutine per submission; nothing bounds how
// many run at once. A per-job in-flight token prevents two pipeline runs
// for the same job id from racing.
type Dispatcher struct {
	process ProcessFunc
	log     *logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewDispatcher(process ProcessFunc, log *logger.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		process:  process,
		log:      log,
		inFlight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit launches the pipeline for jobID in the background and returns
// immediately. The worker runs under the dispatcher's own context, not the
// caller's, so request teardown never interrupts it.
func (d *Dispatcher) Submit(jobID, audioPath string) error {
	d.mu.Lock()
	if _, running := d.inFlight[jobID]; running {
		d.mu.Unlock()
		return ErrJobInFlight
	}
	d.inFlight[jobID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release(jobID)

		d.log.WithField("job_id", jobID).Debug("pipeline started")
		d.process(d.ctx, jobID, audioPath)
	}()

	return nil
}

func (d *Dispatcher) release(jobID string) {
	d.mu.Lock()
	delete(d.inFlight, jobID)
	d.mu.Unlock()
}

// InFlight reports whether a pipeline run for jobID is currently executing.
func (d *Dispatcher) InFlight(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, running := d.inFlight[jobID]
	return running
}

// Stop waits for in-flight pipelines to finish, then cancels the dispatcher
// context. Terminal status writes are detached from that context, so a
// drain cannot strand a job in processing.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
	d.cancel()
	d.log.Info("dispatcher stopped")
}
