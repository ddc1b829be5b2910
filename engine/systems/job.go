package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

/** @brief A unit of work for the job system. */
type JobTask struct {
	Name string
	Run  func() error
	// Optional callbacks, invoked on the worker goroutine.
	OnComplete func()
	OnFailure  func(err error)
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup
	pending    sync.WaitGroup
	closeOnce  sync.Once
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	defer js.pending.Done()
	if err := job.Run(); err != nil {
		core.LogError("job %s failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

func (js *JobSystem) Workers() int { return js.numWorkers }

/**
 * @brief Submits the provided job to be queued for execution.
 * Blocks while the queue is full.
 */
func (js *JobSystem) Submit(jt JobTask) {
	js.pending.Add(1)
	js.jobQueue <- jt
}

// Wait blocks until every submitted job has finished.
func (js *JobSystem) Wait() {
	js.pending.Wait()
}

/**
 * @brief Shuts the job system down. Queued jobs still run.
 */
func (js *JobSystem) Shutdown() error {
	js.closeOnce.Do(func() {
		close(js.jobQueue)
	})
	js.wg.Wait()
	return nil
}
