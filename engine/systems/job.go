package systems

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

var (
	ErrNoWorkers           = fmt.Errorf("attempting to create worker pool with less than 1 worker")
	ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
	ErrJobSystemClosed     = errors.New("job system is shut down")
)

// Job is one unit of work. OnComplete or OnFailure runs on the worker right
// after Run returns.
type Job struct {
	Name       string
	Run        func() error
	OnComplete func()
	OnFailure  func(err error)
}

// JobSystem runs jobs on a fixed number of worker goroutines.
type JobSystem struct {
	numWorkers int
	jobQueue   chan Job
	wg         sync.WaitGroup

	mutex  sync.RWMutex
	closed bool
}

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, channelSize),
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
				js.execute(job)
			}
		}()
	}
}

func (js *JobSystem) execute(job Job) {
	if err := job.Run(); err != nil {
		core.LogError("job `%s` failed: %s", job.Name, err)
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete()
	}
}

// Submit queues a job, blocking while the queue is full.
func (js *JobSystem) Submit(job Job) error {
	js.mutex.RLock()
	defer js.mutex.RUnlock()
	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- job
	return nil
}

// RunAll runs the jobs and waits for all of them. The returned error joins
// every job failure.
func (js *JobSystem) RunAll(jobs ...Job) error {
	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
		errs  []error
	)
	for _, job := range jobs {
		run := job.Run
		wg.Add(1)
		job.Run = func() error {
			defer wg.Done()
			err := run()
			if err != nil {
				mutex.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
				mutex.Unlock()
			}
			return err
		}
		if err := js.Submit(job); err != nil {
			wg.Done()
			mutex.Lock()
			errs = append(errs, err)
			mutex.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Shutdown waits for queued jobs to finish and stops the workers. It is safe
// to call more than once.
func (js *JobSystem) Shutdown() error {
	js.mutex.Lock()
	if js.closed {
		js.mutex.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mutex.Unlock()
	js.wg.Wait()
	return nil
}
