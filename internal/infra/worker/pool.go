package worker

import (
	"context"
	"sync"
)

type TaskFunc func()

// Pool runs submitted tasks on a fixed number of goroutines.
// The task queue is bounded, so Submit applies backpressure to the producer.
type Pool struct {
	size  int
	tasks chan TaskFunc
	wg    sync.WaitGroup
	once  sync.Once
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size:  size,
		tasks: make(chan TaskFunc, size*2),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for fn := range p.tasks {
				if fn != nil {
					fn()
				}
			}
		}()
	}
}

// Submit queues fn, blocking while the queue is full. It returns ctx.Err() if the
// context ends first; fn is then never run. Submit must not be called after Wait.
func (p *Pool) Submit(ctx context.Context, fn TaskFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- fn:
		return nil
	}
}

// Wait closes the queue and blocks until every queued and running task has finished.
func (p *Pool) Wait() {
	p.once.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
