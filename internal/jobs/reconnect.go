package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Reconciler runs one reconnection pass and reports how many sessions it
// tried to connect.
type Reconciler interface {
	Reconcile(ctx context.Context) int
}

type ReconnectJob struct {
	reconciler Reconciler
	interval   time.Duration
	timeout    time.Duration
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewReconnectJob ticks every interval. Each pass is bounded by timeout.
func NewReconnectJob(reconciler Reconciler, interval, timeout time.Duration) *ReconnectJob {
	return &ReconnectJob{
		reconciler: reconciler,
		interval:   interval,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
}

func (j *ReconnectJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconnect job started")
}

// Stop waits for a pass in progress to finish.
func (j *ReconnectJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("reconnect job stopped")
	})
}

func (j *ReconnectJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reconcile()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconnectJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	go func() {
		select {
		case <-j.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if n := j.reconciler.Reconcile(ctx); n > 0 {
		log.Debug().Int("attempts", n).Msg("reconnect pass")
	}
}
