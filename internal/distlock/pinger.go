package distlock

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docshard/docshard/internal/configstore"
)

// Pinger is the one-per-process background task spec.md §4.1 "Pinger
// task" describes: it periodically writes lockpings[process_id] = now()
// so that every DistLock sharing this Pinger can detect a dead holder.
// Grounded on the teacher's state.StateManager ticker+cancellation-channel
// shape (internal/cluster/state/manager.go).
type Pinger struct {
	store     configstore.ConfigStore
	processID string
	interval  time.Duration

	doneCh chan struct{}
	wg     sync.WaitGroup

	once sync.Once
}

// NewPinger starts the background ping loop immediately.
func NewPinger(store configstore.ConfigStore, processID string, interval time.Duration) *Pinger {
	if interval <= 0 {
		interval = DefaultLockTimeout / DefaultLockSkewFactor
	}
	p := &Pinger{
		store:     store,
		processID: processID,
		interval:  interval,
		doneCh:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *Pinger) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.ping(); err != nil {
				log.Printf("distlock: pinger write failed for %s: %v", p.processID, err)
			}
		case <-p.doneCh:
			return
		}
	}
}

func (p *Pinger) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()
	if err := p.store.UpsertPing(ctx, p.processID, time.Now()); err != nil {
		return fmt.Errorf("upsert ping: %w", err)
	}
	return nil
}

// Stop cancels the ping loop and attempts one final write, per spec.md
// §4.1 "Cancellable; on cancellation, one final write is attempted."
func (p *Pinger) Stop() {
	p.once.Do(func() {
		close(p.doneCh)
	})
	p.wg.Wait()
	if err := p.ping(); err != nil {
		log.Printf("distlock: pinger final write failed for %s: %v", p.processID, err)
	}
}
