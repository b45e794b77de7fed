package download

import (
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ProgressSubscription wraps a Redis pub/sub subscription for progress events
type ProgressSubscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
	done   chan struct{}
	once   sync.Once
}

func newProgressSubscription(pubsub *redis.PubSub) *ProgressSubscription {
	return &ProgressSubscription{
		pubsub: pubsub,
		ch:     pubsub.Channel(),
		done:   make(chan struct{}),
	}
}

// Channel returns a channel that receives job progress updates. It is
// closed after Close or once a terminal update has been delivered.
func (s *ProgressSubscription) Channel() <-chan *DownloadJob {
	jobCh := make(chan *DownloadJob)

	go func() {
		defer close(jobCh)
		for msg := range s.ch {
			var job DownloadJob
			if err := json.Unmarshal([]byte(msg.Payload), &job); err != nil {
				continue
			}
			select {
			case jobCh <- &job:
			case <-s.done:
				return
			}
			if job.IsTerminal() {
				return
			}
		}
	}()

	return jobCh
}

// Close closes the subscription
func (s *ProgressSubscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.pubsub.Close()
}
