package status

import (
	"context"
	"sync"
	"time"

	"github.com/dfalcao/parley/internal/bus"
	"go.uber.org/zap"
)

// Marker persists the delivered transition for a message. Implemented by
// the chat repository; the update is monotonic, so a message that has
// already been read keeps its read status and the returned value reflects
// that.
type Marker interface {
	MarkMessageDelivered(ctx context.Context, messageID string) (Status, error)
}

// Change is the payload for message.status events.
type Change struct {
	ChatID    string
	MessageID string
	Status    Status
}

// Scheduler fires the deferred sent -> delivered transition. There is no
// real transport on a single device, so delivery confirmation is modeled
// as a fixed delay after a successful send, racing against any
// user-driven read transition for the same message.
type Scheduler struct {
	marker Marker
	bus    *bus.Bus
	delay  time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler firing transitions after delay.
func NewScheduler(marker Marker, b *bus.Bus, delay time.Duration, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		marker: marker,
		bus:    b,
		delay:  delay,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule queues the delivered transition for a freshly sent message.
// Returns immediately; the transition fires after the configured delay
// unless the scheduler is stopped first.
func (s *Scheduler) Schedule(chatID, messageID string) {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return
		}

		st, err := s.marker.MarkMessageDelivered(s.ctx, messageID)
		if err != nil {
			s.logger.Error("delivery transition failed",
				zap.Error(err), zap.String("message_id", messageID))
			return
		}
		if st != Delivered {
			// Already read by the time the confirmation fired; the
			// monotonic update kept the later status and there is
			// nothing to announce.
			return
		}

		s.bus.Publish(bus.Event{
			Kind:      bus.KindDeliveryConfirmed,
			Timestamp: time.Now(),
			Payload: Change{
				ChatID:    chatID,
				MessageID: messageID,
				Status:    st,
			},
		})
	}()
}

// Stop cancels pending transitions and waits for in-flight ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
