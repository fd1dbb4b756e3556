package book

import (
	"time"

	"github.com/rs/zerolog/log"

	"mimir/internal/common"
)

// pruneSlack pads the wait so the task never wakes just before the cutoff.
const pruneSlack = 100 * time.Millisecond

// pruneGoodForDay sleeps until the next cutoff or shutdown, whichever comes
// first, then cancels every resting good-for-day order through the regular
// cancel path. Runs for the book's lifetime under its tomb.
func (b *Book) pruneGoodForDay() error {
	for {
		now := b.clock()
		next := nextCutoff(now, b.cutoff)
		timer := time.NewTimer(next.Sub(now) + pruneSlack)

		select {
		case <-b.lifetime.Dying():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		b.mu.Lock()
		var ids []common.OrderID
		for id, entry := range b.orders {
			if entry.order.Type() != common.GoodForDay {
				continue
			}
			ids = append(ids, id)
		}
		b.mu.Unlock()

		if len(ids) == 0 {
			continue
		}

		b.CancelOrders(ids)
		if b.met != nil {
			b.met.OrdersExpired.Add(float64(len(ids)))
		}
		log.Info().
			Int("orders", len(ids)).
			Time("cutoff", next).
			Msg("purged good-for-day orders")
	}
}

// nextCutoff returns the next occurrence of the cutoff time of day in now's
// location.
func nextCutoff(now time.Time, cutoff time.Duration) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := midnight.Add(cutoff)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
