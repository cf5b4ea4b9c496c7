package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper drops sessions that stopped sending heartbeats.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// SchedulePresenceSweep registers the sweep on c to run every interval.
func SchedulePresenceSweep(c *cron.Cron, s Sweeper, interval time.Duration, log zerolog.Logger) (cron.EntryID, error) {
	return c.AddFunc(fmt.Sprintf("@every %s", interval), PresenceSweep(s, log))
}

func PresenceSweep(s Sweeper, log zerolog.Logger) func() {
	return func() {
		if n := s.Sweep(context.Background()); n > 0 {
			log.Info().Int("users", n).Msg("presence sweep: users went offline")
		}
	}
}
