package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweeney/presence-sensor/internal/control"
)

// Collector intervals.
const (
	DefaultCollectInterval = 500 * time.Millisecond
	DefaultPublishInterval = 2 * time.Second
)

// ViewSource provides the dispatcher's read-only view.
type ViewSource interface {
	View() control.View
}

// StatusPublisher sends the occupancy flag upstream.
type StatusPublisher interface {
	PublishStatus(occupied bool) error
}

// TimeSource reports clock synchronisation state.
type TimeSource interface {
	Info() TimeInfo
}

// Collector copies dispatcher state into the tracker and periodically
// publishes the occupancy flag while the transport is connected.
type Collector struct {
	Tracker   *Tracker
	Source    ViewSource
	Publisher StatusPublisher // optional
	Time      TimeSource      // optional
	// Dropped returns the event queue drop count. Optional.
	Dropped func() uint64
	Logger  *slog.Logger

	CollectInterval time.Duration
	PublishInterval time.Duration
}

// Run collects and publishes until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	collectEvery := c.CollectInterval
	if collectEvery <= 0 {
		collectEvery = DefaultCollectInterval
	}
	publishEvery := c.PublishInterval
	if publishEvery <= 0 {
		publishEvery = DefaultPublishInterval
	}

	collect := time.NewTicker(collectEvery)
	defer collect.Stop()
	publish := time.NewTicker(publishEvery)
	defer publish.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-collect.C:
			c.Collect()
		case <-publish.C:
			c.Publish()
		}
	}
}

// Collect copies the current view into the tracker.
func (c *Collector) Collect() {
	var dropped uint64
	if c.Dropped != nil {
		dropped = c.Dropped()
	}
	c.Tracker.Update(c.Source.View(), dropped)
	if c.Time != nil {
		c.Tracker.SetTime(c.Time.Info())
	}
}

// Publish sends the occupancy flag if the transport is up. It reports
// whether a publish was attempted.
func (c *Collector) Publish() bool {
	if c.Publisher == nil {
		return false
	}
	snap := c.Tracker.Snapshot()
	if !snap.MQTTConnected {
		return false
	}
	if err := c.Publisher.PublishStatus(snap.Occupied); err != nil && c.Logger != nil {
		c.Logger.Warn("status publish failed", "error", err)
	}
	return true
}
