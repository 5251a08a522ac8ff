package console

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/h-takeyama/riskwatch/internal/logger"
	"github.com/h-takeyama/riskwatch/pkg/types"
)

// DetectionEvent is one tick of the simulated risk feed.
type DetectionEvent struct {
	Timestamp  time.Time                `json:"timestamp"`
	Detections []types.DetectionOverlay `json:"detections"`
}

var feedLabels = []string{
	"person",
	"no_hardhat",
	"no_safety_vest",
	"restricted_area",
	"forklift_proximity",
}

// Feed produces simulated risk detections on a fixed interval and fans them
// out to subscribers. No inference runs anywhere; boxes and confidences are
// randomized within plausible bounds so the display pipeline can be
// exercised end to end.
type Feed struct {
	interval   time.Duration
	historyMax int

	mu      sync.Mutex
	rng     *rand.Rand
	seq     uint64
	latest  DetectionEvent
	history []DetectionEvent
	subs    map[int]chan DetectionEvent
	nextSub int
}

// NewFeed creates a detection feed ticking at the given interval.
func NewFeed(interval time.Duration, historyMax int) *Feed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if historyMax <= 0 {
		historyMax = 100
	}
	return &Feed{
		interval:   interval,
		historyMax: historyMax,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		subs:       make(map[int]chan DetectionEvent),
	}
}

// Run generates events until the context is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	logger.Info("Feed", "Simulated detection feed running (interval %s)", f.interval)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			f.publish(f.generate(now))
		}
	}
}

// generate builds one randomized event. Zero detections is a valid tick.
func (f *Feed) generate(now time.Time) DetectionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := f.rng.Intn(4)
	detections := make([]types.DetectionOverlay, 0, count)
	for i := 0; i < count; i++ {
		f.seq++
		w := 5 + f.rng.Float64()*25
		h := 10 + f.rng.Float64()*30
		detections = append(detections, types.DetectionOverlay{
			ID:         fmt.Sprintf("det-%d", f.seq),
			Label:      feedLabels[f.rng.Intn(len(feedLabels))],
			Confidence: 50 + f.rng.Float64()*50,
			X:          f.rng.Float64() * (100 - w),
			Y:          f.rng.Float64() * (100 - h),
			Width:      w,
			Height:     h,
		})
	}
	return DetectionEvent{Timestamp: now, Detections: detections}
}

func (f *Feed) publish(ev DetectionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = ev
	f.history = append(f.history, ev)
	if len(f.history) > f.historyMax {
		f.history = f.history[len(f.history)-f.historyMax:]
	}

	for id, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			logger.Debug("Feed", "Subscriber %d lagging, event dropped", id)
		}
	}
}

// Latest returns the overlay set from the most recent tick.
func (f *Feed) Latest() []types.DetectionOverlay {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest.Detections
}

// History returns the retained event window, oldest first.
func (f *Feed) History() []DetectionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]DetectionEvent, len(f.history))
	copy(out, f.history)
	return out
}

// Subscribe registers a consumer. The returned channel is buffered; slow
// consumers lose events rather than stalling the feed.
func (f *Feed) Subscribe() (int, <-chan DetectionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextSub
	f.nextSub++
	ch := make(chan DetectionEvent, 8)
	f.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(ch)
	}
}
