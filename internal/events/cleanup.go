package events

import (
	"time"

	"github.com/moonrepo/pipeline-core/internal/cacheengine"
)

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// CleanupSubscriber runs cache GC when the pipeline finishes, ported from
// moon's cleanup_subscriber.rs which sweeps the cache engine's stale
// hashes/outputs/temp on PipelineCompleted.
type CleanupSubscriber struct {
	Engine *cacheengine.Engine
	MaxAge int64 // seconds; 0 disables sweeping
}

func NewCleanupSubscriber(engine *cacheengine.Engine, maxAgeSeconds int64) *CleanupSubscriber {
	return &CleanupSubscriber{Engine: engine, MaxAge: maxAgeSeconds}
}

func (s *CleanupSubscriber) OnEmit(e Event) error {
	if e.Kind != PipelineCompleted || s.MaxAge <= 0 {
		return nil
	}
	_, _, err := s.Engine.CleanStale(secondsToDuration(s.MaxAge), false)
	return err
}
