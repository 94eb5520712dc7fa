package events

import (
	"context"
	"time"
)

// remoteWaiter is the subset of *remote.Client the subscriber needs,
// kept as an interface so events does not import remote directly (remote
// has no reason to depend back on events).
type remoteWaiter interface {
	WaitForRequests(ctx context.Context) error
}

// RemoteFlushSubscriber drains in-flight CAS/AC uploads before the
// pipeline exits, ported from moon's remote_subscriber.rs, which calls
// the remote client's wait_for_requests on PipelineCompleted so a run
// never exits mid-upload.
type RemoteFlushSubscriber struct {
	Client  remoteWaiter
	Timeout time.Duration
}

func NewRemoteFlushSubscriber(client remoteWaiter, timeout time.Duration) *RemoteFlushSubscriber {
	return &RemoteFlushSubscriber{Client: client, Timeout: timeout}
}

func (s *RemoteFlushSubscriber) OnEmit(e Event) error {
	if e.Kind != PipelineCompleted || s.Client == nil {
		return nil
	}
	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return s.Client.WaitForRequests(ctx)
}
