package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonrepo/pipeline-core/internal/model"
)

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	d := New()
	called := false
	d.Register(model.KindSyncWorkspace, func(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
		called = true
		return model.StatusPassed, nil
	})

	action := model.NewAction(0, model.SyncWorkspaceNode())
	status, err := d.Dispatch(context.Background(), &action)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, status)
	assert.True(t, called)
}

func TestDispatchUnregisteredKindIsNonFatal(t *testing.T) {
	d := New()
	action := model.NewAction(0, model.SyncWorkspaceNode())
	status, err := d.Dispatch(context.Background(), &action)
	require.Error(t, err)
	assert.Equal(t, model.StatusInvalid, status)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	d := New()
	d.Register(model.KindRunTask, func(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
		panic("boom")
	})

	action := model.NewAction(0, model.RunTaskNode(model.NewProjectTarget("a", "build"), "system"))
	status, err := d.Dispatch(context.Background(), &action)
	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, status)
	assert.Contains(t, err.Error(), "panicked")
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	d := New()
	wantErr := errors.New("boom")
	d.Register(model.KindRunTask, func(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
		return model.StatusFailed, wantErr
	})

	action := model.NewAction(0, model.RunTaskNode(model.NewProjectTarget("a", "build"), "system"))
	status, err := d.Dispatch(context.Background(), &action)
	assert.Equal(t, model.StatusFailed, status)
	assert.ErrorIs(t, err, wantErr)
}

func TestRegisterReplacesPreviousHandler(t *testing.T) {
	d := New()
	d.Register(model.KindSyncWorkspace, func(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
		return model.StatusFailed, nil
	})
	d.Register(model.KindSyncWorkspace, func(ctx context.Context, action *model.Action) (model.ActionStatus, error) {
		return model.StatusPassed, nil
	})

	action := model.NewAction(0, model.SyncWorkspaceNode())
	status, _ := d.Dispatch(context.Background(), &action)
	assert.Equal(t, model.StatusPassed, status)
}
