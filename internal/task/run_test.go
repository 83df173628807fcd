package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// foreignCancelErr stands in for subtask.ErrCancelled/download.ErrCancelled:
// a body reports its own package's cancellation sentinel, never this
// package's ErrCancelled.
var foreignCancelErr = errors.New("subtask: cancelled")

type foreignCancelBody struct{}

func (foreignCancelBody) TypeName() string { return "foreign.cancel" }
func (foreignCancelBody) Execute(ctx *Context) (any, error) {
	<-ctx.Done()
	return nil, foreignCancelErr
}

func TestRunFoldsForeignCancelSentinelIntoErrCancelled(t *testing.T) {
	h := NewHandle(NewID())
	require.NoError(t, h.Cancel())

	_, err := Run(context.Background(), foreignCancelBody{}, h)

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, foreignCancelErr)
}

type plainFailureBody struct {
	err error
}

func (plainFailureBody) TypeName() string { return "plain.failure" }
func (b plainFailureBody) Execute(ctx *Context) (any, error) {
	return nil, b.err
}

func TestRunLeavesUncancelledFailureUntouched(t *testing.T) {
	h := NewHandle(NewID())
	wantErr := errors.New("boom")

	_, err := Run(context.Background(), plainFailureBody{err: wantErr}, h)

	assert.ErrorIs(t, err, wantErr)
	assert.False(t, errors.Is(err, ErrCancelled))
}

func TestFinishTreatsFoldedCancelAsStateCancelled(t *testing.T) {
	h := NewHandle(NewID())
	require.NoError(t, h.Cancel())

	_, err := Run(context.Background(), foreignCancelBody{}, h)
	h.Finish(nil, err)

	assert.Equal(t, StateCancelled, h.State())
}
