package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPushOutgoingChanges_Pages(t *testing.T) {
	remote := new(MockRemote)
	changes := makeChanges(25)

	var pushed []Change
	remote.On("Push", mock.Anything, "s1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			pushed = append(pushed, args.Get(2).([]Change)...)
		}).
		Return(nil)

	err := PushOutgoingChanges(context.Background(), remote, "s1", changes, fixedLimiter(10))
	require.NoError(t, err)

	assert.Equal(t, changes, pushed)
	remote.AssertNumberOfCalls(t, "Push", 3)
	remote.AssertCalled(t, "Push", mock.Anything, "s1", changes[0:10], PushProgress{PushedSoFar: 0, TotalToPush: 25})
	remote.AssertCalled(t, "Push", mock.Anything, "s1", changes[10:20], PushProgress{PushedSoFar: 10, TotalToPush: 25})
	remote.AssertCalled(t, "Push", mock.Anything, "s1", changes[20:25], PushProgress{PushedSoFar: 20, TotalToPush: 25})
}

func TestPushOutgoingChanges_Empty(t *testing.T) {
	remote := new(MockRemote)

	err := PushOutgoingChanges(context.Background(), remote, "s1", nil, DefaultLimiterConfig())
	require.NoError(t, err)

	remote.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPushOutgoingChanges_Error(t *testing.T) {
	remote := new(MockRemote)
	changes := makeChanges(15)
	boom := errors.New("central unavailable")

	remote.On("Push", mock.Anything, "s1", changes[0:10], mock.Anything).Return(nil).Once()
	remote.On("Push", mock.Anything, "s1", changes[10:15], mock.Anything).Return(boom).Once()

	err := PushOutgoingChanges(context.Background(), remote, "s1", changes, fixedLimiter(10))
	assert.ErrorIs(t, err, boom)
	remote.AssertExpectations(t)
}

func TestPushOutgoingChanges_Canceled(t *testing.T) {
	remote := new(MockRemote)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := PushOutgoingChanges(ctx, remote, "s1", makeChanges(3), DefaultLimiterConfig())
	assert.ErrorIs(t, err, context.Canceled)
	remote.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
