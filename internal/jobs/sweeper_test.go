package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lidapay/backend/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockReconciler is a mock implementation of the reconciler
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Devices(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]string)
	return devices, args.Error(1)
}

func (m *MockReconciler) Recover(ctx context.Context, deviceID string) (reconcile.RecoverAction, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(reconcile.RecoverAction), args.Error(1)
}

func TestRunCountsActions(t *testing.T) {
	rec := &MockReconciler{}
	rec.On("Devices", mock.Anything).Return([]string{"a", "b", "c", "d"}, nil)
	rec.On("Recover", mock.Anything, "a").Return(reconcile.RecoverExpired, nil)
	rec.On("Recover", mock.Anything, "b").Return(reconcile.RecoverResumed, nil)
	rec.On("Recover", mock.Anything, "c").Return(reconcile.RecoverNone, errors.New("redis down"))
	rec.On("Recover", mock.Anything, "d").Return(reconcile.RecoverExpired, nil)

	report, err := NewSweeper(rec, time.Minute).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.Actions[reconcile.RecoverExpired])
	assert.Equal(t, 1, report.Actions[reconcile.RecoverResumed])
	rec.AssertExpectations(t)
}

func TestRunDeviceListFailure(t *testing.T) {
	rec := &MockReconciler{}
	rec.On("Devices", mock.Anything).Return(nil, errors.New("redis down"))

	_, err := NewSweeper(rec, time.Minute).Run(context.Background())
	assert.Error(t, err)
	rec.AssertNotCalled(t, "Recover", mock.Anything, mock.Anything)
}

func TestRunStopsWhenContextDone(t *testing.T) {
	rec := &MockReconciler{}
	rec.On("Devices", mock.Anything).Return([]string{"a", "b"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewSweeper(rec, time.Minute).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Checked)
}

func TestStartRunsImmediately(t *testing.T) {
	rec := &MockReconciler{}
	swept := make(chan struct{}, 1)
	rec.On("Devices", mock.Anything).Return([]string{}, nil).Run(func(mock.Arguments) {
		select {
		case swept <- struct{}{}:
		default:
		}
	})

	s := NewSweeper(rec, time.Hour)
	require.NoError(t, s.Start())
	defer s.Stop()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run on start")
	}
}
