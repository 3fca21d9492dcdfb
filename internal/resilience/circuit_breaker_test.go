//nolint:testpackage // tests access unexported settings fields
package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errService = errors.New("service unavailable")

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test"})

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, int64(5), cb.settings.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.settings.ResetTimeout)
}

func TestNewCircuitBreaker_InvalidSettings(t *testing.T) {
	cb := NewCircuitBreaker(Settings{MaxFailures: -1, ResetTimeout: -1})

	assert.Equal(t, int64(5), cb.settings.MaxFailures)
	assert.Equal(t, 30*time.Second, cb.settings.ResetTimeout)
}

func TestCircuitBreaker_ClosedState_Success(t *testing.T) {
	cb := NewCircuitBreaker(DefaultSettings("test"))

	err := cb.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ClosedState_FailureBelowThreshold(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 3})

	for range 2 {
		err := cb.Execute(func() error { return errService })
		require.ErrorIs(t, err, errService)
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 3})

	for range 3 {
		_ = cb.Execute(func() error { return errService })
	}

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_OpenState_RejectsRequests(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: time.Hour})

	_ = cb.Execute(func() error { return errService })
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 3})

	_ = cb.Execute(func() error { return errService })
	_ = cb.Execute(func() error { return errService })

	_ = cb.Execute(func() error { return nil })

	_ = cb.Execute(func() error { return errService })
	_ = cb.Execute(func() error { return errService })

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_TransitionsToHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errService })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_HalfOpen_ClosesOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errService })

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(func() error { return nil })

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpen_ReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errService })

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(func() error { return errService })

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpen_RejectsConcurrentProbe(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "test", MaxFailures: 1, ResetTimeout: 10 * time.Millisecond})

	_ = cb.Execute(func() error { return errService })
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	var probeErr error
	go func() {
		probeErr = cb.Execute(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	err := cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	close(release)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, probeErr)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "concurrent", MaxFailures: 100})

	var wg sync.WaitGroup
	const goroutines = 50
	const iterations = 100

	for range goroutines {
		wg.Go(func() {
			for range iterations {
				_ = cb.Execute(func() error { return nil })
			}
		})
	}

	wg.Wait()

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "concurrent-fail", MaxFailures: 5, ResetTimeout: time.Hour})

	var wg sync.WaitGroup
	const goroutines = 20

	for range goroutines {
		wg.Go(func() {
			_ = cb.Execute(func() error { return errService })
		})
	}

	wg.Wait()

	assert.Equal(t, StateOpen, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings("my-service")

	assert.Equal(t, "my-service", s.Name)
	assert.Equal(t, int64(5), s.MaxFailures)
	assert.Equal(t, 30*time.Second, s.ResetTimeout)
}

func TestCircuitBreaker_FullCycle(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "full-cycle", MaxFailures: 2, ResetTimeout: 10 * time.Millisecond})

	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))

	_ = cb.Execute(func() error { return errService })
	_ = cb.Execute(func() error { return errService })
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	assert.NoError(t, cb.Execute(func() error { return nil }))
}

func TestErrCircuitOpen(t *testing.T) {
	assert.Equal(t, "circuit breaker is open", ErrCircuitOpen.Error())
}
