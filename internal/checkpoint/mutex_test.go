package checkpoint

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMutex_LockBlocksUntilReleased verifies blocking acquisition.
func TestMutex_LockBlocksUntilReleased(t *testing.T) {
	m := NewMutex()
	guard := m.Lock()

	acquired := make(chan struct{})
	go func() {
		g := m.Lock()
		close(acquired)
		g.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while mutex was held")
	case <-time.After(20 * time.Millisecond):
	}

	guard.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Lock did not acquire after release")
	}
}

// TestMutex_TryLock verifies the non-blocking mode.
func TestMutex_TryLock(t *testing.T) {
	m := NewMutex()

	guard := m.TryLock()
	require.NotNil(t, guard)

	assert.Nil(t, m.TryLock(), "TryLock must fail while held")

	guard.Release()
	second := m.TryLock()
	require.NotNil(t, second)
	second.Release()
}

// TestMutex_TryLockUntil_AcquiresWhenFree verifies the timed mode
// acquires immediately on a free mutex even with an expired predicate.
func TestMutex_TryLockUntil_AcquiresWhenFree(t *testing.T) {
	m := NewMutex()
	guard := m.TryLockUntil(func() bool { return true })
	require.NotNil(t, guard)
	guard.Release()
}

// TestMutex_TryLockUntil_TimesOut verifies the predicate cancels the
// wait on a contended mutex.
func TestMutex_TryLockUntil_TimesOut(t *testing.T) {
	m := NewMutex()
	guard := m.Lock()
	defer guard.Release()

	var polls atomic.Int32
	got := m.TryLockUntil(func() bool { return polls.Add(1) >= 3 })
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

// TestMutex_TryLockUntil_AcquiresDuringWait verifies a waiter gets the
// mutex once the holder releases, before the predicate fires.
func TestMutex_TryLockUntil_AcquiresDuringWait(t *testing.T) {
	m := NewMutex()
	guard := m.Lock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		guard.Release()
	}()

	got := m.TryLockUntil(func() bool { return false })
	require.NotNil(t, got)
	got.Release()
}

// TestGuard_ReleaseIsIdempotent verifies double release is harmless.
func TestGuard_ReleaseIsIdempotent(t *testing.T) {
	m := NewMutex()
	guard := m.Lock()
	guard.Release()
	guard.Release()

	second := m.TryLock()
	require.NotNil(t, second, "double release must not unlock twice")
	assert.Nil(t, m.TryLock())
	second.Release()
}

// TestMutex_SingleHolder stresses all three acquirers and verifies the
// single-holder guarantee.
func TestMutex_SingleHolder(t *testing.T) {
	m := NewMutex()
	var holders, violations atomic.Int32

	hold := func(g *Guard) {
		if g == nil {
			return
		}
		if holders.Add(1) > 1 {
			violations.Add(1)
		}
		time.Sleep(time.Millisecond)
		holders.Add(-1)
		g.Release()
	}

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				switch i % 3 {
				case 0:
					hold(m.Lock())
				case 1:
					hold(m.TryLock())
				default:
					deadline := time.Now().Add(50 * time.Millisecond)
					hold(m.TryLockUntil(func() bool { return time.Now().After(deadline) }))
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load())
}
