package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_NowDoesNotAdvanceOnItsOwn(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	assert.True(t, f.Now().Equal(start))
	assert.True(t, f.Now().Equal(start), "Now must be stable across repeated reads")
}

func TestFake_AdvanceMovesNowAndMonotonicMillisTogether(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	before := f.MonotonicMillis()
	f.Advance(5 * time.Second)

	assert.True(t, f.Now().Equal(start.Add(5*time.Second)))
	assert.Equal(t, before+5000, f.MonotonicMillis())
}

func TestFake_AfterFiresOnlyOncePastDeadline(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	ch := f.After(100 * time.Millisecond)

	select {
	case <-ch:
		t.Fatal("After must not fire before the deadline")
	default:
	}

	f.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("After must not fire before the full duration has elapsed")
	default:
	}

	f.Advance(50 * time.Millisecond)
	select {
	case <-ch:
	default:
		t.Fatal("After should have fired once the deadline passed")
	}
}

func TestFake_AfterWithNonPositiveDurationFiresImmediately(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	ch := f.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("a zero duration After should fire immediately")
	}
}

func TestFake_MultipleWaitersFireIndependently(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	short := f.After(10 * time.Millisecond)
	long := f.After(1 * time.Second)

	f.Advance(10 * time.Millisecond)

	select {
	case <-short:
	default:
		t.Fatal("short waiter should have fired")
	}
	select {
	case <-long:
		t.Fatal("long waiter should not have fired yet")
	default:
	}

	f.Advance(1 * time.Second)
	select {
	case <-long:
	default:
		t.Fatal("long waiter should have fired after the full advance")
	}
}
