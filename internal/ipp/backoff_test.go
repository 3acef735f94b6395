package ipp

import (
	"context"
	"testing"
	"time"
)

func TestBackoffSequence(t *testing.T) {
	want := []int{1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 29, 24, 53, 17, 10, 27}

	var b Backoff
	for i, secs := range want {
		if got := b.Next(); got != time.Duration(secs)*time.Second {
			t.Errorf("delay %d = %v, want %ds", i, got, secs)
		}
	}
}

func TestBackoffStaysBounded(t *testing.T) {
	var b Backoff
	for i := 0; i < 1000; i++ {
		if d := b.Next(); d < time.Second || d > 60*time.Second {
			t.Fatalf("delay %d = %v, want between 1s and 60s", i, d)
		}
	}
}

func TestBackoffInstancesAreIndependent(t *testing.T) {
	var a, b Backoff
	a.Next()
	a.Next()
	a.Next()

	if got := b.Next(); got != time.Second {
		t.Errorf("fresh instance first delay = %v, want 1s", got)
	}
}

func TestBackoffSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var b Backoff
	if err := b.Sleep(ctx); err == nil {
		t.Error("Sleep() = nil after cancel, want context error")
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Sleep(1ms) = %v, want nil", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Error("Sleep() = nil after cancel, want context error")
	}
}
