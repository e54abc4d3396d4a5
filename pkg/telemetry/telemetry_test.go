package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aetherlab/aether-go/pkg/model"
	"github.com/aetherlab/aether-go/pkg/wire"
)

func TestStreamPushNext(t *testing.T) {
	s := NewStream(1, 100, 4)

	s.Push(Snapshot{Seq: 1})
	s.Push(Snapshot{Seq: 2})

	ctx := context.Background()

	snap, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Seq != 1 {
		t.Errorf("Seq = %d, want 1", snap.Seq)
	}
	if snap.Dropped != 0 {
		t.Errorf("Dropped = %d, want 0", snap.Dropped)
	}

	snap, err = s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Seq != 2 {
		t.Errorf("Seq = %d, want 2", snap.Seq)
	}
}

func TestStreamNextBlocks(t *testing.T) {
	s := NewStream(1, 100, 4)

	got := make(chan Snapshot, 1)
	go func() {
		snap, err := s.Next(context.Background())
		if err != nil {
			t.Errorf("Next failed: %v", err)
			return
		}
		got <- snap
	}()

	// Give the consumer time to block.
	time.Sleep(20 * time.Millisecond)
	s.Push(Snapshot{Seq: 7})

	select {
	case snap := <-got:
		if snap.Seq != 7 {
			t.Errorf("Seq = %d, want 7", snap.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Push")
	}
}

func TestStreamNextContextCancel(t *testing.T) {
	s := NewStream(1, 100, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want DeadlineExceeded", err)
	}
}

func TestStreamDropOldest(t *testing.T) {
	s := NewStream(1, 100, 3)

	// Overfill: 1..5 into a buffer of 3. 1 and 2 get dropped.
	for seq := uint64(1); seq <= 5; seq++ {
		s.Push(Snapshot{Seq: seq})
	}

	if s.Pending() != 3 {
		t.Fatalf("Pending = %d, want 3", s.Pending())
	}

	ctx := context.Background()

	snap, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Seq != 3 {
		t.Errorf("first delivered Seq = %d, want 3 (oldest dropped)", snap.Seq)
	}
	// The drop count rides on the next delivered snapshot.
	if snap.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", snap.Dropped)
	}

	// Subsequent snapshots carry no drop count.
	snap, err = s.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if snap.Seq != 4 || snap.Dropped != 0 {
		t.Errorf("got Seq=%d Dropped=%d, want Seq=4 Dropped=0", snap.Seq, snap.Dropped)
	}

	if s.TotalDropped() != 2 {
		t.Errorf("TotalDropped = %d, want 2", s.TotalDropped())
	}
}

func TestStreamDrainAfterClose(t *testing.T) {
	s := NewStream(1, 100, 4)

	s.Push(Snapshot{Seq: 1})
	s.Push(Snapshot{Seq: 2})
	s.Cancel()

	ctx := context.Background()

	// Buffered snapshots are still readable.
	for want := uint64(1); want <= 2; want++ {
		snap, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if snap.Seq != want {
			t.Errorf("Seq = %d, want %d", snap.Seq, want)
		}
	}

	// Then the stream reports its end.
	_, err := s.Next(ctx)
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Next after drain = %v, want ErrStreamClosed", err)
	}
}

func TestStreamCloseWithError(t *testing.T) {
	s := NewStream(1, 100, 4)

	sessionErr := errors.New("session ended")
	s.CloseWithError(sessionErr)

	_, err := s.Next(context.Background())
	if !errors.Is(err, sessionErr) {
		t.Errorf("Next = %v, want %v", err, sessionErr)
	}

	// Second close is a no-op.
	s.CloseWithError(errors.New("other"))
	_, err = s.Next(context.Background())
	if !errors.Is(err, sessionErr) {
		t.Errorf("Next after second close = %v, want %v", err, sessionErr)
	}
}

func TestStreamCloseWakesWaiter(t *testing.T) {
	s := NewStream(1, 100, 4)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStreamClosed) {
			t.Errorf("Next = %v, want ErrStreamClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Cancel")
	}
}

func TestStreamPushAfterClose(t *testing.T) {
	s := NewStream(1, 100, 4)
	s.Cancel()

	s.Push(Snapshot{Seq: 1})

	if s.Pending() != 0 {
		t.Errorf("Pending = %d after push-on-closed, want 0", s.Pending())
	}
}

func TestSnapshotFrom(t *testing.T) {
	frame := model.ElementFrame{
		model.ElementEarth: 0.5,
		model.ElementAir:   -0.5,
		model.ElementWater: 1,
		model.ElementFire:  -1,
	}
	packed, err := wire.PackElements(frame.Values())
	if err != nil {
		t.Fatalf("PackElements failed: %v", err)
	}

	now := time.Now()
	msg := &wire.Telemetry{
		Kind:      wire.KindTelemetry,
		Seq:       42,
		Timestamp: now,
		Sensors:   wire.Sensors{Temperature: 21.5, Humidity: 40},
		Audio:     wire.AudioStats{CPU: 0.3, XRuns: 1, LatencyMs: 5.2},
		Elements:  packed,
	}

	snap, err := SnapshotFrom(msg)
	if err != nil {
		t.Fatalf("SnapshotFrom failed: %v", err)
	}

	if snap.Seq != 42 {
		t.Errorf("Seq = %d, want 42", snap.Seq)
	}
	if !snap.Time.Equal(now) {
		t.Errorf("Time = %v, want %v", snap.Time, now)
	}
	if snap.Sensors.Temperature != 21.5 {
		t.Errorf("Temperature = %v, want 21.5", snap.Sensors.Temperature)
	}
	if snap.Audio.XRuns != 1 {
		t.Errorf("XRuns = %d, want 1", snap.Audio.XRuns)
	}
	if len(snap.Elements) != model.ElementCount {
		t.Fatalf("Elements has %d entries, want %d", len(snap.Elements), model.ElementCount)
	}
	if snap.Elements[model.ElementWater] != 1 {
		t.Errorf("water = %v, want 1", snap.Elements[model.ElementWater])
	}
}

func TestSnapshotFromMalformedElements(t *testing.T) {
	msg := &wire.Telemetry{
		Kind:     wire.KindTelemetry,
		Seq:      1,
		Elements: []byte{0x01, 0x02}, // wrong length
	}

	if _, err := SnapshotFrom(msg); err == nil {
		t.Error("expected error for malformed element block")
	}
}

func TestRegistryOpenRemove(t *testing.T) {
	r := NewRegistry()

	s1, err := r.Open(1, 100, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	s2, err := r.Open(2, 200, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if s1.ID == s2.ID {
		t.Error("stream IDs should be unique")
	}
	if r.Count() != 2 {
		t.Errorf("Count = %d, want 2", r.Count())
	}

	got, err := r.Get(s1.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != s1 {
		t.Error("Get returned wrong stream")
	}

	if err := r.Remove(s1.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := r.Remove(s1.ID); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("second Remove = %v, want ErrStreamNotFound", err)
	}
	if _, err := r.Get(s1.ID); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("Get after Remove = %v, want ErrStreamNotFound", err)
	}
}

func TestRegistryLimit(t *testing.T) {
	r := NewRegistry()

	for i := 0; i < DefaultMaxStreams; i++ {
		if _, err := r.Open(uint32(i+1), 100, 0); err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
	}

	if _, err := r.Open(99, 100, 0); !errors.Is(err, ErrTooManyStreams) {
		t.Errorf("Open over limit = %v, want ErrTooManyStreams", err)
	}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()

	s1, _ := r.Open(1, 100, 0)
	s2, _ := r.Open(2, 200, 0)

	msg := &wire.Telemetry{Kind: wire.KindTelemetry, Seq: 9}
	if err := r.Dispatch(msg); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	for _, s := range []*Stream{s1, s2} {
		snap, err := s.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if snap.Seq != 9 {
			t.Errorf("Seq = %d, want 9", snap.Seq)
		}
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()

	s1, _ := r.Open(1, 100, 0)
	s2, _ := r.Open(2, 200, 0)

	endErr := errors.New("session closed")
	r.CloseAll(endErr)

	if r.Count() != 0 {
		t.Errorf("Count = %d after CloseAll, want 0", r.Count())
	}

	for _, s := range []*Stream{s1, s2} {
		if _, err := s.Next(context.Background()); !errors.Is(err, endErr) {
			t.Errorf("Next = %v, want %v", err, endErr)
		}
	}
}

func TestRegistryActive(t *testing.T) {
	r := NewRegistry()

	s1, _ := r.Open(1, 100, 0)
	s2, _ := r.Open(2, 200, 0)

	active := r.Active()
	if len(active) != 2 {
		t.Fatalf("Active has %d streams, want 2", len(active))
	}

	seen := map[uint32]bool{}
	for _, s := range active {
		seen[s.ID] = true
	}
	if !seen[s1.ID] || !seen[s2.ID] {
		t.Error("Active missing a registered stream")
	}
}
