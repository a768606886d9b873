package attendance

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	inserted []Movement
	err      error
}

func (f *fakeStore) InsertRecord(_ context.Context, studentID int64, m Movement) (Record, error) {
	if f.err != nil {
		return Record{}, f.err
	}
	f.inserted = append(f.inserted, m)
	return Record{ID: int64(len(f.inserted)), StudentID: studentID, Movement: m, When: time.Now()}, nil
}

type fakeFeed struct {
	events []MovementEvent
	err    error
}

func (f *fakeFeed) PublishMovement(_ context.Context, evt MovementEvent) error {
	f.events = append(f.events, evt)
	return f.err
}

func TestServiceRecord(t *testing.T) {
	classID := int64(5)
	st := Student{ID: 42, Name: "Ana", ClassID: &classID}

	tests := []struct {
		name       string
		movement   Movement
		storeErr   error
		feedErr    error
		wantErr    bool
		wantEvents int
	}{
		{name: "entry_is_recorded_and_fed", movement: MovementEntry, wantEvents: 1},
		{name: "exit_is_recorded_and_fed", movement: MovementExit, wantEvents: 1},
		{name: "feed_failure_is_not_surfaced", movement: MovementExit, feedErr: errors.New("broker down"), wantEvents: 1},
		{name: "store_failure_skips_feed", movement: MovementEntry, storeErr: errors.New("db down"), wantErr: true},
		{name: "unknown_movement_is_rejected", movement: Movement("LATERAL"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{err: tt.storeErr}
			feed := &fakeFeed{err: tt.feedErr}
			svc := NewService(store, feed)

			rec, err := svc.Record(context.Background(), st, tt.movement)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if rec.Movement != tt.movement || rec.StudentID != st.ID {
					t.Fatalf("unexpected record %+v", rec)
				}
			}
			if len(feed.events) != tt.wantEvents {
				t.Fatalf("expected %d feed events, got %d", tt.wantEvents, len(feed.events))
			}
			if tt.wantEvents > 0 && feed.events[0].StudentName != "Ana" {
				t.Fatalf("feed event missing student name: %+v", feed.events[0])
			}
		})
	}
}

func TestServiceWithoutFeed(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil)
	if _, err := svc.Record(context.Background(), Student{ID: 1}, MovementEntry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(store.inserted))
	}
}
