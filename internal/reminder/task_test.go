package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

func TestTrackedTask(t *testing.T) {
	tests := []struct {
		name    string
		deliver DeliverFunc
		want    store.Status
	}{
		{
			name:    "success marks sent",
			deliver: func(context.Context, store.Reminder) error { return nil },
			want:    store.StatusSent,
		},
		{
			name:    "error marks cancelled",
			deliver: func(context.Context, store.Reminder) error { return errors.New("channel gone") },
			want:    store.StatusCancelled,
		},
		{
			name:    "panic marks cancelled",
			deliver: func(context.Context, store.Reminder) error { panic("boom") },
			want:    store.StatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemoryStore()
			r, err := s.CreateReminder(ctx, store.NewReminder{GuildID: "g1", ScheduledAt: t0.Add(time.Minute)})
			if err != nil {
				t.Fatal(err)
			}

			TrackedTask(s, nil, "g1", r, tt.deliver)(ctx)

			got, _ := s.Reminder(r.ID)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
		})
	}
}

func TestTrackedTask_PassesRow(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r, err := s.CreateReminder(ctx, store.NewReminder{
		GuildID:        "g1",
		Service:        "disboard",
		ChannelID:      "c1",
		PanelMessageID: "p1",
		ScheduledAt:    t0,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	TrackedTask(s, nil, "g1:disboard", r, rec.deliver)(ctx)

	if rec.count() != 1 || rec.calls[0].PanelMessageID != "p1" || rec.calls[0].ChannelID != "c1" {
		t.Errorf("deliver calls = %+v", rec.calls)
	}
}

func TestTrackedTask_RecordsOutcomeAfterCancel(t *testing.T) {
	s := store.NewMemoryStore()
	r, err := s.CreateReminder(context.Background(), store.NewReminder{GuildID: "g1", ScheduledAt: t0})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	TrackedTask(s, nil, "g1", r, func(ctx context.Context, _ store.Reminder) error {
		return ctx.Err()
	})(ctx)

	got, _ := s.Reminder(r.ID)
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestTrackedTask_KeepsTerminalStatus(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r, err := s.CreateReminder(ctx, store.NewReminder{GuildID: "g1", ScheduledAt: t0})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateReminderStatus(ctx, r.ID, store.StatusCancelled); err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	TrackedTask(s, nil, "g1", r, rec.deliver)(ctx)

	got, _ := s.Reminder(r.ID)
	if got.Status != store.StatusCancelled {
		t.Errorf("status = %s, want cancelled row left alone", got.Status)
	}
}

func TestErrors(t *testing.T) {
	var err error = &ValidationError{Field: "delay", Reason: "too short"}
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError does not match ErrValidation")
	}
	if err.Error() != "invalid delay: too short" {
		t.Errorf("Error() = %q", err.Error())
	}

	cause := errors.New("cause")
	err = &DeliveryError{ReminderID: "r1", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("DeliveryError does not unwrap")
	}
}
