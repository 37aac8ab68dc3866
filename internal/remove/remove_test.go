package remove

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"tg_group_warden_bot/internal/domain"
)

type removalCall struct {
	groupID     string
	memberID    string
	allowRejoin bool
}

type fakeRoster struct {
	calls   []removalCall
	failFor map[string]error
}

func (f *fakeRoster) RemoveMember(_ context.Context, groupID, memberID string, allowRejoin bool) error {
	f.calls = append(f.calls, removalCall{groupID: groupID, memberID: memberID, allowRejoin: allowRejoin})
	if err, ok := f.failFor[memberID]; ok {
		return err
	}
	return nil
}

func newTestRemover(roster *fakeRoster) (*Remover, *[]time.Duration) {
	logger, _ := logtest.NewNullLogger()
	r := NewRemover(roster, logrus.NewEntry(logger))

	sleeps := &[]time.Duration{}
	r.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}

	return r, sleeps
}

func candidates(ids ...string) []domain.InactiveMember {
	out := make([]domain.InactiveMember, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.InactiveMember{MemberID: id, DisplayName: "user-" + id})
	}
	return out
}

func TestRunRemovesAllCandidates(t *testing.T) {
	roster := &fakeRoster{}
	remover, sleeps := newTestRemover(roster)

	summary, err := remover.Run(context.Background(), "-200", candidates("1", "2", "3"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Succeeded != 3 || summary.Failed != 0 {
		t.Fatalf("expected 3/0, got %d/%d", summary.Succeeded, summary.Failed)
	}
	if len(roster.calls) != 3 {
		t.Fatalf("expected 3 removal attempts, got %d", len(roster.calls))
	}
	if len(*sleeps) != 2 {
		t.Fatalf("expected 2 inter-attempt delays, got %d", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != AttemptDelay {
			t.Fatalf("expected delay %v, got %v", AttemptDelay, d)
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	roster := &fakeRoster{failFor: map[string]error{"2": errors.New("kick failed")}}
	remover, sleeps := newTestRemover(roster)

	summary, err := remover.Run(context.Background(), "-200", candidates("1", "2", "3"))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("expected 2 succeeded and 1 failed, got %d/%d", summary.Succeeded, summary.Failed)
	}
	if len(roster.calls) != 3 {
		t.Fatalf("expected all 3 candidates attempted, got %d", len(roster.calls))
	}
	if roster.calls[2].memberID != "3" {
		t.Fatalf("expected candidate 3 attempted after failure, got %v", roster.calls)
	}
	if len(*sleeps) != 2 {
		t.Fatalf("expected delay after failure too, got %d delays", len(*sleeps))
	}
}

func TestRunAlwaysAllowsRejoin(t *testing.T) {
	roster := &fakeRoster{}
	remover, _ := newTestRemover(roster)

	if _, err := remover.Run(context.Background(), "-200", candidates("1")); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(roster.calls) != 1 || !roster.calls[0].allowRejoin {
		t.Fatalf("expected allowRejoin=true, got %v", roster.calls)
	}
	if roster.calls[0].groupID != "-200" {
		t.Fatalf("expected target group -200, got %s", roster.calls[0].groupID)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	roster := &fakeRoster{}
	remover, sleeps := newTestRemover(roster)

	summary, err := remover.Run(context.Background(), "-200", nil)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Succeeded != 0 || summary.Failed != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	if len(roster.calls) != 0 || len(*sleeps) != 0 {
		t.Fatalf("expected no attempts or delays for empty batch")
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	roster := &fakeRoster{}
	logger, _ := logtest.NewNullLogger()
	remover := NewRemover(roster, logrus.NewEntry(logger))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := remover.Run(ctx, "-200", candidates("1", "2"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("expected first candidate attempted before cancellation, got %+v", summary)
	}
}

func TestSummaryFormatOmitsZeroFailures(t *testing.T) {
	s := Summary{Succeeded: 4}
	text := s.Format()
	if text != "Inactive member removal complete\nRemoved: 4" {
		t.Fatalf("unexpected summary text: %q", text)
	}

	s = Summary{Succeeded: 2, Failed: 1}
	text = s.Format()
	if text != "Inactive member removal complete\nRemoved: 2\nFailed: 1" {
		t.Fatalf("unexpected summary text: %q", text)
	}
}
