package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/repo"
)

type fakeDeps struct {
	mappings []domain.DependencyMapping
	names    map[string]string
	listErr  error
}

func (f *fakeDeps) ListDependants(ctx context.Context, importID int64) ([]domain.DependencyMapping, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.mappings, nil
}

func (f *fakeDeps) ResolveDisplayName(ctx context.Context, consumerID string) (string, error) {
	name, ok := f.names[consumerID]
	if !ok {
		return "", repo.ErrNotFound
	}
	return name, nil
}

type sentMessage struct {
	Target string
	Title  string
	Body   string
}

type fakeSender struct {
	sent    []sentMessage
	failFor map[string]error
}

func (f *fakeSender) Send(ctx context.Context, target, title, body string) error {
	if err, ok := f.failFor[target]; ok {
		return err
	}
	f.sent = append(f.sent, sentMessage{Target: target, Title: title, Body: body})
	return nil
}

func testNotifier(t *testing.T, deps *fakeDeps, sender *fakeSender) *Notifier {
	t.Helper()
	n, err := NewNotifier(deps, sender, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewNotifier() err=%v", err)
	}
	return n
}

func TestRecordDeletedNotifiesEveryDependant(t *testing.T) {
	deps := &fakeDeps{
		mappings: []domain.DependencyMapping{
			{ImportID: 9, ConsumerID: "proj-1", CreatedBy: "alice"},
			{ImportID: 9, ConsumerID: "proj-2", CreatedBy: "bob"},
		},
		names: map[string]string{"proj-1": "Search Team", "proj-2": "Ads Team"},
	}
	sender := &fakeSender{}
	n := testNotifier(t, deps, sender)

	if err := n.RecordDeleted(context.Background(), 9, "llama-8b"); err != nil {
		t.Fatalf("RecordDeleted() err=%v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent=%d, want 2", len(sender.sent))
	}
	for _, msg := range sender.sent {
		if !strings.Contains(msg.Body, "llama-8b") {
			t.Fatalf("body %q missing model name", msg.Body)
		}
		if !strings.Contains(msg.Body, "deleted") {
			t.Fatalf("body %q missing deleted wording", msg.Body)
		}
	}
}

func TestFanOutSurvivesUnresolvableConsumer(t *testing.T) {
	deps := &fakeDeps{
		mappings: []domain.DependencyMapping{
			{ImportID: 4, ConsumerID: "proj-known", CreatedBy: "alice"},
			{ImportID: 4, ConsumerID: "proj-missing", CreatedBy: "bob"},
			{ImportID: 4, ConsumerID: "proj-blank", CreatedBy: "carol"},
		},
		names: map[string]string{"proj-known": "Search Team", "proj-blank": "  "},
	}
	sender := &fakeSender{}
	n := testNotifier(t, deps, sender)

	record := domain.ModelImport{ID: 4, Name: "gpt-x"}
	if err := n.RecordChanged(context.Background(), record); err != nil {
		t.Fatalf("RecordChanged() err=%v", err)
	}
	if len(sender.sent) != 3 {
		t.Fatalf("sent=%d, want all three consumers notified", len(sender.sent))
	}

	bodies := map[string]string{}
	for _, msg := range sender.sent {
		bodies[msg.Target] = msg.Body
	}
	if !strings.Contains(bodies["alice"], "Search Team") {
		t.Fatalf("resolved name not used: %q", bodies["alice"])
	}
	if !strings.Contains(bodies["bob"], PublicScopeLabel) {
		t.Fatalf("missing fallback for unresolved consumer: %q", bodies["bob"])
	}
	if !strings.Contains(bodies["carol"], PublicScopeLabel) {
		t.Fatalf("missing fallback for blank name: %q", bodies["carol"])
	}
}

func TestFanOutSurvivesDeliveryFailure(t *testing.T) {
	deps := &fakeDeps{
		mappings: []domain.DependencyMapping{
			{ImportID: 4, ConsumerID: "proj-1", CreatedBy: "alice"},
			{ImportID: 4, ConsumerID: "proj-2", CreatedBy: "bob"},
		},
		names: map[string]string{"proj-1": "A", "proj-2": "B"},
	}
	sender := &fakeSender{failFor: map[string]error{"alice": errors.New("mailbox full")}}
	n := testNotifier(t, deps, sender)

	if err := n.RecordChanged(context.Background(), domain.ModelImport{ID: 4, Name: "gpt-x"}); err != nil {
		t.Fatalf("RecordChanged() err=%v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Target != "bob" {
		t.Fatalf("sent=%v, want delivery to bob despite alice failing", sender.sent)
	}
}

func TestFanOutReturnsListError(t *testing.T) {
	deps := &fakeDeps{listErr: errors.New("db down")}
	n := testNotifier(t, deps, &fakeSender{})
	if err := n.RecordChanged(context.Background(), domain.ModelImport{ID: 4, Name: "gpt-x"}); err == nil {
		t.Fatalf("expected error when dependants cannot be listed")
	}
}
