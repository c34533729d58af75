// Package notify fans change events out to every catalog entry that depends
// on a model import.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/modelimport/internal/domain"
	"github.com/animus-labs/modelimport/internal/repo"
)

// PublicScopeLabel replaces a consumer display name that cannot be resolved.
const PublicScopeLabel = "Public"

const (
	changedBodyTemplate = "Model information registered to %s has been changed."
	deletedBodyTemplate = "Model %s registered to %s has been deleted."
)

// Sender delivers one notification to one recipient.
type Sender interface {
	Send(ctx context.Context, target string, title string, body string) error
}

type Notifier struct {
	deps   repo.DependencyRepository
	sender Sender
	logger *slog.Logger
}

func NewNotifier(deps repo.DependencyRepository, sender Sender, logger *slog.Logger) (*Notifier, error) {
	if deps == nil {
		return nil, errors.New("dependency repository is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{deps: deps, sender: sender, logger: logger}, nil
}

// RecordChanged notifies every dependant that the record's information moved.
func (n *Notifier) RecordChanged(ctx context.Context, record domain.ModelImport) error {
	return n.fanOut(ctx, record.ID, record.Name, domain.EventInfoChanged)
}

// RecordDeleted notifies every dependant that the record is gone. The caller
// passes the name held before any delete rename so recipients see the name
// they know.
func (n *Notifier) RecordDeleted(ctx context.Context, importID int64, originalName string) error {
	return n.fanOut(ctx, importID, originalName, domain.EventDeleted)
}

// fanOut resolves dependants and delivers per consumer. A failure for one
// consumer is logged and the rest still receive their notification; only a
// failure to list dependants at all is returned.
func (n *Notifier) fanOut(ctx context.Context, importID int64, modelName string, kind domain.EventKind) error {
	if n == nil || n.deps == nil || n.sender == nil {
		return errors.New("notifier not initialized")
	}
	mappings, err := n.deps.ListDependants(ctx, importID)
	if err != nil {
		return fmt.Errorf("list dependants: %w", err)
	}

	for _, mapping := range mappings {
		display := n.resolveDisplayName(ctx, mapping.ConsumerID)
		title, body := composeMessage(kind, modelName, display)
		if err := n.sender.Send(ctx, mapping.CreatedBy, title, body); err != nil {
			n.logger.Warn("notification delivery failed",
				"import_id", importID,
				"consumer_id", mapping.ConsumerID,
				"event", string(kind),
				"error", err.Error(),
			)
		}
	}
	return nil
}

func (n *Notifier) resolveDisplayName(ctx context.Context, consumerID string) string {
	name, err := n.deps.ResolveDisplayName(ctx, consumerID)
	if err != nil {
		n.logger.Warn("consumer display name unresolved", "consumer_id", consumerID, "error", err.Error())
		return PublicScopeLabel
	}
	if strings.TrimSpace(name) == "" {
		return PublicScopeLabel
	}
	return name
}

func composeMessage(kind domain.EventKind, modelName string, display string) (title string, body string) {
	switch kind {
	case domain.EventDeleted:
		return modelName + " deleted", fmt.Sprintf(deletedBodyTemplate, modelName, display)
	default:
		return modelName + " changed", fmt.Sprintf(changedBodyTemplate, display)
	}
}
