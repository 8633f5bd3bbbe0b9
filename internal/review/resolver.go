// Package review drives the human pass over open conflicts and
// low-confidence fields. A session walks the entity's open items and turns
// each decision into a stored resolution.
package review

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/formworks/profile-cli/internal/aggregate"
	"github.com/formworks/profile-cli/internal/model"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusInit      Status = "init"
	StatusReviewing Status = "reviewing"
	StatusComplete  Status = "complete"
)

// Session is one review pass over an entity. Not safe for concurrent use;
// each reviewer holds their own session.
type Session struct {
	agg      *aggregate.Aggregator
	entityID string
	status   Status
	result   *aggregate.Result
}

// NewSession prepares a review session. Call Start before anything else.
func NewSession(agg *aggregate.Aggregator, entityID string) *Session {
	return &Session{agg: agg, entityID: entityID, status: StatusInit}
}

// Start loads the entity's current state. A session with nothing to review
// completes immediately. Restarting a live session just refreshes it.
func (s *Session) Start(ctx context.Context) error {
	if s.status == StatusComplete {
		return eris.Errorf("review: session for entity %s is already complete", s.entityID)
	}
	result, err := s.agg.State(ctx, s.entityID)
	if err != nil {
		return err
	}
	s.result = result
	if result.OpenCount() == 0 {
		s.status = StatusComplete
	} else {
		s.status = StatusReviewing
	}
	return nil
}

// Status returns the session lifecycle state.
func (s *Session) Status() Status { return s.status }

// OpenItems returns the items still awaiting a decision, in field order.
func (s *Session) OpenItems() []model.ReviewItem {
	if s.result == nil {
		return nil
	}
	open := make([]model.ReviewItem, 0, s.result.OpenCount())
	for _, item := range s.result.Items {
		if !item.Resolved {
			open = append(open, item)
		}
	}
	return open
}

// Items returns every review item, resolved and open.
func (s *Session) Items() []model.ReviewItem {
	if s.result == nil {
		return nil
	}
	return s.result.Items
}

// Profile returns the working profile as of the last applied decision.
func (s *Session) Profile() *model.Profile {
	if s.result == nil {
		return nil
	}
	return s.result.Profile
}

// SelectCandidate resolves an open conflict by picking one of its extracted
// candidates by index.
func (s *Session) SelectCandidate(ctx context.Context, fieldName string, index int) error {
	conflict, err := s.openConflict(fieldName)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(conflict.Values) {
		return eris.Errorf("review: candidate %d out of range for field %s (have %d)", index, fieldName, len(conflict.Values))
	}
	chosen := conflict.Values[index]
	return s.apply(ctx, model.Resolution{
		EntityID:    s.entityID,
		FieldName:   fieldName,
		Value:       chosen.Value,
		DocumentID:  chosen.DocumentID,
		Confidence:  chosen.Confidence,
		ReviewedKey: conflict.CandidateKey(),
	})
}

// SetCustomValue resolves an open conflict with a value the reviewer typed
// in. Custom values carry full confidence and survive later documents.
func (s *Session) SetCustomValue(ctx context.Context, fieldName, value string) error {
	if _, err := s.openConflict(fieldName); err != nil {
		return err
	}
	return s.applyUserValue(ctx, fieldName, value)
}

// ConfirmField accepts an open low-confidence value as-is. The confirmation
// holds for as long as the underlying value does not change.
func (s *Session) ConfirmField(ctx context.Context, fieldName string) error {
	low, err := s.openLowConfidence(fieldName)
	if err != nil {
		return err
	}
	return s.apply(ctx, model.Resolution{
		EntityID:    s.entityID,
		FieldName:   fieldName,
		Value:       low.Value,
		DocumentID:  low.Source.DocumentID,
		Confidence:  low.Confidence,
		ReviewedKey: model.NormalizeValue(low.Value),
	})
}

// EditField replaces any open item's value with one the reviewer typed in.
func (s *Session) EditField(ctx context.Context, fieldName, value string) error {
	if _, err := s.openItem(fieldName); err != nil {
		return err
	}
	return s.applyUserValue(ctx, fieldName, value)
}

// AcceptDefaults resolves every open item with its working default: the
// highest-ranked candidate for conflicts, the current value for
// low-confidence fields. This is a bulk decision, distinct from ConfirmAll,
// which only finishes a fully reviewed session.
func (s *Session) AcceptDefaults(ctx context.Context) error {
	if err := s.requireReviewing(); err != nil {
		return err
	}
	for {
		open := s.OpenItems()
		if len(open) == 0 {
			break
		}
		item := open[0]
		var err error
		switch item.Kind {
		case model.ReviewKindConflict:
			err = s.SelectCandidate(ctx, item.FieldName, 0)
		case model.ReviewKindLowConfidence:
			err = s.ConfirmField(ctx, item.FieldName)
		default:
			err = eris.Errorf("review: unknown item kind %q for field %s", item.Kind, item.FieldName)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ConfirmAll finishes the session. It refuses while items remain open,
// naming how many are left; every item needs its own decision first.
func (s *Session) ConfirmAll(ctx context.Context) error {
	if s.status == StatusComplete {
		return nil
	}
	if err := s.requireReviewing(); err != nil {
		return err
	}
	if remaining := len(s.OpenItems()); remaining > 0 {
		return eris.Errorf("review: %d item(s) still need review for entity %s", remaining, s.entityID)
	}
	s.status = StatusComplete
	zap.L().Info("review complete", zap.String("entity_id", s.entityID))
	return nil
}

// AcceptSuggestion records an autocomplete pick as a user confirmation. A
// pick matching an open conflict candidate selects it; one matching an open
// low-confidence value confirms it; any other value becomes a user override.
// Picks for fields with nothing open are a no-op.
func AcceptSuggestion(ctx context.Context, agg *aggregate.Aggregator, entityID, fieldName, value string) error {
	s := NewSession(agg, entityID)
	if err := s.Start(ctx); err != nil {
		return err
	}
	if s.Status() != StatusReviewing {
		return nil
	}
	for _, item := range s.OpenItems() {
		if item.FieldName != fieldName {
			continue
		}
		switch item.Kind {
		case model.ReviewKindConflict:
			for i, cand := range item.Conflict.Values {
				if model.SameValue(cand.Value, value) {
					return s.SelectCandidate(ctx, fieldName, i)
				}
			}
			return s.SetCustomValue(ctx, fieldName, value)
		case model.ReviewKindLowConfidence:
			if model.SameValue(item.LowConfidence.Value, value) {
				return s.ConfirmField(ctx, fieldName)
			}
			return s.EditField(ctx, fieldName, value)
		}
	}
	return nil
}

func (s *Session) apply(ctx context.Context, res model.Resolution) error {
	result, err := s.agg.ApplyResolution(ctx, res)
	if err != nil {
		return err
	}
	s.result = result
	if result.OpenCount() == 0 {
		s.status = StatusComplete
	}
	return nil
}

func (s *Session) applyUserValue(ctx context.Context, fieldName, value string) error {
	if model.NormalizeValue(value) == "" {
		return eris.Errorf("review: empty value for field %s", fieldName)
	}
	return s.apply(ctx, model.Resolution{
		EntityID:   s.entityID,
		FieldName:  fieldName,
		Value:      value,
		Confidence: 1.0,
	})
}

func (s *Session) requireReviewing() error {
	switch s.status {
	case StatusReviewing:
		return nil
	case StatusInit:
		return eris.Errorf("review: session for entity %s not started", s.entityID)
	default:
		return eris.Errorf("review: session for entity %s is already complete", s.entityID)
	}
}

func (s *Session) openItem(fieldName string) (model.ReviewItem, error) {
	if err := s.requireReviewing(); err != nil {
		return model.ReviewItem{}, err
	}
	for _, item := range s.result.Items {
		if item.FieldName == fieldName {
			if item.Resolved {
				return model.ReviewItem{}, eris.Errorf("review: field %s is already resolved", fieldName)
			}
			return item, nil
		}
	}
	return model.ReviewItem{}, eris.Errorf("review: field %s has nothing to review", fieldName)
}

func (s *Session) openConflict(fieldName string) (*model.Conflict, error) {
	item, err := s.openItem(fieldName)
	if err != nil {
		return nil, err
	}
	if item.Kind != model.ReviewKindConflict {
		return nil, eris.Errorf("review: field %s is not in conflict", fieldName)
	}
	return item.Conflict, nil
}

func (s *Session) openLowConfidence(fieldName string) (*model.LowConfidenceField, error) {
	item, err := s.openItem(fieldName)
	if err != nil {
		return nil, err
	}
	if item.Kind != model.ReviewKindLowConfidence {
		return nil, eris.Errorf("review: field %s is not a low-confidence item", fieldName)
	}
	return item.LowConfidence, nil
}
