package services

import (
	"context"
	"fmt"

	"checkpoint-capture/internal/metrics"
	"checkpoint-capture/internal/models"
	"checkpoint-capture/internal/repository"

	"github.com/rs/zerolog/log"
)

// SignalWriter records an approve/disapprove decision.
// It is not tied to any submission; decisions are last-write-wins.
type SignalWriter interface {
	SetSignal(ctx context.Context, state models.SignalState) error
}

// SignalPublisher forwards signal changes to downstream consumers
type SignalPublisher interface {
	PublishSignal(ctx context.Context, state models.SignalState) error
}

// ApplyDecision maps a decision to its signal state, writes it and records the outcome.
// Every approve/disapprove path goes through here.
func ApplyDecision(ctx context.Context, writer SignalWriter, approved bool) (models.SignalState, error) {
	state := models.SignalFor(approved)

	if err := writer.SetSignal(ctx, state); err != nil {
		log.Error().Err(err).Str("led", string(state)).Msg("Error updating LED")
		metrics.SignalWritesTotal.WithLabelValues(string(state), "failed").Inc()
		return state, err
	}

	metrics.SignalWritesTotal.WithLabelValues(string(state), "success").Inc()
	log.Info().Str("led", string(state)).Msg("Signal updated")
	return state, nil
}

// StoreSignal keeps the signal as a single leaf in the record store
type StoreSignal struct {
	records repository.RecordStore
	path    string
}

// NewStoreSignal creates a signal writer for the shared signal path
func NewStoreSignal(records repository.RecordStore) *StoreSignal {
	return &StoreSignal{records: records, path: models.SignalPath}
}

// SetSignal implements SignalWriter
func (s *StoreSignal) SetSignal(ctx context.Context, state models.SignalState) error {
	if err := s.records.Set(ctx, s.path, models.SignalRecord{LED: state}); err != nil {
		return fmt.Errorf("failed to write signal: %w", err)
	}
	return nil
}

// Current reads the most recent decision
func (s *StoreSignal) Current(ctx context.Context) (models.SignalState, error) {
	snap, err := s.records.Get(ctx, s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read signal: %w", err)
	}
	var record models.SignalRecord
	if err := snap.Decode(&record); err != nil {
		return "", err
	}
	if record.LED == "" {
		return "", ErrSignalUnset
	}
	return record.LED, nil
}

// RelayedSignal writes through to the store, then forwards the change to a publisher.
// The store write is authoritative; publish failures are only logged.
type RelayedSignal struct {
	next      SignalWriter
	publisher SignalPublisher
}

// NewRelayedSignal wraps a signal writer with a downstream publisher
func NewRelayedSignal(next SignalWriter, publisher SignalPublisher) *RelayedSignal {
	return &RelayedSignal{next: next, publisher: publisher}
}

// SetSignal implements SignalWriter
func (r *RelayedSignal) SetSignal(ctx context.Context, state models.SignalState) error {
	if err := r.next.SetSignal(ctx, state); err != nil {
		return err
	}
	if err := r.publisher.PublishSignal(ctx, state); err != nil {
		log.Warn().Err(err).Str("led", string(state)).Msg("Failed to relay signal")
	}
	return nil
}
