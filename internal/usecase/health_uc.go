package usecase

import (
	"context"
	"fmt"

	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/domain/ports/repository"
	"telegram-channel-access/internal/infra/metrics"
)

// Compile-time check
var _ HealthUseCase = (*healthUC)(nil)

// Health is the read-only snapshot served on the health surface.
type Health struct {
	TransportState adapter.TransportState `json:"transport_state"`
	PendingGrants  int                    `json:"pending_grants"`
	Codes          map[string]int         `json:"codes"`
}

type HealthUseCase interface {
	Snapshot(ctx context.Context) (*Health, error)
}

type healthUC struct {
	codes     repository.AccessCodeRepository
	grants    repository.GrantRepository
	transport adapter.StateReporter
}

func NewHealthUseCase(codes repository.AccessCodeRepository, grants repository.GrantRepository, transport adapter.StateReporter) *healthUC {
	return &healthUC{codes: codes, grants: grants, transport: transport}
}

func (u *healthUC) Snapshot(ctx context.Context) (*Health, error) {
	h := &Health{TransportState: u.transport.State()}

	pending, err := u.grants.Count(ctx, repository.NoTX)
	if err != nil {
		return h, fmt.Errorf("count grants: %w", err)
	}
	h.PendingGrants = pending

	counts, err := u.codes.CountByState(ctx, repository.NoTX)
	if err != nil {
		return h, fmt.Errorf("count codes: %w", err)
	}
	h.Codes = map[string]int{
		"unused":   counts[model.CodeStateUnused],
		"reserved": counts[model.CodeStateReserved],
		"used":     counts[model.CodeStateUsed],
	}

	metrics.SetPendingGrants(h.PendingGrants)
	metrics.SetCodesByState(h.Codes)
	return h, nil
}
