package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/repository"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/infra/metrics"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ CodeUseCase = (*codeUC)(nil)

// maxIssueAttempts bounds collision retries when allocating a fresh code.
const maxIssueAttempts = 16

// CodeUseCase issues access codes and redeems them into grants.
type CodeUseCase interface {
	IssueCode(ctx context.Context, plan model.Plan) (*model.AccessCode, error)
	// Redeem reserves code for userID and records the user's Grant.
	Redeem(ctx context.Context, code string, userID int64) (*model.Grant, error)
}

type codeUC struct {
	codes  repository.AccessCodeRepository
	grants repository.GrantRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewCodeUseCase(codes repository.AccessCodeRepository, grants repository.GrantRepository, tm repository.TransactionManager, logger *zerolog.Logger) *codeUC {
	return &codeUC{codes: codes, grants: grants, tm: tm, log: logger}
}

func (u *codeUC) IssueCode(ctx context.Context, plan model.Plan) (*model.AccessCode, error) {
	defer logging.TraceDuration(u.log, "CodeUC.IssueCode")()

	if !plan.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		raw, err := generateCode(plan)
		if err != nil {
			return nil, err
		}
		ac, err := model.NewAccessCode(raw, plan, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		err = u.codes.Insert(ctx, repository.NoTX, ac)
		if errors.Is(err, domain.ErrAlreadyExists) {
			u.log.Debug().Int("attempt", attempt+1).Msg("access code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		metrics.IncCodeIssued(string(plan))
		u.log.Info().Str("plan", string(plan)).Msg("access code issued")
		return ac, nil
	}
	return nil, domain.ErrCodeSpaceExhausted
}

func (u *codeUC) Redeem(ctx context.Context, code string, userID int64) (*model.Grant, error) {
	defer logging.TraceDuration(u.log, "CodeUC.Redeem")()

	plan, err := model.DeterminePlan(code)
	if err != nil {
		metrics.IncRedemption("invalid_format")
		return nil, err
	}

	var grant *model.Grant
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ac, err := u.codes.Reserve(ctx, tx, code, userID)
		if err != nil {
			return err
		}
		if ac.Plan != "" && ac.Plan != plan {
			u.log.Warn().Str("stored_plan", string(ac.Plan)).Str("derived_plan", string(plan)).
				Msg("stored plan disagrees with code prefix; using prefix")
		}
		g := &model.Grant{UserID: userID, Code: code, Plan: plan, CreatedAt: time.Now().UTC()}
		if err := u.grants.Put(ctx, tx, g); err != nil {
			return err
		}
		grant = g
		return nil
	})
	switch {
	case err == nil:
		metrics.IncRedemption("ok")
		u.log.Info().Int64("tg_id", userID).Str("plan", string(plan)).Msg("access code reserved")
		return grant, nil
	case errors.Is(err, domain.ErrCodeNotFound):
		metrics.IncRedemption("not_found")
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		metrics.IncRedemption("already_used")
	default:
		metrics.IncRedemption("error")
		return nil, fmt.Errorf("redeem: %w", err)
	}
	return nil, err
}

// generateCode draws the leading digit from the plan's range and six free digits.
func generateCode(plan model.Plan) (string, error) {
	lo, hi := plan.DigitRange()
	buf := make([]byte, model.CodeLength)

	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return "", err
	}
	buf[0] = lo + byte(n.Int64())

	rest, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	copy(buf[1:], fmt.Sprintf("%06d", rest.Int64()))
	return string(buf), nil
}
