//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/repository"
)

func TestCodeUseCase_IssueCode(t *testing.T) {
	ctx := context.Background()

	t.Run("should issue codes whose leading digit encodes the plan", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		uc := f.codeUC()

		for _, plan := range model.Plans {
			for i := 0; i < 20; i++ {
				// --- Act ---
				ac, err := uc.IssueCode(ctx, plan)

				// --- Assert ---
				if err != nil {
					t.Fatalf("expected no error, but got: %v", err)
				}
				if !model.ValidCodeFormat(ac.Code) {
					t.Fatalf("issued code %q is not 7 digits", ac.Code)
				}
				derived, _ := model.DeterminePlan(ac.Code)
				if derived != plan || ac.Plan != plan {
					t.Fatalf("code %q decodes to %s, issued for %s", ac.Code, derived, plan)
				}
				if ac.State != model.CodeStateUnused {
					t.Errorf("expected unused state, got %s", ac.State)
				}
			}
		}
	})

	t.Run("should regenerate on collision", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		calls := 0
		f.codes.InsertFunc = func(ctx context.Context, tx repository.Tx, c *model.AccessCode) error {
			calls++
			if calls < 3 {
				return domain.ErrAlreadyExists
			}
			return nil
		}

		// --- Act ---
		_, err := f.codeUC().IssueCode(ctx, model.PlanMonthly)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 insert attempts, got %d", calls)
		}
	})

	t.Run("should give up when every candidate collides", func(t *testing.T) {
		f := newFixture()
		f.codes.InsertFunc = func(ctx context.Context, tx repository.Tx, c *model.AccessCode) error {
			return domain.ErrAlreadyExists
		}

		_, err := f.codeUC().IssueCode(ctx, model.PlanDaily)

		if !errors.Is(err, domain.ErrCodeSpaceExhausted) {
			t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
		}
	})

	t.Run("should reject an unknown plan", func(t *testing.T) {
		_, err := newFixture().codeUC().IssueCode(ctx, model.Plan("weekly"))
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestCodeUseCase_Redeem(t *testing.T) {
	ctx := context.Background()

	t.Run("should reserve the code and record a grant", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.seedCode("4123456")

		// --- Act ---
		g, err := f.codeUC().Redeem(ctx, "4123456", 42)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if g.Plan != model.PlanMonthly || g.UserID != 42 || g.Code != "4123456" {
			t.Errorf("unexpected grant: %+v", g)
		}
		if f.codes.state("4123456") != model.CodeStateReserved {
			t.Errorf("expected code reserved, got %s", f.codes.state("4123456"))
		}
		if _, err := f.grants.Get(ctx, nil, 42); err != nil {
			t.Errorf("expected grant to be stored: %v", err)
		}
	})

	t.Run("should reject malformed codes before touching storage", func(t *testing.T) {
		f := newFixture()
		for _, in := range []string{"", "123456", "12345678", "12a4567", " 123456", "１２３４５６７"} {
			_, err := f.codeUC().Redeem(ctx, in, 1)
			if !errors.Is(err, domain.ErrInvalidCodeFormat) {
				t.Errorf("%q: expected ErrInvalidCodeFormat, got %v", in, err)
			}
		}
	})

	t.Run("should report unknown codes", func(t *testing.T) {
		_, err := newFixture().codeUC().Redeem(ctx, "7000000", 1)
		if !errors.Is(err, domain.ErrCodeNotFound) {
			t.Fatalf("expected ErrCodeNotFound, got %v", err)
		}
	})

	t.Run("should refuse a second redemption", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.seedCode("1000001")
		if _, err := f.codeUC().Redeem(ctx, "1000001", 1); err != nil {
			t.Fatalf("first redeem failed: %v", err)
		}

		// --- Act ---
		_, err := f.codeUC().Redeem(ctx, "1000001", 2)

		// --- Assert ---
		if !errors.Is(err, domain.ErrCodeAlreadyUsed) {
			t.Fatalf("expected ErrCodeAlreadyUsed, got %v", err)
		}
		if _, err := f.grants.Get(ctx, nil, 2); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected no grant for the losing user, got %v", err)
		}
	})

	t.Run("should let exactly one of many concurrent users win", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.seedCode("8888888")
		uc := f.codeUC()

		const users = 32
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			winners  int
			usedErrs int
		)

		// --- Act ---
		for i := 1; i <= users; i++ {
			wg.Add(1)
			go func(uid int64) {
				defer wg.Done()
				_, err := uc.Redeem(ctx, "8888888", uid)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case errors.Is(err, domain.ErrCodeAlreadyUsed):
					usedErrs++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(int64(i))
		}
		wg.Wait()

		// --- Assert ---
		if winners != 1 || usedErrs != users-1 {
			t.Fatalf("expected 1 winner and %d losers, got %d and %d", users-1, winners, usedErrs)
		}
		if n, _ := f.grants.Count(ctx, nil); n != 1 {
			t.Errorf("expected exactly one grant, got %d", n)
		}
	})
}

func TestGrantUseCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedCode("5555555")
	if _, err := f.codeUC().Redeem(ctx, "5555555", 9); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	uc := newGrantUC(f)

	t.Run("should return the pending grant", func(t *testing.T) {
		g, err := uc.Get(ctx, 9)
		if err != nil || g.Plan != model.PlanMonthly {
			t.Fatalf("unexpected grant %+v, err %v", g, err)
		}
		if n, _ := uc.PendingCount(ctx); n != 1 {
			t.Errorf("expected 1 pending grant, got %d", n)
		}
	})

	t.Run("should map a missing grant to ErrNoGrant", func(t *testing.T) {
		if _, err := uc.Get(ctx, 10); !errors.Is(err, domain.ErrNoGrant) {
			t.Fatalf("expected ErrNoGrant, got %v", err)
		}
	})

	t.Run("should clear and tolerate clearing twice", func(t *testing.T) {
		if err := uc.Clear(ctx, 9); err != nil {
			t.Fatalf("clear: %v", err)
		}
		if err := uc.Clear(ctx, 9); err != nil {
			t.Fatalf("second clear: %v", err)
		}
		if n, _ := uc.PendingCount(ctx); n != 0 {
			t.Errorf("expected no pending grants, got %d", n)
		}
	})
}
