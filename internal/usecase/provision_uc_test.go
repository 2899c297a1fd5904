//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/domain/ports/repository"
	"telegram-channel-access/internal/infra/adapters/telegram"
	"telegram-channel-access/internal/infra/retry"
	"telegram-channel-access/internal/usecase"
)

type usecaseCall struct {
	Op        string
	ChannelID int64
}

func callsOf(m *MockTransport) []usecaseCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]usecaseCall, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, usecaseCall{Op: c.Op, ChannelID: c.ChannelID})
	}
	return out
}

func equalCalls(a, b []usecaseCall) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func countContaining(msgs []string, substr string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func TestProvisionUseCase_Provision(t *testing.T) {
	ctx := context.Background()

	t.Run("should finalize code, store subscription and welcome the user", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.seedCode("4123456")
		if _, err := f.codeUC().Redeem(ctx, "4123456", 42); err != nil {
			t.Fatalf("redeem: %v", err)
		}
		before := time.Now().UTC()

		// --- Act ---
		sub, err := f.provisionUC(nil).Provision(ctx, 42)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if got := f.transport.Calls; len(got) != 1 || got[0].Op != "approve" || got[0].ChannelID != testChannels.Monthly {
			t.Fatalf("expected one approve on the monthly channel, got %+v", got)
		}
		if f.codes.state("4123456") != model.CodeStateUsed {
			t.Errorf("expected code used, got %s", f.codes.state("4123456"))
		}
		if _, err := f.grants.Get(ctx, nil, 42); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected grant cleared, got %v", err)
		}
		stored := f.subs.get(sub.ID)
		if stored == nil || !stored.IsActive || stored.Plan != model.PlanMonthly {
			t.Fatalf("unexpected stored subscription: %+v", stored)
		}
		if stored.StartDate.Before(before) || !stored.ExpiryDate.Equal(stored.StartDate.Add(30*24*time.Hour)) {
			t.Errorf("unexpected window %v .. %v", stored.StartDate, stored.ExpiryDate)
		}
		if countContaining(f.transport.MessagesTo(42), "Welcome!") != 1 {
			t.Errorf("expected one welcome, got %v", f.transport.MessagesTo(42))
		}
		if len(f.transport.MessagesTo(operatorID)) != 1 {
			t.Errorf("expected one operator notice, got %v", f.transport.MessagesTo(operatorID))
		}
	})

	t.Run("should refuse without a grant and touch nothing", func(t *testing.T) {
		f := newFixture()

		_, err := f.provisionUC(nil).Provision(ctx, 42)

		if !errors.Is(err, domain.ErrNoGrant) {
			t.Fatalf("expected ErrNoGrant, got %v", err)
		}
		if len(f.transport.Calls) != 0 || len(f.transport.Sent) != 0 {
			t.Errorf("expected no transport traffic, got %+v / %+v", f.transport.Calls, f.transport.Sent)
		}
	})

	t.Run("should keep grant and reservation when the platform fails, then succeed on retry", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.seedCode("7000001")
		if _, err := f.codeUC().Redeem(ctx, "7000001", 5); err != nil {
			t.Fatalf("redeem: %v", err)
		}
		fail := true
		f.transport.ApproveJoinFunc = func(ctx context.Context, channelID, userID int64) error {
			if fail {
				return domain.NewTransportError(domain.FailureTransient, "approveChatJoinRequest", errors.New("503"))
			}
			return nil
		}
		uc := f.provisionUC(nil)

		// --- Act ---
		_, err := uc.Provision(ctx, 5)

		// --- Assert ---
		if !errors.Is(err, domain.ErrTransportTransient) {
			t.Fatalf("expected transient transport error, got %v", err)
		}
		if f.codes.state("7000001") != model.CodeStateReserved {
			t.Errorf("expected code still reserved, got %s", f.codes.state("7000001"))
		}
		if _, err := f.grants.Get(ctx, nil, 5); err != nil {
			t.Errorf("expected grant kept: %v", err)
		}
		if f.subs.count() != 0 {
			t.Errorf("expected no subscription yet")
		}

		// --- Act (retry) ---
		fail = false
		sub, err := uc.Provision(ctx, 5)

		// --- Assert ---
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if sub.Plan != model.PlanYearly || f.subs.count() != 1 {
			t.Errorf("expected a single yearly subscription, got %+v (count %d)", sub, f.subs.count())
		}
		if countContaining(f.transport.MessagesTo(5), "Welcome!") != 1 {
			t.Errorf("expected exactly one welcome, got %v", f.transport.MessagesTo(5))
		}
	})

	t.Run("should keep the grant when persisting fails after approval", func(t *testing.T) {
		f := newFixture()
		f.seedCode("2000002")
		if _, err := f.codeUC().Redeem(ctx, "2000002", 6); err != nil {
			t.Fatalf("redeem: %v", err)
		}
		f.codes.FinalizeFunc = func(ctx context.Context, tx repository.Tx, code string) (*model.AccessCode, error) {
			return nil, errors.New("db down")
		}

		_, err := f.provisionUC(nil).Provision(ctx, 6)

		if err == nil {
			t.Fatal("expected an error, but got nil")
		}
		if _, err := f.grants.Get(ctx, nil, 6); err != nil {
			t.Errorf("expected grant kept: %v", err)
		}
		if len(f.transport.MessagesTo(6)) != 0 {
			t.Errorf("expected no welcome before persistence, got %v", f.transport.MessagesTo(6))
		}
	})

	t.Run("should replace an active subscription on renewal", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		old := f.seedSub("old", 8, model.PlanDaily, time.Now().Add(2*time.Hour))
		f.seedCode("0999999")
		if _, err := f.codeUC().Redeem(ctx, "0999999", 8); err != nil {
			t.Fatalf("redeem: %v", err)
		}

		// --- Act ---
		sub, err := f.provisionUC(nil).Provision(ctx, 8)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if f.subs.get(old.ID).IsActive {
			t.Error("expected old subscription deactivated")
		}
		if !f.subs.get(sub.ID).IsActive {
			t.Error("expected new subscription active")
		}
	})

	t.Run("should remove the user from the old plan's channel on a cross-plan renewal", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		old := f.seedSub("old", 42, model.PlanDaily, time.Now().Add(10*time.Hour))
		f.seedCode("4123456")
		if _, err := f.codeUC().Redeem(ctx, "4123456", 42); err != nil {
			t.Fatalf("redeem: %v", err)
		}

		// --- Act ---
		sub, err := f.provisionUC(nil).Provision(ctx, 42)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		want := []usecaseCall{
			{"approve", testChannels.Monthly},
			{"status", testChannels.Daily},
			{"ban", testChannels.Daily},
			{"unban", testChannels.Daily},
		}
		if got := callsOf(f.transport); !equalCalls(got, want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		if f.subs.get(old.ID).IsActive || !f.subs.get(sub.ID).IsActive {
			t.Error("expected only the monthly subscription active")
		}
	})

	t.Run("should keep the old subscription when leaving its channel fails", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		old := f.seedSub("old", 43, model.PlanYearly, time.Now().Add(10*time.Hour))
		f.seedCode("0123456")
		if _, err := f.codeUC().Redeem(ctx, "0123456", 43); err != nil {
			t.Fatalf("redeem: %v", err)
		}
		f.transport.BanFunc = func(ctx context.Context, channelID, userID int64) error {
			return domain.NewTransportError(domain.FailureTransient, "banChatMember", errors.New("timeout"))
		}

		// --- Act ---
		_, err := f.provisionUC(nil).Provision(ctx, 43)

		// --- Assert ---
		if err == nil {
			t.Fatal("expected an error, but got nil")
		}
		if !f.subs.get(old.ID).IsActive {
			t.Error("expected the old subscription left for the sweeper")
		}
		if _, err := f.grants.Get(ctx, nil, 43); err != nil {
			t.Errorf("expected grant kept: %v", err)
		}
		if f.codes.state("0123456") != model.CodeStateReserved {
			t.Errorf("expected code still reserved, got %s", f.codes.state("0123456"))
		}
	})
}

func TestProvisionUseCase_HandleMemberJoined(t *testing.T) {
	ctx := context.Background()

	t.Run("should remove a user without grant or subscription", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()

		// --- Act ---
		out, err := f.provisionUC(nil).HandleMemberJoined(ctx, testChannels.Daily, 77)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out != usecase.JoinRejected {
			t.Errorf("expected rejected, got %s", out)
		}
		if ops := strings.Join(f.transport.Ops(), ","); ops != "ban,unban" {
			t.Errorf("expected ban,unban got %s", ops)
		}
		if countContaining(f.transport.MessagesTo(77), "valid access code") != 1 {
			t.Errorf("expected rejection notice, got %v", f.transport.MessagesTo(77))
		}
	})

	t.Run("should accept a user with a current subscription for the channel", func(t *testing.T) {
		f := newFixture()
		f.seedSub("s1", 77, model.PlanYearly, time.Now().Add(48*time.Hour))

		out, err := f.provisionUC(nil).HandleMemberJoined(ctx, testChannels.Yearly, 77)

		if err != nil || out != usecase.JoinAccepted {
			t.Fatalf("expected accepted, got %s / %v", out, err)
		}
		if len(f.transport.Calls) != 0 {
			t.Errorf("expected no membership actions, got %v", f.transport.Ops())
		}
	})

	t.Run("should reject a subscriber joining another plan's channel", func(t *testing.T) {
		f := newFixture()
		f.seedSub("s1", 77, model.PlanDaily, time.Now().Add(2*time.Hour))

		out, err := f.provisionUC(nil).HandleMemberJoined(ctx, testChannels.Yearly, 77)

		if err != nil || out != usecase.JoinRejected {
			t.Fatalf("expected rejected, got %s / %v", out, err)
		}
	})

	t.Run("should provision a grant holder joining their channel", func(t *testing.T) {
		f := newFixture()
		f.seedCode("3000000")
		if _, err := f.codeUC().Redeem(ctx, "3000000", 77); err != nil {
			t.Fatalf("redeem: %v", err)
		}

		out, err := f.provisionUC(nil).HandleMemberJoined(ctx, testChannels.Daily, 77)

		if err != nil || out != usecase.JoinProvisioned {
			t.Fatalf("expected provisioned, got %s / %v", out, err)
		}
		if f.subs.count() != 1 {
			t.Errorf("expected one subscription, got %d", f.subs.count())
		}
	})

	t.Run("should not treat a lookup failure as unauthorized", func(t *testing.T) {
		f := newFixture()
		f.grants.GetFunc = func(ctx context.Context, tx repository.Tx, userID int64) (*model.Grant, error) {
			return nil, errors.New("db down")
		}

		_, err := f.provisionUC(nil).HandleMemberJoined(ctx, testChannels.Daily, 77)

		if err == nil {
			t.Fatal("expected an error, but got nil")
		}
		if len(f.transport.Calls) != 0 {
			t.Errorf("expected no ban on lookup failure, got %v", f.transport.Ops())
		}
	})

	t.Run("should reject unknown channels", func(t *testing.T) {
		_, err := newFixture().provisionUC(nil).HandleMemberJoined(ctx, -4242, 77)
		if !errors.Is(err, domain.ErrUnknownChannel) {
			t.Fatalf("expected ErrUnknownChannel, got %v", err)
		}
	})
}

func TestProvisionUseCase_HandleJoinRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("should provision a matching grant", func(t *testing.T) {
		f := newFixture()
		f.seedCode("6543210")
		if _, err := f.codeUC().Redeem(ctx, "6543210", 3); err != nil {
			t.Fatalf("redeem: %v", err)
		}

		out, err := f.provisionUC(nil).HandleJoinRequest(ctx, testChannels.Monthly, 3)

		if err != nil || out != usecase.JoinProvisioned {
			t.Fatalf("expected provisioned, got %s / %v", out, err)
		}
	})

	t.Run("should approve a current subscriber", func(t *testing.T) {
		f := newFixture()
		f.seedSub("s1", 3, model.PlanMonthly, time.Now().Add(72*time.Hour))

		out, err := f.provisionUC(nil).HandleJoinRequest(ctx, testChannels.Monthly, 3)

		if err != nil || out != usecase.JoinAccepted {
			t.Fatalf("expected accepted, got %s / %v", out, err)
		}
		if ops := strings.Join(f.transport.Ops(), ","); ops != "approve" {
			t.Errorf("expected a single approve, got %s", ops)
		}
	})

	t.Run("should leave other requests pending", func(t *testing.T) {
		f := newFixture()

		out, err := f.provisionUC(nil).HandleJoinRequest(ctx, testChannels.Monthly, 3)

		if err != nil || out != usecase.JoinPending {
			t.Fatalf("expected pending, got %s / %v", out, err)
		}
		if len(f.transport.Calls) != 0 || len(f.transport.Sent) != 0 {
			t.Errorf("expected no transport traffic")
		}
	})
}

func TestProvisionUseCase_ThroughRetryingTransport(t *testing.T) {
	ctx := context.Background()

	// --- Arrange ---
	f := newFixture()
	f.seedCode("4000000")
	if _, err := f.codeUC().Redeem(ctx, "4000000", 15); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	attempts := 0
	f.transport.ApproveJoinFunc = func(ctx context.Context, channelID, userID int64) error {
		attempts++
		if attempts <= 2 {
			return domain.NewTransportError(domain.FailureTransient, "approveChatJoinRequest", errors.New("timeout"))
		}
		return nil
	}
	rt := telegram.NewRetryingTransport(f.transport, retry.Policy{MaxRetries: 5, Delay: time.Millisecond}, time.Second, newTestLogger())

	// --- Act ---
	sub, err := f.provisionUC(rt).Provision(ctx, 15)

	// --- Assert ---
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 approve attempts, got %d", attempts)
	}
	if sub.Plan != model.PlanMonthly || f.subs.count() != 1 {
		t.Errorf("expected one monthly subscription, got %+v", sub)
	}
	if countContaining(f.transport.MessagesTo(15), "Welcome!") != 1 {
		t.Errorf("expected exactly one welcome, got %v", f.transport.MessagesTo(15))
	}
	if rt.State() != adapter.TransportActive {
		t.Errorf("expected transport back to Active, got %s", rt.State())
	}
}
