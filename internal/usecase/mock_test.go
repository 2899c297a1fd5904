//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/domain/ports/repository"
	"telegram-channel-access/internal/infra/i18n"
	"telegram-channel-access/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTestTranslator() *i18n.Translator {
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		panic(err)
	}
	return tr
}

var testChannels = usecase.ChannelMap{Daily: -1001, Monthly: -1002, Yearly: -1003}

const operatorID int64 = 999

// =============================
// Adapters
// =============================

// ---- Mock MessagingTransport ----

type SentMessage struct {
	ChatID int64
	Text   string
	Opts   *adapter.SendOptions
}

type MembershipCall struct {
	Op        string // approve | ban | unban | status
	ChannelID int64
	UserID    int64
}

type MockTransport struct {
	mu    sync.Mutex
	Sent  []SentMessage
	Calls []MembershipCall

	SendMessageFunc         func(ctx context.Context, chatID int64, text string, opts *adapter.SendOptions) error
	ApproveJoinFunc         func(ctx context.Context, channelID, userID int64) error
	BanFunc                 func(ctx context.Context, channelID, userID int64) error
	UnbanFunc               func(ctx context.Context, channelID, userID int64) error
	GetMembershipStatusFunc func(ctx context.Context, channelID, userID int64) (model.MemberStatus, error)
}

var _ adapter.MessagingTransport = (*MockTransport)(nil)

func (m *MockTransport) record(op string, channelID, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MembershipCall{Op: op, ChannelID: channelID, UserID: userID})
}

func (m *MockTransport) SendMessage(ctx context.Context, chatID int64, text string, opts *adapter.SendOptions) error {
	if m.SendMessageFunc != nil {
		if err := m.SendMessageFunc(ctx, chatID, text, opts); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (m *MockTransport) ApproveJoin(ctx context.Context, channelID, userID int64) error {
	m.record("approve", channelID, userID)
	if m.ApproveJoinFunc != nil {
		return m.ApproveJoinFunc(ctx, channelID, userID)
	}
	return nil
}

func (m *MockTransport) Ban(ctx context.Context, channelID, userID int64) error {
	m.record("ban", channelID, userID)
	if m.BanFunc != nil {
		return m.BanFunc(ctx, channelID, userID)
	}
	return nil
}

func (m *MockTransport) Unban(ctx context.Context, channelID, userID int64) error {
	m.record("unban", channelID, userID)
	if m.UnbanFunc != nil {
		return m.UnbanFunc(ctx, channelID, userID)
	}
	return nil
}

func (m *MockTransport) GetMembershipStatus(ctx context.Context, channelID, userID int64) (model.MemberStatus, error) {
	m.record("status", channelID, userID)
	if m.GetMembershipStatusFunc != nil {
		return m.GetMembershipStatusFunc(ctx, channelID, userID)
	}
	return model.MemberStatusMember, nil
}

func (m *MockTransport) MessagesTo(chatID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Sent {
		if s.ChatID == chatID {
			out = append(out, s.Text)
		}
	}
	return out
}

func (m *MockTransport) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, c.Op)
	}
	return out
}

// =============================
// Ledger: one in-memory store behind every repository port
// =============================

// memLedger serialises every operation on one mutex, which gives the same
// per-record atomicity as the conditional UPDATEs of the Postgres repos.
type memLedger struct {
	mu     sync.Mutex
	codes  map[string]*model.AccessCode
	grants map[int64]*model.Grant
	subs   map[string]*model.Subscription
	order  []string // subscription insertion order
	notifs map[string]bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		codes:  make(map[string]*model.AccessCode),
		grants: make(map[int64]*model.Grant),
		subs:   make(map[string]*model.Subscription),
		notifs: make(map[string]bool),
	}
}

// ---- TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, nil)
}

// ---- AccessCodeRepository ----

type memCodeRepo struct {
	l *memLedger

	InsertFunc   func(ctx context.Context, tx repository.Tx, c *model.AccessCode) error
	FinalizeFunc func(ctx context.Context, tx repository.Tx, code string) (*model.AccessCode, error)
}

var _ repository.AccessCodeRepository = (*memCodeRepo)(nil)

func (r *memCodeRepo) Insert(ctx context.Context, tx repository.Tx, c *model.AccessCode) error {
	if r.InsertFunc != nil {
		return r.InsertFunc(ctx, tx, c)
	}
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if _, ok := r.l.codes[c.Code]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *c
	r.l.codes[c.Code] = &cp
	return nil
}

func (r *memCodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.AccessCode, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	c, ok := r.l.codes[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *memCodeRepo) Reserve(ctx context.Context, tx repository.Tx, code string, userID int64) (*model.AccessCode, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	c, ok := r.l.codes[code]
	if !ok {
		return nil, domain.ErrCodeNotFound
	}
	if c.State != model.CodeStateUnused {
		return nil, domain.ErrCodeAlreadyUsed
	}
	now := time.Now()
	uid := userID
	c.State = model.CodeStateReserved
	c.RedeemedBy = &uid
	c.RedeemedAt = &now
	cp := *c
	return &cp, nil
}

func (r *memCodeRepo) Finalize(ctx context.Context, tx repository.Tx, code string) (*model.AccessCode, error) {
	if r.FinalizeFunc != nil {
		return r.FinalizeFunc(ctx, tx, code)
	}
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	c, ok := r.l.codes[code]
	if !ok {
		return nil, domain.ErrCodeNotFound
	}
	switch c.State {
	case model.CodeStateReserved:
		now := time.Now()
		c.State = model.CodeStateUsed
		c.UsedAt = &now
	case model.CodeStateUnused:
		return nil, domain.ErrCodeNotReserved
	}
	cp := *c
	return &cp, nil
}

func (r *memCodeRepo) CountByState(ctx context.Context, tx repository.Tx) (map[model.CodeState]int, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	out := map[model.CodeState]int{}
	for _, c := range r.l.codes {
		out[c.State]++
	}
	return out, nil
}

func (r *memCodeRepo) state(code string) model.CodeState {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if c, ok := r.l.codes[code]; ok {
		return c.State
	}
	return ""
}

// ---- GrantRepository ----

type memGrantRepo struct {
	l *memLedger

	GetFunc func(ctx context.Context, tx repository.Tx, userID int64) (*model.Grant, error)
}

var _ repository.GrantRepository = (*memGrantRepo)(nil)

func (r *memGrantRepo) Put(ctx context.Context, tx repository.Tx, g *model.Grant) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	cp := *g
	r.l.grants[g.UserID] = &cp
	return nil
}

func (r *memGrantRepo) Get(ctx context.Context, tx repository.Tx, userID int64) (*model.Grant, error) {
	if r.GetFunc != nil {
		return r.GetFunc(ctx, tx, userID)
	}
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	g, ok := r.l.grants[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *memGrantRepo) Delete(ctx context.Context, tx repository.Tx, userID int64, code string) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	g, ok := r.l.grants[userID]
	if !ok || g.Code != code {
		return false, nil
	}
	delete(r.l.grants, userID)
	return true, nil
}

func (r *memGrantRepo) Count(ctx context.Context, tx repository.Tx) (int, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return len(r.l.grants), nil
}

// ---- SubscriptionRepository ----

type memSubRepo struct {
	l *memLedger

	ListExpiredActiveFunc func(ctx context.Context, tx repository.Tx, now time.Time, after *repository.ExpiryCursor, limit int) ([]*model.Subscription, error)
}

var _ repository.SubscriptionRepository = (*memSubRepo)(nil)

func (r *memSubRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if s.IsActive {
		for id, other := range r.l.subs {
			if id != s.ID && other.UserID == s.UserID && other.IsActive {
				return domain.ErrAlreadyExists
			}
		}
	}
	if _, ok := r.l.subs[s.ID]; !ok {
		r.l.order = append(r.l.order, s.ID)
	}
	cp := *s
	r.l.subs[s.ID] = &cp
	return nil
}

func (r *memSubRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID int64, now time.Time) (*model.Subscription, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for _, s := range r.l.subs {
		if s.UserID == userID && s.IsActive && s.ExpiryDate.After(now) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSubRepo) FindLatestByUser(ctx context.Context, tx repository.Tx, userID int64) (*model.Subscription, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	for i := len(r.l.order) - 1; i >= 0; i-- {
		if s := r.l.subs[r.l.order[i]]; s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memSubRepo) ListActiveByUser(ctx context.Context, tx repository.Tx, userID int64) ([]*model.Subscription, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.l.subs {
		if s.UserID == userID && s.IsActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSubRepo) ListExpiredActive(ctx context.Context, tx repository.Tx, now time.Time, after *repository.ExpiryCursor, limit int) ([]*model.Subscription, error) {
	if r.ListExpiredActiveFunc != nil {
		return r.ListExpiredActiveFunc(ctx, tx, now, after, limit)
	}
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.l.subs {
		if !s.IsActive || s.ExpiryDate.After(now) {
			continue
		}
		if after != nil && !cursorLess(after, s) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return cursorLess(repository.CursorAfter(out[i]), out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cursorLess reports whether c sorts before s by (expiry_date, id).
func cursorLess(c *repository.ExpiryCursor, s *model.Subscription) bool {
	if !c.ExpiryDate.Equal(s.ExpiryDate) {
		return c.ExpiryDate.Before(s.ExpiryDate)
	}
	return c.ID < s.ID
}

func (r *memSubRepo) Deactivate(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	s, ok := r.l.subs[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	return true, nil
}

func (r *memSubRepo) DeactivateActiveByUser(ctx context.Context, tx repository.Tx, userID int64) (int, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	n := 0
	for _, s := range r.l.subs {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *memSubRepo) FindExpiring(ctx context.Context, tx repository.Tx, now time.Time, withinDays int) ([]*model.Subscription, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	cut := now.Add(time.Duration(withinDays) * 24 * time.Hour)
	var out []*model.Subscription
	for _, s := range r.l.subs {
		if s.IsActive && s.ExpiryDate.After(now) && !s.ExpiryDate.After(cut) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memSubRepo) get(id string) *model.Subscription {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	if s, ok := r.l.subs[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

func (r *memSubRepo) count() int {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return len(r.l.subs)
}

// ---- NotificationLogRepository ----

type memNotifRepo struct {
	l *memLedger
}

var _ repository.NotificationLogRepository = (*memNotifRepo)(nil)

func notifKey(subID, kind string, days int) string {
	return subID + "|" + kind + "|" + strconv.Itoa(days)
}

func (r *memNotifRepo) Claim(ctx context.Context, tx repository.Tx, subscriptionID string, userID int64, kind string, thresholdDays int) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	k := notifKey(subscriptionID, kind, thresholdDays)
	if r.l.notifs[k] {
		return false, nil
	}
	r.l.notifs[k] = true
	return true, nil
}

func (r *memNotifRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID, kind string, thresholdDays int) (bool, error) {
	r.l.mu.Lock()
	defer r.l.mu.Unlock()
	return r.l.notifs[notifKey(subscriptionID, kind, thresholdDays)], nil
}

// =============================
// Fixture
// =============================

type fixture struct {
	ledger    *memLedger
	codes     *memCodeRepo
	grants    *memGrantRepo
	subs      *memSubRepo
	notifs    *memNotifRepo
	tm        *MockTxManager
	transport *MockTransport
}

func newFixture() *fixture {
	l := newMemLedger()
	return &fixture{
		ledger:    l,
		codes:     &memCodeRepo{l: l},
		grants:    &memGrantRepo{l: l},
		subs:      &memSubRepo{l: l},
		notifs:    &memNotifRepo{l: l},
		tm:        &MockTxManager{},
		transport: &MockTransport{},
	}
}

func (f *fixture) codeUC() usecase.CodeUseCase {
	return usecase.NewCodeUseCase(f.codes, f.grants, f.tm, newTestLogger())
}

func (f *fixture) provisionUC(transport adapter.MessagingTransport) usecase.ProvisionUseCase {
	if transport == nil {
		transport = f.transport
	}
	return usecase.NewProvisionUseCase(f.codes, f.subs, f.grants, f.tm, transport, testChannels, newTestTranslator(), operatorID, newTestLogger())
}

func (f *fixture) expiryUC() usecase.ExpiryUseCase {
	return usecase.NewExpiryUseCase(f.subs, f.transport, testChannels, 50, newTestTranslator(), operatorID, newTestLogger())
}

// seedCode stores an unused code.
func (f *fixture) seedCode(code string) {
	plan, _ := model.DeterminePlan(code)
	ac, err := model.NewAccessCode(code, plan, time.Now())
	if err != nil {
		panic(err)
	}
	if err := f.codes.Insert(context.Background(), nil, ac); err != nil {
		panic(err)
	}
}

// seedSub stores an active subscription for user with the given expiry.
func (f *fixture) seedSub(id string, userID int64, plan model.Plan, expiry time.Time) *model.Subscription {
	s := &model.Subscription{
		ID:         id,
		UserID:     userID,
		Plan:       plan,
		Code:       "0000000",
		StartDate:  expiry.Add(-plan.Duration()),
		ExpiryDate: expiry,
		IsActive:   true,
	}
	if err := f.subs.Save(context.Background(), nil, s); err != nil {
		panic(err)
	}
	return s
}

func newGrantUC(f *fixture) usecase.GrantUseCase {
	return usecase.NewGrantUseCase(f.grants)
}

func (f *fixture) statusUC() usecase.StatusUseCase {
	return usecase.NewStatusUseCase(f.grants, f.subs)
}

func (f *fixture) reminderUC(withinDays int) usecase.ReminderUseCase {
	return usecase.NewReminderUseCase(f.subs, f.notifs, f.transport, newTestTranslator(), withinDays, newTestLogger())
}

// stateStub is a fixed adapter.StateReporter.
type stateStub adapter.TransportState

func (s stateStub) State() adapter.TransportState { return adapter.TransportState(s) }
