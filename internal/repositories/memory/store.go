// Package memory provides in-process repositories with the same guard and
// balance semantics as the gorm implementations. Service tests and local
// runs use it in place of Postgres.
package memory

import (
	"sort"
	"sync"
	"time"

	"paycore/internal/models"
	"paycore/internal/repositories"

	"github.com/shopspring/decimal"
)

// Store holds every table behind one mutex, so each repository call is atomic
// the way a single SQL statement or short transaction is.
type Store struct {
	mu     sync.Mutex
	nextID uint

	wallets     map[uint]*models.Wallet
	txs         map[uint]*models.Transaction
	withdrawals map[uint]*models.WithdrawalRequest
	channels    map[uint]*models.WithdrawalChannel
	linked      map[string]*models.LinkedAccount
	batches     map[uint]*models.DisbursementBatch
	items       map[uint]*models.DisbursementItem

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		wallets:     make(map[uint]*models.Wallet),
		txs:         make(map[uint]*models.Transaction),
		withdrawals: make(map[uint]*models.WithdrawalRequest),
		channels:    make(map[uint]*models.WithdrawalChannel),
		linked:      make(map[string]*models.LinkedAccount),
		batches:     make(map[uint]*models.DisbursementBatch),
		items:       make(map[uint]*models.DisbursementItem),
		now:         time.Now,
	}
}

// WithClock replaces the time source used for timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Wallets() repositories.WalletRepository { return &walletRepo{s} }

func (s *Store) Transactions() repositories.TransactionRepository { return &transactionRepo{s} }

func (s *Store) Withdrawals() repositories.WithdrawalRepository { return &withdrawalRepo{s} }

func (s *Store) Channels() repositories.ChannelRepository { return &channelRepo{s} }

func (s *Store) LinkedAccounts() repositories.LinkedAccountRepository { return &linkedRepo{s} }

func (s *Store) Batches() repositories.BatchRepository { return &batchRepo{s} }

// AddLinkedAccount seeds an external account link.
func (s *Store) AddLinkedAccount(acct models.LinkedAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	acct.ID = s.nextID
	s.linked[acct.Email] = &acct
}

// SetBalance overwrites a wallet balance.
func (s *Store) SetBalance(userID uint, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallet(userID)
	w.Balance = amount
}

// BalanceOf returns the current balance, zero when no wallet exists.
func (s *Store) BalanceOf(userID uint) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return w.Balance
	}
	return decimal.Zero
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

func (s *Store) wallet(userID uint) *models.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		w = &models.Wallet{ID: s.id(), UserID: userID, Currency: "USD", Status: "active", CreatedAt: s.now()}
		s.wallets[userID] = w
	}
	return w
}

func (s *Store) credit(userID uint, amount decimal.Decimal) {
	w := s.wallet(userID)
	w.Balance = w.Balance.Add(amount)
	w.UpdatedAt = s.now()
}

func (s *Store) debit(userID uint, amount decimal.Decimal) error {
	w, ok := s.wallets[userID]
	if !ok || w.Balance.LessThan(amount) {
		return repositories.ErrInsufficientBalance
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = s.now()
	return nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func sortByID[T any](rows []T, id func(T) uint, desc bool) {
	sort.Slice(rows, func(i, j int) bool {
		if desc {
			return id(rows[i]) > id(rows[j])
		}
		return id(rows[i]) < id(rows[j])
	})
}
