package handlers

import (
	"context"

	"paycore/internal/models"
	"paycore/internal/repositories"
	"paycore/internal/services/disbursement"
	"paycore/internal/services/payment"
	"paycore/internal/services/withdrawal"

	"github.com/shopspring/decimal"
)

type PaymentService interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*models.Transaction, error)
	HandleCallback(ctx context.Context, ev payment.CallbackEvent) (payment.CallbackOutcome, error)
	Poll(ctx context.Context, userID, id uint) (*payment.StatusView, error)
	Get(ctx context.Context, userID, id uint) (*payment.StatusView, error)
	List(ctx context.Context, userID uint, limit, offset int) ([]*payment.StatusView, int64, error)
}

type WithdrawalService interface {
	QuoteFor(ctx context.Context, userID uint, amount decimal.Decimal) (*withdrawal.Quote, error)
	Request(ctx context.Context, userID uint, amount decimal.Decimal) (*models.WithdrawalRequest, error)
	Approve(ctx context.Context, id, reviewer uint, notes string) (*models.WithdrawalRequest, error)
	RetryTransfer(ctx context.Context, id, reviewer uint) (*models.WithdrawalRequest, error)
	Complete(ctx context.Context, id, reviewer uint, receipt, notes string) (*models.WithdrawalRequest, error)
	Reject(ctx context.Context, id, reviewer uint, notes string) (*models.WithdrawalRequest, error)
	Get(ctx context.Context, userID, id uint) (*models.WithdrawalRequest, error)
	List(ctx context.Context, userID uint, limit, offset int) ([]models.WithdrawalRequest, int64, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.WithdrawalRequest, int64, error)
}

type ChannelService interface {
	AddPhoneChannel(ctx context.Context, userID uint, phone string) (*models.WithdrawalChannel, error)
	ResendCode(ctx context.Context, userID, channelID uint) error
	VerifyPhoneChannel(ctx context.Context, userID, channelID uint, code string) (*models.WithdrawalChannel, error)
	AddExternalChannel(ctx context.Context, userID uint, email string) (*models.WithdrawalChannel, error)
	RemoveChannel(ctx context.Context, userID, channelID uint) error
	ListChannels(ctx context.Context, userID uint) ([]models.WithdrawalChannel, error)
}

type BatchService interface {
	Generate(ctx context.Context) (*models.DisbursementBatch, error)
	Approve(ctx context.Context, batchID, approver uint) (*models.DisbursementBatch, error)
	Cancel(ctx context.Context, batchID uint) (*models.DisbursementBatch, error)
	RetryItem(ctx context.Context, itemID uint) (*models.DisbursementItem, error)
	HandleResult(ctx context.Context, ev disbursement.ResultEvent) (disbursement.ResultOutcome, error)
	HandleTimeout(ctx context.Context, ev disbursement.ResultEvent) (disbursement.ResultOutcome, error)
	Reconcile(ctx context.Context, batchID uint) (repositories.ReconcileTotals, error)
	Get(ctx context.Context, batchID uint) (*models.DisbursementBatch, error)
	List(ctx context.Context, limit, offset int) ([]models.DisbursementBatch, int64, error)
}
