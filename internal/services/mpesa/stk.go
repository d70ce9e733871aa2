package mpesa

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// processingCode is returned by the query endpoint while the payer has not
// yet answered the prompt.
const processingCode = "500.001.1001"

type STKPushRequest struct {
	Phone       string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.PassKey + ts))
}

// STKPush asks the provider to prompt the payer. A non-zero response code is
// returned as an *APIError.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	amount := req.Amount.Ceil().IntPart()
	if amount <= 0 {
		return nil, fmt.Errorf("mpesa: invalid amount %s", req.Amount)
	}
	ts := timestamp(c.now())
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount,
		PartyA:            req.Phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.Phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.Reference, 12),
		TransactionDesc:   truncate(req.Description, 13),
	}
	var resp STKPushResponse
	if err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, &APIError{Status: 200, Code: resp.ResponseCode, Message: resp.ResponseDescription}
	}
	return &resp, nil
}

type QueryStatus int

const (
	QueryPending QueryStatus = iota
	QueryCompleted
	QueryFailed
)

func (s QueryStatus) String() string {
	switch s {
	case QueryCompleted:
		return "completed"
	case QueryFailed:
		return "failed"
	default:
		return "pending"
	}
}

type STKQueryResult struct {
	Status     QueryStatus
	ResultCode string
	Reason     string
}

type stkQueryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// STKQuery asks the provider for the outcome of a prompt.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResult, error) {
	ts := timestamp(c.now())
	body := stkQueryBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	var resp stkQueryResponse
	err := c.post(ctx, "/mpesa/stkpushquery/v1/query", body, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == processingCode {
			return &STKQueryResult{Status: QueryPending, Reason: apiErr.Message}, nil
		}
		return nil, err
	}
	switch resp.ResultCode {
	case "0":
		return &STKQueryResult{Status: QueryCompleted, ResultCode: resp.ResultCode, Reason: resp.ResultDesc}, nil
	case "":
		return &STKQueryResult{Status: QueryPending, Reason: resp.ResponseDescription}, nil
	default:
		return &STKQueryResult{Status: QueryFailed, ResultCode: resp.ResultCode, Reason: resp.ResultDesc}, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
