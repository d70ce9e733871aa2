package mpesa

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type B2CRequest struct {
	OriginatorConversationID string
	Phone                    string
	Amount                   decimal.Decimal
	Remarks                  string
	Occasion                 string
}

type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type b2cBody struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

// BusinessPayment submits a B2C payment. Acceptance only means the request was
// queued; the outcome arrives later on the result or timeout URL.
func (c *Client) BusinessPayment(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	amount := req.Amount.Floor().IntPart()
	if amount <= 0 {
		return nil, fmt.Errorf("mpesa: invalid amount %s", req.Amount)
	}
	body := b2cBody{
		OriginatorConversationID: req.OriginatorConversationID,
		InitiatorName:            c.cfg.InitiatorName,
		SecurityCredential:       c.cfg.SecurityCredential,
		CommandID:                "BusinessPayment",
		Amount:                   amount,
		PartyA:                   c.cfg.B2CShortCode,
		PartyB:                   req.Phone,
		Remarks:                  truncate(req.Remarks, 100),
		QueueTimeOutURL:          c.cfg.TimeoutURL,
		ResultURL:                c.cfg.ResultURL,
		Occasion:                 truncate(req.Occasion, 100),
	}
	var resp B2CResponse
	if err := c.post(ctx, "/mpesa/b2c/v3/paymentrequest", body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, &APIError{Status: 200, Code: resp.ResponseCode, Message: resp.ResponseDescription}
	}
	if resp.OriginatorConversationID == "" {
		resp.OriginatorConversationID = req.OriginatorConversationID
	}
	return &resp, nil
}
