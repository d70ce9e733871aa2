package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Code is a result code the API sends either as a number or as a string.
// Missing codes stay unset.
type Code struct {
	Value string
	Set   bool
}

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	c.Set = true
	c.Value = strings.Trim(string(b), `"`)
	return nil
}

// OK reports whether the code is present and zero.
func (c Code) OK() bool {
	return c.Set && c.Value == "0"
}

type MetadataItem struct {
	Name  string          `json:"Name"`
	Key   string          `json:"Key"`
	Value json.RawMessage `json:"Value"`
}

func (m MetadataItem) text() string {
	return strings.Trim(string(bytes.TrimSpace(m.Value)), `"`)
}

type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        Code   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type STKCallbackEnvelope struct {
	Body struct {
		StkCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// ParseSTKCallback decodes the body posted to the STK callback URL.
func ParseSTKCallback(body []byte) (*STKCallback, error) {
	var env STKCallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode stk callback: %w", err)
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("stk callback has no CheckoutRequestID")
	}
	return &cb, nil
}

func (c *STKCallback) item(name string) (MetadataItem, bool) {
	if c.CallbackMetadata == nil {
		return MetadataItem{}, false
	}
	for _, it := range c.CallbackMetadata.Item {
		if it.Name == name {
			return it, true
		}
	}
	return MetadataItem{}, false
}

func (c *STKCallback) Receipt() string {
	it, ok := c.item("MpesaReceiptNumber")
	if !ok {
		return ""
	}
	return it.text()
}

// Amount returns the paid amount when the callback carries one.
func (c *STKCallback) Amount() (decimal.Decimal, bool) {
	it, ok := c.item("Amount")
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(it.text())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

type B2CResult struct {
	ResultType               int    `json:"ResultType"`
	ResultCode               Code   `json:"ResultCode"`
	ResultDesc               string `json:"ResultDesc"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ConversationID           string `json:"ConversationID"`
	TransactionID            string `json:"TransactionID"`
	ResultParameters         *struct {
		ResultParameter []MetadataItem `json:"ResultParameter"`
	} `json:"ResultParameters"`
}

type B2CResultEnvelope struct {
	Result B2CResult `json:"Result"`
}

// ParseB2CResult decodes the body posted to the B2C result or timeout URL.
func ParseB2CResult(body []byte) (*B2CResult, error) {
	var env B2CResultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode b2c result: %w", err)
	}
	r := env.Result
	if r.ConversationID == "" && r.OriginatorConversationID == "" {
		return nil, fmt.Errorf("b2c result has no conversation id")
	}
	return &r, nil
}

// Param returns a named result parameter as text.
func (r *B2CResult) Param(key string) string {
	if r.ResultParameters == nil {
		return ""
	}
	for _, p := range r.ResultParameters.ResultParameter {
		if p.Key == key {
			return p.text()
		}
	}
	return ""
}

// Receipt is the provider transaction id of a completed payment.
func (r *B2CResult) Receipt() string {
	if r.TransactionID != "" {
		return r.TransactionID
	}
	return r.Param("TransactionReceipt")
}
