// Package mpesa is a Daraja API client for STK push collection and B2C disbursement.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/metrics"
	"github.com/deevents/backend/internal/phone"
)

// Provider field limits.
const (
	MaxReference   = 12
	MaxDescription = 13
	MaxRemarks     = 100

	timestampLayout = "20060102150405"
	payoutOccasion  = "Event Payout"
)

// Operations, as recorded in metrics.
const (
	OpCollect  = "collect"
	OpDisburse = "disburse"
)

// Config holds Daraja credentials and endpoints.
type Config struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	CallbackURL        string
	InitiatorName      string
	SecurityCredential string
	ResultURL          string
	TimeoutURL         string
	CountryCode        string // digits, e.g. 254
	Timeout            time.Duration
}

// ProviderResponse is the provider's synchronous acknowledgement. The final
// outcome arrives later on the callback, correlated by Reference.
type ProviderResponse struct {
	Operation                string          `json:"operation"`
	Reference                string          `json:"reference"`
	MSISDN                   string          `json:"msisdn"`
	Amount                   int64           `json:"amount"`
	ResponseCode             string          `json:"response_code"`
	ResponseDescription      string          `json:"response_description"`
	CustomerMessage          string          `json:"customer_message,omitempty"`
	MerchantRequestID        string          `json:"merchant_request_id,omitempty"`
	CheckoutRequestID        string          `json:"checkout_request_id,omitempty"`
	ConversationID           string          `json:"conversation_id,omitempty"`
	OriginatorConversationID string          `json:"originator_conversation_id,omitempty"`
	Raw                      json.RawMessage `json:"raw"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type b2cRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             string `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

type ackBody struct {
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
	CustomerMessage          string `json:"CustomerMessage"`
	MerchantRequestID        string `json:"MerchantRequestID"`
	CheckoutRequestID        string `json:"CheckoutRequestID"`
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
}

// Client calls the Daraja API. It holds no token state: every operation
// performs its own client-credentials exchange.
type Client struct {
	cfg     Config
	http    *http.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient creates a Daraja client.
func NewClient(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Collect sends an STK push asking the payer at phone to pay amount.
// reference and description are cut to the provider limits.
func (c *Client) Collect(ctx context.Context, payer string, amount decimal.Decimal, reference, description string) (*ProviderResponse, error) {
	msisdn, units, err := c.prepare(payer, amount)
	if err != nil {
		return nil, err
	}
	reference = truncate(reference, MaxReference)
	timestamp := c.now().Format(timestampLayout)
	req := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            strconv.FormatInt(units, 10),
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   truncate(description, MaxDescription),
	}
	resp, err := c.call(ctx, OpCollect, "/mpesa/stkpush/v1/processrequest", req)
	if err != nil {
		return nil, err
	}
	resp.Reference, resp.MSISDN, resp.Amount = reference, msisdn, units
	c.logger.Info("stk push accepted",
		zap.String("reference", reference),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.Int64("amount", units))
	return resp, nil
}

// Disburse sends a B2C payment of amount to the recipient at phone.
// The returned Reference is the provider's originator conversation id.
func (c *Client) Disburse(ctx context.Context, recipient string, amount decimal.Decimal, remarks string) (*ProviderResponse, error) {
	msisdn, units, err := c.prepare(recipient, amount)
	if err != nil {
		return nil, err
	}
	req := b2cRequest{
		InitiatorName:      c.cfg.InitiatorName,
		SecurityCredential: c.cfg.SecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             strconv.FormatInt(units, 10),
		PartyA:             c.cfg.ShortCode,
		PartyB:             msisdn,
		Remarks:            truncate(remarks, MaxRemarks),
		QueueTimeOutURL:    c.cfg.TimeoutURL,
		ResultURL:          c.cfg.ResultURL,
		Occasion:           payoutOccasion,
	}
	resp, err := c.call(ctx, OpDisburse, "/mpesa/b2c/v1/paymentrequest", req)
	if err != nil {
		return nil, err
	}
	resp.Reference, resp.MSISDN, resp.Amount = resp.OriginatorConversationID, msisdn, units
	c.logger.Info("b2c payment accepted",
		zap.String("originator_conversation_id", resp.OriginatorConversationID),
		zap.Int64("amount", units))
	return resp, nil
}

// prepare converts the phone to MSISDN form and the amount to whole units.
func (c *Client) prepare(raw string, amount decimal.Decimal) (string, int64, error) {
	if raw == "" {
		return "", 0, apperr.FieldValidation("phone", "A phone number is required.")
	}
	units := amount.IntPart()
	if units < 1 {
		return "", 0, apperr.FieldValidation("amount", "Amount must be at least 1.")
	}
	return phone.MSISDN(raw, c.cfg.CountryCode), units, nil
}

func (c *Client) call(ctx context.Context, op, path string, payload any) (*ProviderResponse, error) {
	start := time.Now()
	resp, err := c.do(ctx, op, path, payload)
	outcome := metrics.GatewayOK
	if err != nil {
		outcome = metrics.GatewayError
		c.logger.Error("mpesa request failed", zap.String("operation", op), zap.Error(err))
	}
	c.metrics.Gateway(op, outcome, time.Since(start).Seconds())
	return resp, err
}

func (c *Client) do(ctx context.Context, op, path string, payload any) (*ProviderResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	status, raw, err := c.send(req)
	if err != nil {
		return nil, apperr.Gateway("M-Pesa request failed.", 0, nil, err)
	}
	if status < 200 || status > 299 {
		return nil, apperr.Gateway(fmt.Sprintf("M-Pesa %s rejected with status %d.", op, status), status, raw, nil)
	}
	var ack ackBody
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, apperr.Gateway("M-Pesa returned an unreadable response.", status, raw, err)
	}
	return &ProviderResponse{
		Operation:                op,
		ResponseCode:             ack.ResponseCode,
		ResponseDescription:      ack.ResponseDescription,
		CustomerMessage:          ack.CustomerMessage,
		MerchantRequestID:        ack.MerchantRequestID,
		CheckoutRequestID:        ack.CheckoutRequestID,
		ConversationID:           ack.ConversationID,
		OriginatorConversationID: ack.OriginatorConversationID,
		Raw:                      json.RawMessage(raw),
	}, nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	status, raw, err := c.send(req)
	if err != nil {
		return "", apperr.Gateway("M-Pesa token request failed.", 0, nil, err)
	}
	if status != http.StatusOK {
		return "", apperr.Gateway(fmt.Sprintf("M-Pesa token request rejected with status %d.", status), status, raw, nil)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", apperr.Gateway("M-Pesa returned no access token.", status, raw, err)
	}
	return tok.AccessToken, nil
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// Password is the STK push password: base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
