package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Provider identifies a supported payment processor. The set is closed:
// branching on the provider happens once, at gateway construction.
type Provider string

const (
	ProviderJazzCash  Provider = "jazzcash"
	ProviderEasyPaisa Provider = "easypaisa"
)

// Canonical transaction statuses, independent of provider response codes.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

// Initiation outcome statuses.
const (
	InitiationOK     = "initiated"
	InitiationFailed = "failed"
)

// Endpoint paths per provider.
const (
	jazzCashCheckoutPath  = "/CustomerPortal/transactionmanagement/merchantForm"
	easyPaisaCheckoutPath = "/api/v1/checkout"
)

// Config holds provider-scoped credentials and endpoints, loaded once at
// construction. Only the fields for the configured provider are read.
type Config struct {
	Provider Provider

	// JazzCash credentials.
	MerchantID    string
	Password      string
	IntegritySalt string

	// Easypaisa credentials.
	StoreID string
	HashKey string

	BaseURL     string // provider API base, e.g. https://sandbox.jazzcash.com.pk
	ReturnURL   string // browser return URL after JazzCash checkout
	PostBackURL string // server callback URL signed into Easypaisa requests
	Currency    string // settlement currency code, e.g. PKR

	HTTPTimeout time.Duration // bound on outbound provider calls
}

// DefaultConfig returns a Config for the given provider with the standard
// 30 second provider-call timeout.
func DefaultConfig(provider Provider) Config {
	return Config{
		Provider:    provider,
		Currency:    "PKR",
		HTTPTimeout: 30 * time.Second,
	}
}

// PaymentRequest describes a payment or deposit to initiate.
type PaymentRequest struct {
	Amount         float64
	CustomerEmail  string
	CustomerMobile string
	Description    string
}

// InitiationResult is the outcome of InitiatePayment. Status is always
// InitiationOK or InitiationFailed; provider/network errors are reported in
// Err rather than raised, so the caller can record the attempt either way.
type InitiationResult struct {
	TransactionRef string            `json:"transaction_id"`
	PaymentURL     string            `json:"payment_url,omitempty"`
	Token          string            `json:"token,omitempty"`
	FormData       map[string]string `json:"form_data,omitempty"`
	Status         string            `json:"status"`
	Err            string            `json:"error,omitempty"`
}

// Gateway builds, signs and submits provider requests and verifies provider
// callbacks. One Gateway serves exactly one provider.
type Gateway struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewGateway creates a Gateway for the configured provider.
func NewGateway(cfg Config) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		now:    time.Now,
	}
}

// Provider returns the provider this gateway serves.
func (g *Gateway) Provider() Provider {
	return g.cfg.Provider
}

// NewTransactionRef generates a provider-facing transaction reference:
// 'T' + second-precision timestamp + the last four characters of the
// merchant/store identifier. The reference length is capped by the
// providers, so there is no room for a random component; two calls within
// the same second for the same merchant produce the same reference.
func (g *Gateway) NewTransactionRef() string {
	id := g.cfg.MerchantID
	if g.cfg.Provider == ProviderEasyPaisa {
		id = g.cfg.StoreID
	}
	suffix := id
	if len(id) > 4 {
		suffix = id[len(id)-4:]
	}
	return "T" + g.now().Format("20060102150405") + suffix
}

// MinorUnits converts a decimal amount to its integer minor-unit string
// (e.g. 150.50 -> "15050" for a two-decimal currency). Rounding, not
// truncation: float representations like 0.29*100 = 28.999... must not
// lose a unit.
func MinorUnits(amount float64) string {
	return strconv.FormatInt(int64(math.Round(amount*100)), 10)
}

// DecimalString formats an amount the way Easypaisa expects: a plain
// decimal string with no trailing zeros ("100", "150.5").
func DecimalString(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// InitiatePayment builds the provider-specific payload, signs it, and
// submits it to the provider with a bounded timeout. Failures degrade to an
// InitiationFailed result — never an error — so the caller records the
// attempt regardless of outcome.
func (g *Gateway) InitiatePayment(ctx context.Context, req PaymentRequest) InitiationResult {
	switch g.cfg.Provider {
	case ProviderJazzCash:
		return g.initiateJazzCash(ctx, req)
	case ProviderEasyPaisa:
		return g.initiateEasyPaisa(ctx, req)
	default:
		return InitiationResult{
			Status: InitiationFailed,
			Err:    fmt.Sprintf("unsupported provider %q", g.cfg.Provider),
		}
	}
}

// jazzCashFields builds the full signed form payload for a JazzCash
// transaction. Every field participates in the signature, including the
// empty ones.
func (g *Gateway) jazzCashFields(ref string, req PaymentRequest) map[string]string {
	now := g.now()
	fields := map[string]string{
		"pp_Version":           "1.1",
		"pp_TxnType":           "MWALLET",
		"pp_Language":          "EN",
		"pp_MerchantID":        g.cfg.MerchantID,
		"pp_SubMerchantID":     "",
		"pp_Password":          g.cfg.Password,
		"pp_TxnRefNo":          ref,
		"pp_Amount":            MinorUnits(req.Amount),
		"pp_TxnCurrency":       g.cfg.Currency,
		"pp_TxnDateTime":       now.Format("20060102150405"),
		"pp_BillReference":     ref,
		"pp_Description":       req.Description,
		"pp_TxnExpiryDateTime": now.Add(1 * time.Hour).Format("20060102150405"),
		"pp_ReturnURL":         g.cfg.ReturnURL,
		"ppmpf_1":              req.CustomerEmail,
		"ppmpf_2":              req.CustomerMobile,
	}
	fields[JazzCashHashField] = JazzCashSignature(g.cfg.IntegritySalt, fields)
	return fields
}

func (g *Gateway) initiateJazzCash(ctx context.Context, req PaymentRequest) InitiationResult {
	ref := g.NewTransactionRef()
	fields := g.jazzCashFields(ref, req)

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}

	endpoint := g.cfg.BaseURL + jazzCashCheckoutPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return InitiationResult{TransactionRef: ref, Status: InitiationFailed, Err: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		log.Printf("payment: jazzcash initiation failed ref=%s: %v", ref, err)
		return InitiationResult{TransactionRef: ref, Status: InitiationFailed, Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("payment: jazzcash initiation failed ref=%s: HTTP %d", ref, resp.StatusCode)
		return InitiationResult{
			TransactionRef: ref,
			Status:         InitiationFailed,
			Err:            fmt.Sprintf("provider returned HTTP %d", resp.StatusCode),
		}
	}
	return InitiationResult{
		TransactionRef: ref,
		PaymentURL:     endpoint,
		FormData:       fields,
		Status:         InitiationOK,
	}
}

// easyPaisaRequest is the JSON checkout payload for Easypaisa.
type easyPaisaRequest struct {
	StoreID           string `json:"storeId"`
	Amount            string `json:"amount"`
	PostBackURL       string `json:"postBackURL"`
	OrderRefNum       string `json:"orderRefNum"`
	ExpiryDate        string `json:"expiryDate"`
	AutoRedirect      string `json:"autoRedirect"`
	PaymentMethod     string `json:"paymentMethod"`
	EmailAddress      string `json:"emailAddress"`
	MobileNumber      string `json:"mobileNumber"`
	MerchantHashedReq string `json:"merchantHashedReq"`
}

func (g *Gateway) initiateEasyPaisa(ctx context.Context, req PaymentRequest) InitiationResult {
	ref := g.NewTransactionRef()
	amount := DecimalString(req.Amount)

	payload := easyPaisaRequest{
		StoreID:       g.cfg.StoreID,
		Amount:        amount,
		PostBackURL:   g.cfg.PostBackURL,
		OrderRefNum:   ref,
		ExpiryDate:    g.now().Add(1 * time.Hour).Format("20060102 150405"),
		AutoRedirect:  "1",
		PaymentMethod: "MA_PAYMENT_METHOD",
		EmailAddress:  req.CustomerEmail,
		MobileNumber:  req.CustomerMobile,
	}
	payload.MerchantHashedReq = EasyPaisaSignature(
		g.cfg.HashKey, g.cfg.StoreID, amount, ref, g.cfg.PostBackURL)

	body, err := json.Marshal(payload)
	if err != nil {
		return InitiationResult{TransactionRef: ref, Status: InitiationFailed, Err: err.Error()}
	}

	endpoint := g.cfg.BaseURL + easyPaisaCheckoutPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return InitiationResult{TransactionRef: ref, Status: InitiationFailed, Err: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		log.Printf("payment: easypaisa initiation failed ref=%s: %v", ref, err)
		return InitiationResult{TransactionRef: ref, Status: InitiationFailed, Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("payment: easypaisa initiation failed ref=%s: HTTP %d", ref, resp.StatusCode)
		return InitiationResult{
			TransactionRef: ref,
			Status:         InitiationFailed,
			Err:            fmt.Sprintf("provider returned HTTP %d", resp.StatusCode),
		}
	}

	var checkout struct {
		CheckoutURL string `json:"checkoutUrl"`
		Token       string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&checkout)

	return InitiationResult{
		TransactionRef: ref,
		PaymentURL:     checkout.CheckoutURL,
		Token:          checkout.Token,
		Status:         InitiationOK,
	}
}

// VerifyCallback recomputes the expected signature for a callback payload
// and reports whether it matches. A false result means the callback must be
// rejected without mutating any transaction.
//
// For Easypaisa the signed material includes the amount and post-back URL,
// which the callback does not echo; callers fill those from the stored
// transaction before verifying.
func (g *Gateway) VerifyCallback(fields map[string]string) bool {
	switch g.cfg.Provider {
	case ProviderJazzCash:
		return VerifyJazzCash(g.cfg.IntegritySalt, fields)
	case ProviderEasyPaisa:
		return VerifyEasyPaisa(
			g.cfg.HashKey,
			g.cfg.StoreID,
			fields["amount"],
			fields["orderRefNum"],
			fields["postBackURL"],
			fields[EasyPaisaHashField],
		)
	default:
		return false
	}
}

// ResponseStatus canonicalizes a provider response code. The mapping is
// total: any input not in the known success set maps to StatusFailed.
func ResponseStatus(code string) string {
	switch code {
	case "000", "00", "0":
		return StatusCompleted
	default:
		return StatusFailed
	}
}
