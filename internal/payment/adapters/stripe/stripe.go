package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/vetclinic/internal/payment/domain"
)

const (
	providerName       = "stripe"
	defaultBaseURL     = "https://api.stripe.com"
	defaultHTTPTimeout = 12 * time.Second
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Processor, error) {
	secretKey, _ := readString(cfg.Config, "secret_key")
	webhookSecret, _ := readString(cfg.Config, "webhook_secret")
	secretKey = strings.TrimSpace(secretKey)
	webhookSecret = strings.TrimSpace(webhookSecret)
	if secretKey == "" || webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL, _ := readString(cfg.Config, "base_url")
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Adapter{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		now:           time.Now,
	}, nil
}

type Adapter struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
	now           func() time.Time
}

// APIError is an error response from the Stripe API.
type APIError struct {
	StatusCode  int
	Type        string
	Code        string
	DeclineCode string
	Message     string
}

func (e *APIError) Error() string {
	parts := []string{fmt.Sprintf("stripe: status %d", e.StatusCode)}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	if e.DeclineCode != "" {
		parts = append(parts, e.DeclineCode)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, ": ")
}

func (a *Adapter) Provider() string {
	return providerName
}

// CreateCharge creates and confirms an off-session PaymentIntent.
func (a *Adapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.Charge, error) {
	if req.AmountMinor <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	if req.CustomerRef != "" {
		form.Set("customer", req.CustomerRef)
	}
	form.Set("payment_method", req.PaymentMethodRef)
	form.Set("confirm", "true")
	form.Set("off_session", "true")
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		form.Set("metadata["+k+"]", req.Metadata[k])
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, errors.New("stripe: payment intent without id")
	}

	charge := &paymentdomain.Charge{
		ID:              intent.ID,
		Status:          paymentdomain.ChargeStatus(intent.Status),
		ClientSecret:    intent.ClientSecret,
		LatestChargeRef: intent.latestChargeID(),
	}
	if intent.LastPaymentError != nil {
		charge.FailureMessage = intent.LastPaymentError.Message
	}
	return charge, nil
}

func decodeAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Type        string `json:"type"`
			Code        string `json:"code"`
			DeclineCode string `json:"decline_code"`
			Message     string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
		apiErr.DeclineCode = envelope.Error.DeclineCode
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	ts, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if age := a.now().Sub(time.Unix(unix, 0)); age > signatureTolerance || age < -signatureTolerance {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "charge.refunded":
		return a.parseRefund(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type stripePaymentIntent struct {
	ID               string              `json:"id"`
	Status           string              `json:"status"`
	Amount           int64               `json:"amount"`
	AmountReceived   int64               `json:"amount_received"`
	Currency         string              `json:"currency"`
	ClientSecret     string              `json:"client_secret"`
	Created          int64               `json:"created"`
	LatestCharge     json.RawMessage     `json:"latest_charge"`
	LastPaymentError *stripePaymentError `json:"last_payment_error"`
	Metadata         map[string]any      `json:"metadata"`
}

// latestChargeID accepts latest_charge both as an id and as an expanded
// object.
func (p stripePaymentIntent) latestChargeID() string {
	if len(p.LatestCharge) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(p.LatestCharge, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(p.LatestCharge, &obj); err == nil {
		return obj.ID
	}
	return ""
}

type stripeCharge struct {
	ID             string         `json:"id"`
	PaymentIntent  string         `json:"payment_intent"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Refunded       bool           `json:"refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	tenantID, invoiceID, txnID, err := parseMetadata(intent.Metadata)
	if err != nil {
		return nil, err
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	out := &paymentdomain.PaymentEvent{
		Provider:          providerName,
		ProviderEventID:   event.ID,
		ProviderEventType: event.Type,
		ProviderPaymentID: intent.ID,
		ProviderChargeID:  intent.latestChargeID(),
		Type:              eventType,
		TenantID:          tenantID,
		InvoiceID:         invoiceID,
		TransactionID:     txnID,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:        timestamp(intent.Created, event.Created),
		RawPayload:        payload,
	}
	if intent.LastPaymentError != nil {
		out.FailureMessage = intent.LastPaymentError.Message
	}
	return out, nil
}

func (a *Adapter) parseRefund(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	tenantID, invoiceID, txnID, err := parseMetadata(charge.Metadata)
	if err != nil {
		return nil, err
	}

	amount := charge.AmountRefunded
	if amount <= 0 {
		amount = charge.Amount
	}
	return &paymentdomain.PaymentEvent{
		Provider:          providerName,
		ProviderEventID:   event.ID,
		ProviderEventType: event.Type,
		ProviderPaymentID: charge.PaymentIntent,
		ProviderChargeID:  charge.ID,
		Type:              paymentdomain.EventTypeRefunded,
		TenantID:          tenantID,
		InvoiceID:         invoiceID,
		TransactionID:     txnID,
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(charge.Currency)),
		FullyRefunded:     charge.Refunded,
		OccurredAt:        timestamp(charge.Created, event.Created),
		RawPayload:        payload,
	}, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	var ts string
	signatures := []string{}
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "t":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return ts, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

// parseMetadata reads the references attached when the charge was created.
// tenant_id is mandatory; malformed ids are treated as absent.
func parseMetadata(metadata map[string]any) (string, *snowflake.ID, *snowflake.ID, error) {
	tenantID := readMetadataValue(metadata, "tenant_id")
	if tenantID == "" {
		return "", nil, nil, paymentdomain.ErrInvalidTenant
	}
	return tenantID, readMetadataID(metadata, "invoice_id"), readMetadataID(metadata, "transaction_id"), nil
}

func readMetadataID(metadata map[string]any, key string) *snowflake.ID {
	raw := readMetadataValue(metadata, key)
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
