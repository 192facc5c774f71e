package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 64 * 1024

// HTTPClient is a Client for a REST card processor exposing saved cards,
// saved-card tokens and charges.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a REST gateway client. Timeouts are enforced here and
// surface to callers as transport errors.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// wire shapes. The processor is inconsistent across endpoints and API
// versions, so every field that has been seen under two names is decoded from both.

type wireCard struct {
	ID             string `json:"id"`
	CardID         string `json:"card_id"`
	Name           string `json:"name"`
	CardholderName string `json:"cardholder_name"`
	IsDefault      bool   `json:"is_default"`
	Default        bool   `json:"default"`
}

func (c wireCard) normalize() *Card {
	card := &Card{ID: c.ID, CardholderName: c.Name}
	if card.ID == "" {
		card.ID = c.CardID
	}
	if card.CardholderName == "" {
		card.CardholderName = c.CardholderName
	}
	return card
}

type wireStatus struct {
	value string
}

func (s *wireStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		s.value = str
		return nil
	}
	var obj struct {
		Code   string `json:"code"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.value = obj.Code
	if s.value == "" {
		s.value = obj.Status
	}
	return nil
}

type wireCharge struct {
	ID      string     `json:"id"`
	OrderID string     `json:"order_id"`
	Status  wireStatus `json:"status"`
	Order   *struct {
		ID string `json:"id"`
	} `json:"order"`
}

type wireError struct {
	Message     string `json:"message"`
	Error       string `json:"error"`
	Description string `json:"description"`
	Errors      []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (e wireError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Description != "":
		return e.Description
	case e.Error != "":
		return e.Error
	case len(e.Errors) > 0:
		return strings.TrimSpace(e.Errors[0].Code + " " + e.Errors[0].Description)
	}
	return ""
}

// DefaultCard returns the customer's default card, falling back to the first card listed.
func (c *HTTPClient) DefaultCard(ctx context.Context, customerRef string) (*Card, error) {
	if customerRef == "" {
		return nil, newError(KindMissingCustomer, "no gateway customer reference", nil)
	}

	status, body, err := c.do(ctx, http.MethodGet, "/v2/card/"+url.PathEscape(customerRef), nil, "")
	if err != nil {
		return nil, newError(KindTransport, "listing cards", err)
	}
	if status == http.StatusNotFound {
		return nil, ErrNoCard
	}
	if status >= 400 {
		return nil, newError(kindForStatus(status, KindNoCard), "listing cards: "+errorText(status, body), nil)
	}

	cards, err := decodeCards(body)
	if err != nil {
		return nil, newError(KindTransport, "decoding card list", err)
	}
	if len(cards) == 0 {
		return nil, ErrNoCard
	}
	for _, wc := range cards {
		if wc.IsDefault || wc.Default {
			return wc.normalize(), nil
		}
	}
	return cards[0].normalize(), nil
}

// decodeCards accepts both a bare array and a {"data": [...]} envelope.
func decodeCards(body []byte) ([]wireCard, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var cards []wireCard
		if err := json.Unmarshal(trimmed, &cards); err != nil {
			return nil, err
		}
		return cards, nil
	}
	var envelope struct {
		Data  []wireCard `json:"data"`
		Cards []wireCard `json:"cards"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) > 0 {
		return envelope.Data, nil
	}
	return envelope.Cards, nil
}

// TokenizeCard requests a short-lived token for a saved card.
func (c *HTTPClient) TokenizeCard(ctx context.Context, customerRef, cardID, cardholderName string) (*Token, error) {
	payload := map[string]any{
		"saved_card": map[string]string{
			"card_id":     cardID,
			"customer_id": customerRef,
		},
		"name": cardholderName,
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v2/tokens", payload, "")
	if err != nil {
		return nil, newError(KindTransport, "requesting token", err)
	}
	if status >= 400 {
		return nil, newError(kindForStatus(status, KindTokenization), "requesting token: "+errorText(status, body), nil)
	}

	var resp struct {
		ID    string `json:"id"`
		Token *struct {
			ID string `json:"id"`
		} `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, newError(KindTokenization, "decoding token", err)
	}
	id := resp.ID
	if id == "" && resp.Token != nil {
		id = resp.Token.ID
	}
	if id == "" {
		return nil, newError(KindTokenization, "token missing from response", nil)
	}
	return &Token{ID: id}, nil
}

// Charge submits a charge. The idempotency key is sent both as a header and in
// the charge reference so the processor deduplicates retries of the same cycle.
func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payload := map[string]any{
		"amount":      json.Number(formatMinor(req.Amount)),
		"currency":    req.Currency,
		"description": req.Description,
		"customer":    map[string]string{"id": req.CustomerRef},
		"source":      map[string]string{"id": req.Token},
		"reference": map[string]string{
			"transaction": uuid.NewString(),
			"idempotent":  req.IdempotencyKey,
		},
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v2/charges", payload, req.IdempotencyKey)
	if err != nil {
		return nil, newError(KindTransport, "submitting charge", err)
	}
	if status >= 400 {
		return nil, newError(kindForStatus(status, KindDeclined), "charge rejected: "+errorText(status, body), nil)
	}

	var wc wireCharge
	if err := json.Unmarshal(body, &wc); err != nil {
		return nil, newError(KindTransport, "decoding charge", err)
	}

	result := &ChargeResult{OrderID: wc.ID, Status: normalizeStatus(wc.Status.value)}
	if wc.Order != nil && wc.Order.ID != "" {
		result.OrderID = wc.Order.ID
	} else if wc.OrderID != "" {
		result.OrderID = wc.OrderID
	}

	switch result.Status {
	case ChargeCaptured:
		c.logger.Info("gateway charge captured",
			"order_id", result.OrderID,
			"amount", req.Amount,
			"idempotency_key", req.IdempotencyKey,
		)
		return result, nil
	case ChargePending:
		return nil, newError(KindDeclined, fmt.Sprintf("charge %s not confirmed synchronously", result.OrderID), nil)
	default:
		return nil, newError(KindDeclined, fmt.Sprintf("charge %s %s", result.OrderID, wc.Status.value), nil)
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any, idempotencyKey string) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func kindForStatus(status int, clientErrKind ErrorKind) ErrorKind {
	if status >= 500 || status == http.StatusTooManyRequests {
		return KindTransport
	}
	return clientErrKind
}

func errorText(status int, body []byte) string {
	var we wireError
	if err := json.Unmarshal(body, &we); err == nil {
		if text := we.text(); text != "" {
			return text
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

func normalizeStatus(raw string) ChargeStatus {
	switch strings.ToUpper(raw) {
	case "CAPTURED", "SUCCEEDED", "PAID", "SUCCESS":
		return ChargeCaptured
	case "INITIATED", "IN_PROGRESS", "PENDING", "AUTHORIZED":
		return ChargePending
	default:
		return ChargeDeclined
	}
}

// formatMinor renders minor units as a two-decimal major amount.
func formatMinor(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
