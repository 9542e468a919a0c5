package pontisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// Client is a typed HTTP client for the Ponti attention service. It carries
// the session and CSRF cookies in a jar, echoes the CSRF token back as a
// header, and normalizes HTTP failures into tagged results instead of
// errors unless the caller opts out. One attempt per call, no retries.
type Client struct {
	BaseURL    string
	LoginPath  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

const (
	csrfCookieName = "XSRF-TOKEN"
	csrfHeaderName = "X-XSRF-TOKEN"
)

// New creates a client with a cookie jar and sane defaults.
func New(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:   baseURL,
		LoginPath: "/login",
		HTTPClient: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
		Timeout: 10 * time.Second,
	}
}

// RequestOptions mirrors the per-call switches of the service contract.
// Zero values give the default behavior: results are normalized and a 401
// produces a SessionExpiredError pointing at the login page.
type RequestOptions struct {
	// RawError disables failure normalization: any non-2xx response is
	// returned as an *APIError carrying the serialized body.
	RawError bool
	// NoLoginRedirect suppresses the SessionExpiredError on 401; the
	// response is then handled like any other failure.
	NoLoginRedirect bool
	// NoAPIPrefix addresses the path relative to the host root instead of
	// the /api/ mount.
	NoAPIPrefix bool
	Headers     map[string]string
}

// Result is the tagged outcome of a normalized call.
type Result struct {
	OK    bool
	Data  json.RawMessage
	Error string
}

// APIError wraps a non-2xx response when normalization is disabled.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SessionExpiredError reports a 401. LoginURL carries the original request
// URL as the return target, ready for client-side navigation.
type SessionExpiredError struct {
	LoginURL string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("session expired: login at %s", e.LoginURL)
}

// Ticket is the live queue document shape served by the API.
type Ticket struct {
	ID             string  `json:"id"`
	State          string  `json:"state"`
	PositionID     string  `json:"attentionPositionId"`
	PositionName   string  `json:"attentionPositionName"`
	BusinessID     string  `json:"attentionPositionBusinessId"`
	BusinessName   string  `json:"attentionPositionBusinessName"`
	DocumentID     string  `json:"personDocumentId"`
	FirstNames     string  `json:"personFirstNames"`
	LastNames      string  `json:"personLastNames"`
	Email          string  `json:"personEmail,omitempty"`
	Career         string  `json:"personCareer,omitempty"`
	PeriodName     string  `json:"personPeriodName,omitempty"`
	Gender         string  `json:"personGender,omitempty"`
	CreatedAt      string  `json:"created_at"`
	CreatedAtDate  string  `json:"created_at_date"`
	UpdatedAt      *string `json:"updated_at"`
	WaitedUntil    *string `json:"waitedUntil,omitempty"`
	TransferReason string  `json:"transferReason,omitempty"`
	Version        int     `json:"version"`
}

// Position identifies a destination counter for transfers.
type Position struct {
	ID           string
	Name         string
	BusinessID   string
	BusinessName string
}

// CreateTicketParams is the kiosk-side ticket creation payload. State and
// timestamps are owned by the server; there is no way to set them here.
type CreateTicketParams struct {
	RequestID  string
	Position   Position
	DocumentID string
	FirstNames string
	LastNames  string
	Email      string
	Career     string
	PeriodName string
	Gender     string
}

// FinishResult is the two-part outcome of finishing a ticket.
type FinishResult struct {
	Ticket    Ticket          `json:"ticket"`
	Attention json.RawMessage `json:"attention"`
}

func (c *Client) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}
	res, err := c.Post(ctx, "login", body, RequestOptions{})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("login failed: %s", res.Error)
	}
	return nil
}

func (c *Client) CreateTicket(ctx context.Context, params CreateTicketParams) (Ticket, error) {
	body := map[string]string{
		"request_id":                    params.RequestID,
		"attentionPositionId":           params.Position.ID,
		"attentionPositionName":         params.Position.Name,
		"attentionPositionBusinessId":   params.Position.BusinessID,
		"attentionPositionBusinessName": params.Position.BusinessName,
		"personDocumentId":              params.DocumentID,
		"personFirstNames":              params.FirstNames,
		"personLastNames":               params.LastNames,
		"personEmail":                   params.Email,
		"personCareer":                  params.Career,
		"personPeriodName":              params.PeriodName,
		"personGender":                  params.Gender,
	}
	return c.ticketCall(ctx, http.MethodPost, "tickets", body)
}

func (c *Client) GetTicket(ctx context.Context, ticketID string) (Ticket, error) {
	return c.ticketCall(ctx, http.MethodGet, "tickets/"+url.PathEscape(ticketID), nil)
}

func (c *Client) CallTicket(ctx context.Context, ticketID string, version int) (Ticket, error) {
	return c.actionCall(ctx, ticketID, "call", map[string]any{"version": version})
}

func (c *Client) AttendTicket(ctx context.Context, ticketID string, version int) (Ticket, error) {
	return c.actionCall(ctx, ticketID, "attend", map[string]any{"version": version})
}

func (c *Client) CancelTicket(ctx context.Context, ticketID string, version int) (Ticket, error) {
	return c.actionCall(ctx, ticketID, "cancel", map[string]any{"version": version})
}

func (c *Client) TransferTicket(ctx context.Context, ticketID string, position Position, reason string, version int) (Ticket, error) {
	return c.actionCall(ctx, ticketID, "transfer", map[string]any{
		"version":                       version,
		"reason":                        reason,
		"attentionPositionId":           position.ID,
		"attentionPositionName":         position.Name,
		"attentionPositionBusinessId":   position.BusinessID,
		"attentionPositionBusinessName": position.BusinessName,
	})
}

// FinishTicket persists the durable attention record and moves the ticket to
// attended. Failures are returned as raw errors so the caller can tell the
// ticket kept its prior state.
func (c *Client) FinishTicket(ctx context.Context, ticketID, description string, version int) (FinishResult, error) {
	body := map[string]any{"version": version, "description": description}
	var out FinishResult
	res, err := c.Post(ctx, "tickets/"+url.PathEscape(ticketID)+"/actions/finish", body, RequestOptions{RawError: true})
	if err != nil {
		return FinishResult{}, err
	}
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return FinishResult{}, err
	}
	return out, nil
}

func (c *Client) DeleteTicket(ctx context.Context, ticketID string) error {
	res, err := c.Delete(ctx, "tickets/"+url.PathEscape(ticketID), RequestOptions{})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("delete ticket: %s", res.Error)
	}
	return nil
}

func (c *Client) Snapshot(ctx context.Context, businessID, positionID string) ([]Ticket, error) {
	endpoint := "tickets/snapshot"
	query := url.Values{}
	if businessID != "" {
		query.Set("business_id", businessID)
	}
	if positionID != "" {
		query.Set("position_id", positionID)
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	res, err := c.Get(ctx, endpoint, RequestOptions{})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("snapshot: %s", res.Error)
	}
	var tickets []Ticket
	if err := json.Unmarshal(res.Data, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (c *Client) ticketCall(ctx context.Context, method, endpoint string, body any) (Ticket, error) {
	res, err := c.Do(ctx, method, endpoint, body, RequestOptions{})
	if err != nil {
		return Ticket{}, err
	}
	if !res.OK {
		return Ticket{}, fmt.Errorf("%s %s: %s", method, endpoint, res.Error)
	}
	var ticket Ticket
	if err := json.Unmarshal(res.Data, &ticket); err != nil {
		return Ticket{}, err
	}
	return ticket, nil
}

func (c *Client) actionCall(ctx context.Context, ticketID, action string, body map[string]any) (Ticket, error) {
	return c.ticketCall(ctx, http.MethodPost, "tickets/"+url.PathEscape(ticketID)+"/actions/"+action, body)
}

func (c *Client) Get(ctx context.Context, endpoint string, opts RequestOptions) (Result, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil, opts)
}

func (c *Client) Post(ctx context.Context, endpoint string, body any, opts RequestOptions) (Result, error) {
	return c.Do(ctx, http.MethodPost, endpoint, body, opts)
}

func (c *Client) Put(ctx context.Context, endpoint string, body any, opts RequestOptions) (Result, error) {
	return c.Do(ctx, http.MethodPut, endpoint, body, opts)
}

func (c *Client) Delete(ctx context.Context, endpoint string, opts RequestOptions) (Result, error) {
	return c.Do(ctx, http.MethodDelete, endpoint, nil, opts)
}

// Image posts a raw body, typically a multipart form. No Content-Type is
// forced so the caller's boundary header survives.
func (c *Client) Image(ctx context.Context, endpoint string, body io.Reader, contentType string, opts RequestOptions) (Result, error) {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body, opts)
	if err != nil {
		return Result{}, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.send(req, opts)
}

// Do issues one JSON request and normalizes the outcome.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, opts RequestOptions) (Result, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return Result{}, err
		}
	}
	req, err := c.newRequest(ctx, method, endpoint, &buf, opts)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, opts)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, opts RequestOptions) (*http.Request, error) {
	prefix := "/api/"
	if opts.NoAPIPrefix {
		prefix = "/"
	}
	fullURL := strings.TrimRight(c.BaseURL, "/") + prefix + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token := c.csrfToken(); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// csrfToken reads the CSRF cookie from the jar and reverses the URL
// encoding the cookie writer applied.
func (c *Client) csrfToken() string {
	if c.HTTPClient == nil || c.HTTPClient.Jar == nil {
		return ""
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.HTTPClient.Jar.Cookies(base) {
		if cookie.Name != csrfCookieName {
			continue
		}
		decoded, err := url.QueryUnescape(cookie.Value)
		if err != nil {
			return cookie.Value
		}
		return decoded
	}
	return ""
}

func (c *Client) send(req *http.Request, opts RequestOptions) (Result, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Transport failures propagate as-is; only HTTP-level failures are
		// normalized.
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !opts.NoLoginRedirect {
		return Result{}, &SessionExpiredError{LoginURL: c.loginURL(req.URL.String())}
	}
	if resp.StatusCode >= 300 {
		if opts.RawError {
			return Result{}, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		}
		return Result{OK: false, Error: errorMessage(raw)}, nil
	}
	return Result{OK: true, Data: raw}, nil
}

func (c *Client) loginURL(current string) string {
	path := c.LoginPath
	if path == "" {
		path = "/login"
	}
	return path + "?redirectURL=" + url.QueryEscape(current)
}

// errorMessage digs the human-readable message out of a failure body. Every
// shape falls back to the serialized body so no failure is ever silent.
func errorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	var plain struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &plain); err == nil && plain.Error != "" {
		return plain.Error
	}
	var message string
	if err := json.Unmarshal(raw, &message); err == nil && message != "" {
		return message
	}
	return strings.TrimSpace(string(raw))
}
