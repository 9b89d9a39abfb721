// Package ledger talks to the parking ledger over HTTP.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/valyala/fasthttp"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
	"github.com/fairyhunter13/parking-session-engine/internal/service"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "parking-session-engine"
)

// Doer is the subset of *fasthttp.Client used by Client.
type Doer interface {
	DoTimeout(req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error
}

// Client implements service.Ledger against the ledger's HTTP API.
type Client struct {
	baseURL string
	http    Doer
	timeout time.Duration
}

// NewClient creates a Client for the ledger at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithDoer(baseURL, &fasthttp.Client{
		Name:                   userAgent,
		MaxConnsPerHost:        64,
		MaxIdleConnDuration:    30 * time.Second,
		DisablePathNormalizing: true,
	}, timeout)
}

// NewClientWithDoer creates a Client with a custom transport.
// This is primarily used for testing.
func NewClientWithDoer(baseURL string, doer Doer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		timeout: timeout,
	}
}

// errorBody is what the ledger sends on failure. Older ledgers only set message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// fallbacks name the sentinel for a bare status when the body carries no code.
type fallbacks struct {
	notFound error
	conflict error
}

type call struct {
	method string
	path   string
	query  map[string]string
	body   any
	want   int
	errs   fallbacks
}

// LookupOpenSession finds the open ticket for a plate.
func (c *Client) LookupOpenSession(ctx context.Context, acct model.Account, plate string) (*model.Ticket, error) {
	var ticket model.Ticket
	err := c.do(ctx, call{
		method: fasthttp.MethodGet,
		path:   "/api/estacionamento/por-placa",
		query:  map[string]string{"placa": plate, "user_id": acct.UserID},
		want:   fasthttp.StatusOK,
		errs:   fallbacks{notFound: service.ErrSessionNotFound},
	}, &ticket)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// OpenSession registers an entry. A zero rate lets the ledger apply its default.
func (c *Client) OpenSession(ctx context.Context, acct model.Account, plate string, ratePerMinute decimal.Decimal) (*model.Ticket, error) {
	req := model.OpenTicketRequest{Plate: plate, UserID: acct.UserID}
	if !ratePerMinute.IsZero() {
		req.RatePerMinute = ratePerMinute.String()
	}

	var ticket model.Ticket
	err := c.do(ctx, call{
		method: fasthttp.MethodPost,
		path:   "/api/estacionamento/entrada",
		body:   req,
		want:   fasthttp.StatusCreated,
		errs:   fallbacks{conflict: service.ErrSessionAlreadyOpen},
	}, &ticket)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// GetFeePreview asks the ledger what the ticket would owe now.
func (c *Client) GetFeePreview(ctx context.Context, acct model.Account, ticketID, discountProgramID string) (*model.Settlement, error) {
	query := map[string]string{"user_id": acct.UserID}
	if discountProgramID != "" {
		query["convenio_id"] = discountProgramID
	}

	var preview model.Settlement
	err := c.do(ctx, call{
		method: fasthttp.MethodGet,
		path:   "/api/estacionamento/" + url.PathEscape(ticketID) + "/resumo",
		query:  query,
		want:   fasthttp.StatusOK,
		errs:   fallbacks{notFound: service.ErrSessionNotFound, conflict: service.ErrSessionAlreadyClosed},
	}, &preview)
	if err != nil {
		return nil, err
	}
	if preview.TicketID == "" {
		preview.TicketID = ticketID
	}
	return &preview, nil
}

// ListDiscountPrograms returns the discount programs of the account.
func (c *Client) ListDiscountPrograms(ctx context.Context, acct model.Account) ([]model.DiscountProgram, error) {
	programs := []model.DiscountProgram{}
	err := c.do(ctx, call{
		method: fasthttp.MethodGet,
		path:   "/api/convenios",
		query:  map[string]string{"user_id": acct.UserID},
		want:   fasthttp.StatusOK,
	}, &programs)
	if err != nil {
		return nil, err
	}
	return programs, nil
}

// CloseSession settles the ticket. The ledger's answer is final.
func (c *Client) CloseSession(ctx context.Context, acct model.Account, ticketID string, req service.CloseRequest) (*model.Settlement, error) {
	var resp model.CloseTicketResponse
	err := c.do(ctx, call{
		method: fasthttp.MethodPatch,
		path:   "/api/estacionamento/" + url.PathEscape(ticketID) + "/saida",
		body: model.CloseTicketRequest{
			UserID:            acct.UserID,
			PaymentMethod:     req.PaymentMethod,
			DiscountProgramID: req.DiscountProgramID,
		},
		want: fasthttp.StatusOK,
		errs: fallbacks{notFound: service.ErrSessionNotFound, conflict: service.ErrSessionAlreadyClosed},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Ticket.TicketID == "" {
		resp.Ticket.TicketID = ticketID
	}
	return &resp.Ticket, nil
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + cl.path)
	// Ticket ids are escaped into the path and must reach the ledger as sent.
	req.URI().DisablePathNormalizing = true
	req.Header.SetMethod(cl.method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	for k, v := range cl.query {
		req.URI().QueryArgs().Add(k, v)
	}
	if cl.body != nil {
		data, err := json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", cl.method, cl.path, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", cl.method, cl.path, ctxErr)
		}
		log.Warn().Err(err).Str("method", cl.method).Str("path", cl.path).Msg("ledger request failed")
		return fmt.Errorf("%w: %s %s: %w", service.ErrLedgerUnavailable, cl.method, cl.path, err)
	}

	status := resp.StatusCode()
	if status != cl.want && (status < 200 || status >= 300) {
		return c.statusError(cl, status, resp.Body())
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: %s %s: decode response: %w", service.ErrLedgerUnavailable, cl.method, cl.path, err)
	}
	return nil
}

// statusError turns a non-2xx answer into a sentinel, preferring the code in
// the body over the bare status.
func (c *Client) statusError(cl call, status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	msg := eb.Error
	if msg == "" {
		msg = eb.Message
	}
	if msg == "" {
		msg = fasthttp.StatusMessage(status)
	}

	if status >= fasthttp.StatusInternalServerError {
		log.Warn().Int("status", status).Str("path", cl.path).Str("error", msg).Msg("ledger returned server error")
		return fmt.Errorf("%w: %s %s: status %d: %s", service.ErrLedgerUnavailable, cl.method, cl.path, status, msg)
	}

	sentinel := service.ErrorForCode(eb.Code)
	if sentinel == nil {
		switch {
		case status == fasthttp.StatusNotFound && cl.errs.notFound != nil:
			sentinel = cl.errs.notFound
		case status == fasthttp.StatusConflict && cl.errs.conflict != nil:
			sentinel = cl.errs.conflict
		case status == fasthttp.StatusBadRequest || status == fasthttp.StatusUnprocessableEntity:
			sentinel = service.ErrInvalidRequest
		}
	}
	if sentinel == nil {
		return fmt.Errorf("%s %s: unexpected status %d: %s", cl.method, cl.path, status, msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

var _ service.Ledger = (*Client)(nil)

// IsUnavailable reports whether err means the ledger could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, service.ErrLedgerUnavailable)
}
