package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/client"
	"github.com/stripe/stripe-go/webhook"
)

// Stripe implements Gateway with stripe-go.  Each instance owns its API
// client so tests and tools can run against different keys.
type Stripe struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	log           *zerolog.Logger
}

// StripeConfig carries the keys and redirect URLs of the account.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// NewStripe returns a Stripe gateway.
func NewStripe(cfg StripeConfig, log *zerolog.Logger) *Stripe {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Stripe{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		log:           log,
	}
}

// FindOrCreateCustomer returns the id of the first customer with email,
// creating one when none exists.
func (s *Stripe) FindOrCreateCustomer(ctx context.Context, email, name string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	lp := &stripe.CustomerListParams{Email: stripe.String(email)}
	lp.Context = ctx
	lp.Filters.AddFilter("limit", "", "1")
	it := s.api.Customers.List(lp)
	for it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}
	p := &stripe.CustomerParams{Email: stripe.String(email)}
	if name != "" {
		p.Name = stripe.String(name)
	}
	p.Context = ctx
	p.SetIdempotencyKey("customer-" + email)
	c, err := s.api.Customers.New(p)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	s.log.Info().Str("customer", c.ID).Str("email", email).Msg("stripe customer created")
	return c.ID, nil
}

// CreateCheckoutSession opens a card checkout for one line item.  The same
// metadata is written on the payment intent so payments can be traced back
// from either object.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	p := &stripe.CheckoutSessionParams{
		SuccessURL:         stripe.String(s.successURL),
		CancelURL:          stripe.String(s.cancelURL),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		ClientReferenceID:  stripe.String(req.ClientReferenceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Name:     stripe.String(req.ProductName),
			Amount:   stripe.Int64(req.AmountCents),
			Currency: stripe.String(strings.ToLower(req.Currency)),
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Description: stripe.String(req.Description),
		},
	}
	if req.Description != "" {
		p.LineItems[0].Description = stripe.String(req.Description)
	}
	if req.CustomerID != "" {
		p.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		p.CustomerEmail = stripe.String(req.Email)
	}
	piMeta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		p.AddMetadata(k, v)
		piMeta[k] = v
	}
	p.PaymentIntentData.Metadata = piMeta
	p.Context = ctx
	if req.IdempotencyKey != "" {
		p.SetIdempotencyKey(req.IdempotencyKey)
	}
	cs, err := s.api.CheckoutSessions.New(p)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	out := fromCheckoutSession(cs)
	out.AmountCents, out.Currency = req.AmountCents, strings.ToLower(req.Currency)
	if out.Email == "" {
		out.Email = req.Email
	}
	return out, nil
}

// GetSession loads a session with its payment intent expanded.
func (s *Stripe) GetSession(ctx context.Context, id string) (*Session, error) {
	p := &stripe.CheckoutSessionParams{}
	p.Context = ctx
	p.AddExpand("payment_intent")
	cs, err := s.api.CheckoutSessions.Get(id, p)
	if err != nil {
		return nil, fmt.Errorf("get checkout session %s: %w", id, err)
	}
	return fromCheckoutSession(cs), nil
}

// FindSessionByPaymentIntent returns the session that created a payment
// intent, or nil when there is none.
func (s *Stripe) FindSessionByPaymentIntent(ctx context.Context, paymentIntentID string) (*Session, error) {
	lp := &stripe.CheckoutSessionListParams{PaymentIntent: stripe.String(paymentIntentID)}
	lp.Context = ctx
	it := s.api.CheckoutSessions.List(lp)
	for it.Next() {
		return s.GetSession(ctx, it.CheckoutSession().ID)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", paymentIntentID, err)
	}
	return nil, nil
}

// FindPaidSessionsByEmail walks customers with email, their succeeded
// payment intents and the sessions behind them.  Payment intents created
// outside checkout are returned with an empty session id.
func (s *Stripe) FindPaidSessionsByEmail(ctx context.Context, email string) ([]Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	clp := &stripe.CustomerListParams{Email: stripe.String(email)}
	clp.Context = ctx
	var out []Session
	cit := s.api.Customers.List(clp)
	for cit.Next() {
		cust := cit.Customer()
		plp := &stripe.PaymentIntentListParams{Customer: stripe.String(cust.ID)}
		plp.Context = ctx
		pit := s.api.PaymentIntents.List(plp)
		for pit.Next() {
			pi := pit.PaymentIntent()
			if pi.Status != stripe.PaymentIntentStatusSucceeded {
				continue
			}
			sess, err := s.FindSessionByPaymentIntent(ctx, pi.ID)
			if err != nil {
				return out, err
			}
			if sess == nil {
				sess = &Session{PaymentIntentID: pi.ID, Paid: true, CustomerID: cust.ID,
					AmountCents: pi.Amount, Currency: string(pi.Currency), Metadata: pi.Metadata}
			}
			if sess.Email == "" {
				sess.Email = email
			}
			out = append(out, *sess)
		}
		if err := pit.Err(); err != nil {
			return out, fmt.Errorf("list payment intents for %s: %w", cust.ID, err)
		}
	}
	if err := cit.Err(); err != nil {
		return out, fmt.Errorf("list customers: %w", err)
	}
	return out, nil
}

// ParseWebhook verifies the signature header and decodes checkout session
// events from the raw object, independent of the SDK's struct version.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	ev, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	out := &WebhookEvent{ID: ev.ID, Type: ev.Type}
	if strings.HasPrefix(ev.Type, "checkout.session.") && ev.Data != nil {
		sess, err := decodeSession(ev.Data.Raw, ev.Type)
		if err != nil {
			return nil, err
		}
		out.Session = sess
	}
	return out, nil
}

func fromCheckoutSession(cs *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:                cs.ID,
		Email:             cs.CustomerEmail,
		Metadata:          cs.Metadata,
		ClientReferenceID: cs.ClientReferenceID,
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
		if out.Email == "" {
			out.Email = cs.Customer.Email
		}
	}
	if pi := cs.PaymentIntent; pi != nil {
		out.PaymentIntentID = pi.ID
		out.Paid = pi.Status == stripe.PaymentIntentStatusSucceeded
		out.Expired = pi.Status == stripe.PaymentIntentStatusCanceled
		out.AmountCents, out.Currency = pi.Amount, string(pi.Currency)
	}
	return out
}

// rawSession is the part of a checkout.session object that webhooks need.
// Expandable fields may arrive as an id or as an object.
type rawSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          json.RawMessage   `json:"customer"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *customerDetails  `json:"customer_details"`
	PaymentIntent     json.RawMessage   `json:"payment_intent"`
	PaymentStatus     string            `json:"payment_status"`
	Status            string            `json:"status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
}

type customerDetails struct {
	Email string `json:"email"`
}

func decodeSession(raw []byte, eventType string) (*Session, error) {
	var rs rawSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	out := &Session{
		ID:                rs.ID,
		CustomerID:        expandableID(rs.Customer),
		PaymentIntentID:   expandableID(rs.PaymentIntent),
		Email:             rs.CustomerEmail,
		AmountCents:       rs.AmountTotal,
		Currency:          rs.Currency,
		Metadata:          rs.Metadata,
		ClientReferenceID: rs.ClientReferenceID,
	}
	if out.Email == "" && rs.CustomerDetails != nil {
		out.Email = rs.CustomerDetails.Email
	}
	switch rs.PaymentStatus {
	case "paid", "no_payment_required":
		out.Paid = true
	case "":
		// accounts on API versions without payment_status only observe
		// async payments through their own events
		out.Paid = eventType == EventSessionCompleted || eventType == EventAsyncPaymentSucceded
	}
	out.Expired = rs.Status == "expired" || eventType == EventSessionExpired
	return out, nil
}

func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return ""
}
