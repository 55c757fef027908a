package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/sirupsen/logrus"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type SessionLine struct {
	Name       string
	UnitAmount int64
	Quantity   int
}

// SessionRequest is everything the gateway needs to open a hosted checkout page.
type SessionRequest struct {
	Lines      []SessionLine
	Currency   string
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
	ExpiresAt  time.Time
}

type Session struct {
	ID  string
	URL string
}

type Gateway interface {
	CreateSession(ctx context.Context, req *SessionRequest) (*Session, error)
}

type Builder struct {
	cfg config.CheckoutConfig
	now func() time.Time
}

func NewBuilder(cfg config.CheckoutConfig) *Builder {
	return &Builder{cfg: cfg, now: time.Now}
}

// Build turns a validated cart into a gateway request. Shipping is sent as
// its own line so the gateway total equals cart.Total.
func (b *Builder) Build(cart *ValidatedCart) (*SessionRequest, error) {
	metadata, err := EncodeIntent(cart.Intent())
	if err != nil {
		return nil, err
	}

	lines := make([]SessionLine, 0, len(cart.Lines)+1)
	for _, line := range cart.Lines {
		lines = append(lines, SessionLine{
			Name:       line.Name,
			UnitAmount: line.UnitPrice,
			Quantity:   line.Quantity,
		})
	}
	lines = append(lines, SessionLine{
		Name:       cart.Zone.Label(),
		UnitAmount: cart.Shipping,
		Quantity:   1,
	})

	return &SessionRequest{
		Lines:      lines,
		Currency:   cart.Currency,
		Metadata:   metadata,
		SuccessURL: b.cfg.SuccessURL,
		CancelURL:  b.cfg.CancelURL,
		ExpiresAt:  b.now().Add(b.cfg.SessionTTL),
	}, nil
}

type Result struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
	Total       int64  `json:"total"`
	Currency    string `json:"currency"`
}

type Service struct {
	validator *Validator
	builder   *Builder
	gateway   Gateway
	log       logrus.FieldLogger
}

func NewService(validator *Validator, builder *Builder, gateway Gateway, log logrus.FieldLogger) *Service {
	return &Service{
		validator: validator,
		builder:   builder,
		gateway:   gateway,
		log:       log,
	}
}

// CreateCheckout validates the cart and opens a gateway session for it.
// Inventory is not reserved.
func (s *Service) CreateCheckout(ctx context.Context, req CartRequest) (*Result, error) {
	cart, err := s.validator.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	sessionReq, err := s.builder.Build(cart)
	if err != nil {
		return nil, fmt.Errorf("build session: %w", err)
	}

	session, err := s.gateway.CreateSession(ctx, sessionReq)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"session_id": session.ID,
		"lines":      len(cart.Lines),
		"total":      cart.Total,
		"zone":       cart.Zone,
	}).Info("checkout session created")

	return &Result{
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Total:       cart.Total,
		Currency:    cart.Currency,
	}, nil
}
