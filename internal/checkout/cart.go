package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

// CartRequest is the cart as posted by the client. Prices are never read from it.
type CartRequest struct {
	Items        []CartItem `json:"items" validate:"required,min=1"`
	ShippingZone string     `json:"shippingZone" validate:"required"`
}

type CartItem struct {
	ID string `json:"id" validate:"required,productid"`
	// Quantity is kept raw so strings, booleans and fractions can be rejected
	// per line instead of failing the whole body decode.
	Quantity json.RawMessage `json:"quantity"`
}

type Line struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Subtotal  int64  `json:"subtotal"`
}

// ValidatedCart holds lines priced from the catalog. Amounts are minor units.
type ValidatedCart struct {
	Lines    []Line `json:"lines"`
	Zone     Zone   `json:"shippingZone"`
	Shipping int64  `json:"shipping"`
	Subtotal int64  `json:"subtotal"`
	Total    int64  `json:"total"`
	Currency string `json:"currency"`
}

func (c *ValidatedCart) Intent() Intent {
	lines := make([]IntentLine, len(c.Lines))
	for n, line := range c.Lines {
		lines[n] = IntentLine{ProductID: line.ProductID, Quantity: line.Quantity}
	}
	return Intent{Lines: lines, Zone: c.Zone}
}

// Problem describes one rejected line. Line is 1-based; zero means the
// problem concerns the whole cart.
type Problem struct {
	Line    int    `json:"line,omitempty"`
	ID      string `json:"id,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	messages := make([]string, len(e.Problems))
	for n, p := range e.Problems {
		if p.ID != "" {
			messages[n] = fmt.Sprintf("%s: %s", p.ID, p.Message)
		} else {
			messages[n] = p.Message
		}
	}
	return "invalid cart: " + strings.Join(messages, "; ")
}

type Catalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*models.Product, error)
}

type Validator struct {
	catalog     Catalog
	validate    *validator.Validate
	currency    string
	maxQuantity int
	maxLines    int
}

func NewValidator(catalog Catalog, cfg config.CheckoutConfig) *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	err := validate.RegisterValidation("productid", func(fl validator.FieldLevel) bool {
		return productIDPattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(fmt.Sprintf("register productid validation: %v", err))
	}

	return &Validator{
		catalog:     catalog,
		validate:    validate,
		currency:    cfg.Currency,
		maxQuantity: cfg.MaxQuantity,
		maxLines:    cfg.MaxLines,
	}
}

type pendingLine struct {
	line     int
	id       string
	quantity int
}

// Validate prices the cart from the catalog. It returns *ValidationError
// listing every bad line, or a plain error when the catalog cannot be read.
func (v *Validator) Validate(ctx context.Context, req CartRequest) (*ValidatedCart, error) {
	var problems []Problem

	if err := v.validate.Struct(req); err != nil {
		problems = append(problems, requestProblems(err)...)
	}
	if len(req.Items) > v.maxLines {
		problems = append(problems, Problem{
			Field:   "items",
			Message: fmt.Sprintf("a cart holds at most %d lines", v.maxLines),
		})
	}

	zone, ok := ParseZone(req.ShippingZone)
	if req.ShippingZone != "" && !ok {
		problems = append(problems, Problem{
			Field:   "shippingZone",
			Message: fmt.Sprintf("unknown shipping zone %q", req.ShippingZone),
		})
	}

	var pending []*pendingLine
	byID := make(map[string]*pendingLine, len(req.Items))
	for n, item := range req.Items {
		lineNo := n + 1

		if err := v.validate.Struct(item); err != nil {
			problems = append(problems, Problem{
				Line:    lineNo,
				ID:      item.ID,
				Field:   "id",
				Message: "product id must be 1-64 letters, digits, '-' or '_'",
			})
			continue
		}

		quantity, msg := parseQuantity(item.Quantity, v.maxQuantity)
		if msg != "" {
			problems = append(problems, Problem{Line: lineNo, ID: item.ID, Field: "quantity", Message: msg})
			continue
		}

		if existing, ok := byID[item.ID]; ok {
			existing.quantity += quantity
			continue
		}
		p := &pendingLine{line: lineNo, id: item.ID, quantity: quantity}
		byID[item.ID] = p
		pending = append(pending, p)
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.id)
	}

	products, err := v.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	cart := &ValidatedCart{Zone: zone, Currency: v.currency}
	for _, p := range pending {
		product, ok := products[p.id]
		switch {
		case !ok:
			problems = append(problems, Problem{Line: p.line, ID: p.id, Field: "id", Message: "product does not exist"})
			continue
		case product.Status != models.ProductStatusAvailable:
			problems = append(problems, Problem{Line: p.line, ID: p.id, Field: "id", Message: "product is no longer available"})
			continue
		case p.quantity > v.maxQuantity:
			problems = append(problems, Problem{
				Line:    p.line,
				ID:      p.id,
				Field:   "quantity",
				Message: fmt.Sprintf("quantity must be at most %d", v.maxQuantity),
			})
			continue
		}

		subtotal := product.PriceCents * int64(p.quantity)
		cart.Lines = append(cart.Lines, Line{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.PriceCents,
			Quantity:  p.quantity,
			Subtotal:  subtotal,
		})
		cart.Subtotal += subtotal
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	cart.Shipping = zone.Cost()
	cart.Total = cart.Subtotal + cart.Shipping
	return cart, nil
}

func requestProblems(err error) []Problem {
	var problems []Problem

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Problem{{Field: "body", Message: err.Error()}}
	}

	for _, fe := range fieldErrs {
		switch fe.Field() {
		case "Items":
			problems = append(problems, Problem{Field: "items", Message: "cart must contain at least one item"})
		case "ShippingZone":
			problems = append(problems, Problem{Field: "shippingZone", Message: "shipping zone is required"})
		default:
			problems = append(problems, Problem{Field: fe.Field(), Message: fe.Error()})
		}
	}

	return problems
}

// maxQuantityDigits bounds the magnitude of a quantity literal before any
// arbitrary-precision arithmetic runs on it.
const maxQuantityDigits = 18

// parseQuantity returns the quantity or a message explaining why raw is not
// a whole number in [1, max].
func parseQuantity(raw json.RawMessage, max int) (int, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, "quantity is required"
	}
	if trimmed[0] == '"' {
		return 0, "quantity must be a number"
	}

	d, err := decimal.NewFromString(string(trimmed))
	if err != nil {
		return 0, "quantity must be a number"
	}
	// Exponent literals such as 1e9999999 are tiny on the wire but expand to
	// huge big.Int values once compared or checked for a fraction.
	if exp := int(d.Exponent()); exp > 0 && d.NumDigits()+exp > maxQuantityDigits {
		return 0, fmt.Sprintf("quantity must be at most %d", max)
	} else if exp < -maxQuantityDigits {
		return 0, "quantity must be a whole number"
	}
	if !d.IsInteger() {
		return 0, "quantity must be a whole number"
	}
	if d.LessThan(decimal.NewFromInt(1)) {
		return 0, "quantity must be at least 1"
	}
	if d.GreaterThan(decimal.NewFromInt(int64(max))) {
		return 0, fmt.Sprintf("quantity must be at most %d", max)
	}

	return int(d.IntPart()), ""
}
