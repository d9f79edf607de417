package esim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/microsoft/renshu/internal/rollout"
)

// Tool names exposed to the demo agents.
const (
	ToolAskCountryPeriod = "ask_country_period"
	ToolPlanSearch       = "plan_search"
	ToolCostCalculator   = "cost_calculator"
	ToolStatusCheck      = "status_check"
	ToolBookESIM         = "book_esim"
)

// TaxRate is the sales tax applied at checkout.
const TaxRate = 0.08

const tripDateLayout = "2006-01-02"

// FormatPrice renders a USD amount for display.
func FormatPrice(v float64) string { return fmt.Sprintf("$%.2f", v) }

// decodeArgs decodes tool arguments. JSON numbers arrive as float64, so
// decoding is weakly typed to fill int fields.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }

// DaysBetween returns the trip length between two YYYY-MM-DD dates. Same-day
// trips count as one day.
func DaysBetween(start, end string) (int, error) {
	from, err := time.Parse(tripDateLayout, start)
	if err != nil {
		return 0, fmt.Errorf("parsing start date %q: %w", start, err)
	}
	to, err := time.Parse(tripDateLayout, end)
	if err != nil {
		return 0, fmt.Errorf("parsing end date %q: %w", end, err)
	}
	days := int(to.Sub(from).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return days, nil
}

// NewPlanSearchToolset returns the registry for the plan-search agent.
func NewPlanSearchToolset(catalog *Catalog) (*rollout.Registry, error) {
	return rollout.NewRegistry(
		&AskCountryPeriodTool{catalog: catalog},
		&PlanSearchTool{catalog: catalog},
	)
}

// NewBookingToolset returns the registry for the booking agent, pinned to
// one account.
func NewBookingToolset(users *UserStore, userID string) (*rollout.Registry, error) {
	return rollout.NewRegistry(
		&StatusCheckTool{users: users, userID: userID},
		&CostCalculatorTool{},
		&BookESIMTool{users: users, userID: userID},
	)
}

// AskCountryPeriodTool normalizes the user's destinations and trip length
// into the duration tier the catalog sells.
type AskCountryPeriodTool struct {
	catalog *Catalog
}

type askCountryPeriodArgs struct {
	Countries []string `mapstructure:"countries"`
	StartDate string   `mapstructure:"start_date"`
	EndDate   string   `mapstructure:"end_date"`
	Days      int      `mapstructure:"days"`
}

func (t *AskCountryPeriodTool) Name() string { return ToolAskCountryPeriod }

func (t *AskCountryPeriodTool) Description() string {
	return "Normalize the user's travel countries and period. Provide either start_date and end_date (YYYY-MM-DD) or the number of days. Returns the plan duration to search for."
}

func (t *AskCountryPeriodTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"countries": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Destination countries, e.g. [\"Japan\"].",
			},
			"start_date": map[string]any{"type": "string", "description": "Trip start date, YYYY-MM-DD."},
			"end_date":   map[string]any{"type": "string", "description": "Trip end date, YYYY-MM-DD."},
			"days":       map[string]any{"type": "integer", "description": "Trip length in days, if no dates are given."},
		},
		"required":             []any{"countries"},
		"additionalProperties": false,
	}
}

func (t *AskCountryPeriodTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	var decoded askCountryPeriodArgs
	if err := decodeArgs(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding trip arguments: %w", err)
	}

	days := decoded.Days
	if decoded.StartDate != "" && decoded.EndDate != "" {
		var err error
		days, err = DaysBetween(decoded.StartDate, decoded.EndDate)
		if err != nil {
			return "", err
		}
	}

	tier, err := ClosestPlanDuration(days)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(map[string]any{
		"countries": decoded.Countries,
		"days":      days,
		"plan_days": tier,
	})
	if err != nil {
		return "", fmt.Errorf("serializing trip: %w", err)
	}
	return string(out), nil
}

// PlanSearchTool finds plan options for the given destinations.
type PlanSearchTool struct {
	catalog *Catalog
}

type planSearchArgs struct {
	Countries []string `mapstructure:"countries"`
	Days      int      `mapstructure:"days"`
}

func (t *PlanSearchTool) Name() string { return ToolPlanSearch }

func (t *PlanSearchTool) Description() string {
	return "Search available eSIM plans for the given countries and trip length. Returns local, regional, or global plan options with prices."
}

func (t *PlanSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"countries": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"days": map[string]any{"type": "integer", "description": "Trip length in days."},
		},
		"required":             []any{"countries", "days"},
		"additionalProperties": false,
	}
}

func (t *PlanSearchTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	var decoded planSearchArgs
	if err := decodeArgs(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding search arguments: %w", err)
	}

	outcome, err := t.catalog.FindPlans(decoded.Countries, decoded.Days)
	if err != nil {
		return "", err
	}

	type optionView struct {
		PlanOption
		Display string `json:"display_price"`
	}
	views := make([]optionView, 0, len(outcome.Options))
	for _, opt := range outcome.Options {
		views = append(views, optionView{PlanOption: opt, Display: FormatPrice(opt.Plan.Price)})
	}

	out, err := json.Marshal(map[string]any{
		"countries":      outcome.Countries,
		"requested_days": outcome.RequestedDays,
		"plan_days":      outcome.PlanDays,
		"options":        views,
	})
	if err != nil {
		return "", fmt.Errorf("serializing plan options: %w", err)
	}
	return string(out), nil
}

// CostCalculatorTool computes the checkout total including tax.
type CostCalculatorTool struct{}

type costCalculatorArgs struct {
	PlanPrice float64 `mapstructure:"plan_price"`
	Quantity  int     `mapstructure:"quantity"`
}

func (t *CostCalculatorTool) Name() string { return ToolCostCalculator }

func (t *CostCalculatorTool) Description() string {
	return "Calculate the total cost for a plan purchase, including sales tax. Quantity defaults to 1."
}

func (t *CostCalculatorTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan_price": map[string]any{"type": "number", "description": "Unit price of the plan in USD."},
			"quantity":   map[string]any{"type": "integer", "description": "Number of plans, default 1."},
		},
		"required":             []any{"plan_price"},
		"additionalProperties": false,
	}
}

func (t *CostCalculatorTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	var decoded costCalculatorArgs
	if err := decodeArgs(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding cost arguments: %w", err)
	}
	if decoded.PlanPrice <= 0 {
		return "", fmt.Errorf("plan price must be positive, got %v", decoded.PlanPrice)
	}
	if decoded.Quantity == 0 {
		decoded.Quantity = 1
	}
	if decoded.Quantity < 0 {
		return "", fmt.Errorf("quantity must be positive, got %d", decoded.Quantity)
	}

	subtotal := roundCents(decoded.PlanPrice * float64(decoded.Quantity))
	tax := roundCents(subtotal * TaxRate)
	total := roundCents(subtotal + tax)

	out, err := json.Marshal(map[string]any{
		"subtotal":           subtotal,
		"tax":                tax,
		"tax_rate":           TaxRate,
		"total":              total,
		"subtotal_display":   FormatPrice(subtotal),
		"tax_display":        FormatPrice(tax),
		"total_display":      FormatPrice(total),
		"quantity":           decoded.Quantity,
		"unit_price_display": FormatPrice(decoded.PlanPrice),
	})
	if err != nil {
		return "", fmt.Errorf("serializing cost breakdown: %w", err)
	}
	return string(out), nil
}

// StatusCheckTool reports whether the current account can complete a
// purchase.
type StatusCheckTool struct {
	users  *UserStore
	userID string
}

func (t *StatusCheckTool) Name() string { return ToolStatusCheck }

func (t *StatusCheckTool) Description() string {
	return "Check the current user's login status and payment method. Call before completing a booking."
}

func (t *StatusCheckTool) Schema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

func (t *StatusCheckTool) Invoke(_ context.Context, _ map[string]any) (string, error) {
	user, ok := t.users.Get(t.userID)
	if !ok {
		return "", fmt.Errorf("unknown user %q", t.userID)
	}

	message := "User is ready to book."
	switch {
	case !user.LoggedIn:
		message = "User is not logged in. Ask them to log in before booking."
	case !user.HasPayment:
		message = "User has no payment method on file. Ask them to add one before booking."
	}

	out, err := json.Marshal(map[string]any{
		"user_id":            user.ID,
		"user_name":          user.Name,
		"email":              user.Email,
		"is_logged_in":       user.LoggedIn,
		"has_payment_method": user.HasPayment,
		"ready_to_book":      user.ReadyToBook(),
		"message":            message,
	})
	if err != nil {
		return "", fmt.Errorf("serializing status: %w", err)
	}
	return string(out), nil
}

// Booking is a completed purchase.
type Booking struct {
	ConfirmationID string  `json:"confirmation_id"`
	UserID         string  `json:"user_id"`
	PlanName       string  `json:"plan_name"`
	PlanDays       int     `json:"plan_days"`
	Quantity       int     `json:"quantity"`
	Total          float64 `json:"total"`
	TotalDisplay   string  `json:"total_display"`
}

// BookESIMTool completes a purchase for the current account. The account
// must be logged in with a payment method on file.
type BookESIMTool struct {
	users  *UserStore
	userID string

	booking *Booking
}

type bookESIMArgs struct {
	PlanName  string  `mapstructure:"plan_name"`
	PlanDays  int     `mapstructure:"plan_days"`
	PlanPrice float64 `mapstructure:"plan_price"`
	Quantity  int     `mapstructure:"quantity"`
}

func (t *BookESIMTool) Name() string { return ToolBookESIM }

func (t *BookESIMTool) Description() string {
	return "Complete the eSIM purchase after status_check confirms the user is ready and cost_calculator has shown the total. Returns a booking confirmation."
}

func (t *BookESIMTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"plan_name":  map[string]any{"type": "string", "description": "Name of the plan being purchased."},
			"plan_days":  map[string]any{"type": "integer", "description": "Plan duration in days."},
			"plan_price": map[string]any{"type": "number", "description": "Unit price of the plan in USD."},
			"quantity":   map[string]any{"type": "integer", "description": "Number of plans, default 1."},
		},
		"required":             []any{"plan_name", "plan_days", "plan_price"},
		"additionalProperties": false,
	}
}

func (t *BookESIMTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	var decoded bookESIMArgs
	if err := decodeArgs(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding booking arguments: %w", err)
	}
	if decoded.Quantity == 0 {
		decoded.Quantity = 1
	}

	user, ok := t.users.Get(t.userID)
	if !ok {
		return "", fmt.Errorf("unknown user %q", t.userID)
	}
	if !user.LoggedIn {
		return "", fmt.Errorf("user %s is not logged in", user.ID)
	}
	if !user.HasPayment {
		return "", fmt.Errorf("user %s has no payment method on file", user.ID)
	}

	subtotal := roundCents(decoded.PlanPrice * float64(decoded.Quantity))
	total := roundCents(subtotal * (1 + TaxRate))

	t.booking = &Booking{
		ConfirmationID: uuid.NewString(),
		UserID:         user.ID,
		PlanName:       decoded.PlanName,
		PlanDays:       decoded.PlanDays,
		Quantity:       decoded.Quantity,
		Total:          total,
		TotalDisplay:   FormatPrice(total),
	}

	out, err := json.Marshal(t.booking)
	if err != nil {
		return "", fmt.Errorf("serializing confirmation: %w", err)
	}
	return string(out), nil
}

// Booking returns the completed purchase, or nil if none was made.
func (t *BookESIMTool) Booking() *Booking { return t.booking }
