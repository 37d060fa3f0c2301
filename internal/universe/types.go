package universe

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wire types for the OrdersPage GraphQL query. Money fields decode through
// shopspring/decimal so currency values never round-trip via float64.

type Buyer struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
}

type RateSnapshot struct {
	ID          string           `json:"id"`
	Name        *string          `json:"name"`
	SoldCount   *int             `json:"soldCount"`
	MaxQuantity *int             `json:"maxQuantity"`
	Price       *decimal.Decimal `json:"price"`
}

type CostBreakdown struct {
	Currency *string          `json:"currency"`
	Fee      *decimal.Decimal `json:"fee"`
	Discount *decimal.Decimal `json:"discount"`
	Price    *decimal.Decimal `json:"price"`
	Subtotal *decimal.Decimal `json:"subtotal"`
}

type OrderItem struct {
	ID            string           `json:"id"`
	Amount        *decimal.Decimal `json:"amount"`
	OrderState    *string          `json:"orderState"`
	QRCode        *string          `json:"qrCode"`
	FirstName     *string          `json:"firstName"`
	LastName      *string          `json:"lastName"`
	CostBreakdown *CostBreakdown   `json:"costBreakdown"`
	Rate          *RateSnapshot    `json:"rate"`
}

type Order struct {
	ID         string     `json:"id"`
	State      *string    `json:"state"`
	CreatedAt  *time.Time `json:"createdAt"`
	Confirmed  *bool      `json:"confirmed"`
	Buyer      *Buyer     `json:"buyer"`
	OrderItems struct {
		Nodes []OrderItem `json:"nodes"`
	} `json:"orderItems"`
}

// EventPage is one page of an event's orders plus the event-level metadata
// that every OrdersPage response carries.
type EventPage struct {
	ID            string     `json:"id"`
	Title         *string    `json:"title"`
	State         *string    `json:"state"`
	MaxQuantity   *int       `json:"maxQuantity"`
	Slug          *string    `json:"slug"`
	UpdatedAt     *time.Time `json:"updatedAt"`
	CalendarDates []string   `json:"calendarDates"`
	Orders        struct {
		TotalCount int     `json:"totalCount"`
		Nodes      []Order `json:"nodes"`
	} `json:"orders"`
}

// GraphQLError is one entry of a response's errors list. The API may return
// errors alongside usable data; callers log them and keep going.
type GraphQLError struct {
	Message string `json:"message"`
}

func (e GraphQLError) Error() string { return e.Message }
