package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/universetools/ordersync/internal/logger"
	"github.com/universetools/ordersync/internal/universe"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeFetcher struct {
	page    *universe.EventPage
	gqlErrs []universe.GraphQLError
}

func (f *fakeFetcher) FetchExportPage(_ context.Context, _ string, limit, _ int) (*universe.EventPage, []universe.GraphQLError, error) {
	return f.page, f.gqlErrs, nil
}

func testPage() *universe.EventPage {
	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	page := &universe.EventPage{
		ID:            "ev1",
		Title:         strPtr("Summer Gala"),
		State:         strPtr("posted"),
		Slug:          strPtr("summer-gala"),
		MaxQuantity:   intPtr(500),
		UpdatedAt:     &updated,
		CalendarDates: []string{"2024-07-01", "2024-07-02"},
	}
	created := time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC)
	confirmed := true
	order := universe.Order{
		ID:        "o1",
		State:     strPtr("paid"),
		CreatedAt: &created,
		Confirmed: &confirmed,
		Buyer:     &universe.Buyer{FirstName: strPtr("Ada"), LastName: strPtr("Lovelace"), Email: strPtr("ada@example.com")},
	}
	order.OrderItems.Nodes = []universe.OrderItem{
		{
			ID:     "i1",
			Amount: decPtr("19.99"),
			QRCode: strPtr("QR1"),
			Rate:   &universe.RateSnapshot{ID: "R1", Name: strPtr("GA"), Price: decPtr("12.50"), SoldCount: intPtr(7), MaxQuantity: intPtr(100)},
			CostBreakdown: &universe.CostBreakdown{
				Currency: strPtr("EUR"),
				Price:    decPtr("12.50"),
				Subtotal: decPtr("12.50"),
				Fee:      decPtr("1.25"),
				Discount: decPtr("0"),
			},
		},
		{ID: "i2"}, // item without rate or cost breakdown
	}
	page.Orders.TotalCount = 1
	page.Orders.Nodes = []universe.Order{order}
	return page
}

func TestRun_WritesAllColumns(t *testing.T) {
	log, err := logger.NewLogger(false)
	assert.NoError(t, err)
	e := NewExporter(&fakeFetcher{page: testPage()}, log)

	var buf bytes.Buffer
	orders, items, err := e.Run(context.Background(), "ev1", &buf)
	assert.NoError(t, err)
	assert.Equal(t, 1, orders)
	assert.Equal(t, 2, items)

	records, err := csv.NewReader(&buf).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, records, 3, "header plus one row per item")
	assert.Equal(t, columns, records[0])

	row := records[1]
	assert.Len(t, row, len(columns))
	assert.Equal(t, "ev1", row[0])
	assert.Equal(t, "Summer Gala", row[1])
	assert.Equal(t, "2024-07-01 | 2024-07-02", row[6])
	assert.Equal(t, "o1", row[7])
	assert.Equal(t, "true", row[10])
	assert.Equal(t, "Ada", row[11])
	assert.Equal(t, "i1", row[14])
	assert.Equal(t, "19.99", row[15])
	assert.Equal(t, "12.5", row[19]) // rate_price, exact decimal rendering
	assert.Equal(t, "EUR", row[22])

	// the rate-less item renders empty rate and cost-breakdown columns
	bare := records[2]
	assert.Equal(t, "i2", bare[14])
	for _, col := range bare[18:] {
		assert.Empty(t, col)
	}
}

func TestRun_GraphQLErrorAborts(t *testing.T) {
	log, err := logger.NewLogger(false)
	assert.NoError(t, err)
	f := &fakeFetcher{page: testPage(), gqlErrs: []universe.GraphQLError{{Message: "boom"}}}
	e := NewExporter(f, log)

	var buf bytes.Buffer
	_, _, err = e.Run(context.Background(), "ev1", &buf)
	assert.Error(t, err, "exports have no partial-data tolerance")
}
