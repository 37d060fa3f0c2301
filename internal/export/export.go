// Package export implements the full, non-incremental CSV dump of a single
// event's orders. No watermark, no database: every order is fetched and
// written to a delimited file with a fixed column set.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/universetools/ordersync/internal/universe"
)

// PageLimit is fixed for exports; incremental sync has its own configurable
// limit.
const PageLimit = 20

var columns = []string{
	"event_id", "event_title", "event_state", "event_slug",
	"event_max_quantity", "event_updated_at", "event_calendar_dates",
	"order_id", "order_state", "order_created_at", "order_confirmed",
	"buyer_first", "buyer_last", "buyer_email",
	"item_id", "item_amount", "item_order_state", "item_qr_code",
	"rate_name", "rate_price", "rate_sold_count", "rate_max_quantity",
	"currency", "cb_price", "cb_subtotal", "cb_fee", "cb_discount",
}

// Fetcher is the slice of the Universe client the exporter needs.
type Fetcher interface {
	FetchExportPage(ctx context.Context, eventID string, limit, offset int) (*universe.EventPage, []universe.GraphQLError, error)
}

type Exporter struct {
	fetcher Fetcher
	log     *zap.SugaredLogger
}

func NewExporter(f Fetcher, logger *zap.SugaredLogger) *Exporter {
	return &Exporter{fetcher: f, log: logger}
}

// Run dumps all orders of eventID to w. Unlike the incremental sync, any
// GraphQL error aborts the export; a partial dump is worthless for analysis.
func (e *Exporter) Run(ctx context.Context, eventID string, w io.Writer) (int, int, error) {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(columns); err != nil {
		return 0, 0, fmt.Errorf("write header: %w", err)
	}

	probe, gqlErrs, err := e.fetcher.FetchExportPage(ctx, eventID, 1, 0)
	if err := firstError(gqlErrs, err); err != nil {
		return 0, 0, fmt.Errorf("metadata probe: %w", err)
	}
	total := probe.Orders.TotalCount
	e.log.Infof("event %q: total orders %d", deref(probe.Title), total)

	eventBase := []string{
		probe.ID,
		deref(probe.Title),
		deref(probe.State),
		deref(probe.Slug),
		intStr(probe.MaxQuantity),
		timeStr(probe.UpdatedAt),
		strings.Join(probe.CalendarDates, " | "),
	}

	orders, items := 0, 0
	start := time.Now()
	for offset := 0; offset < total; offset += PageLimit {
		page, gqlErrs, err := e.fetcher.FetchExportPage(ctx, eventID, PageLimit, offset)
		if err := firstError(gqlErrs, err); err != nil {
			return orders, items, fmt.Errorf("offset %d: %w", offset, err)
		}

		for _, o := range page.Orders.Nodes {
			orders++
			orderBase := append(append([]string{}, eventBase...),
				o.ID,
				deref(o.State),
				timeStr(o.CreatedAt),
				boolStr(o.Confirmed),
				buyerField(o.Buyer, func(b *universe.Buyer) *string { return b.FirstName }),
				buyerField(o.Buyer, func(b *universe.Buyer) *string { return b.LastName }),
				buyerField(o.Buyer, func(b *universe.Buyer) *string { return b.Email }),
			)
			for _, it := range o.OrderItems.Nodes {
				items++
				row := append(append([]string{}, orderBase...),
					it.ID,
					decStr(it.Amount),
					deref(it.OrderState),
					deref(it.QRCode),
				)
				if r := it.Rate; r != nil {
					row = append(row, deref(r.Name), decStr(r.Price), intStr(r.SoldCount), intStr(r.MaxQuantity))
				} else {
					row = append(row, "", "", "", "")
				}
				if cb := it.CostBreakdown; cb != nil {
					row = append(row, deref(cb.Currency), decStr(cb.Price), decStr(cb.Subtotal), decStr(cb.Fee), decStr(cb.Discount))
				} else {
					row = append(row, "", "", "", "", "")
				}
				if err := cw.Write(row); err != nil {
					return orders, items, fmt.Errorf("write row: %w", err)
				}
			}
		}

		pct := 100.0
		if total > 0 {
			pct = float64(orders) / float64(total) * 100
		}
		e.log.Infof("page done: %d/%d orders (%5.1f%%), %d items, elapsed %s",
			orders, total, pct, items, time.Since(start).Round(time.Second))
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return orders, items, fmt.Errorf("flush csv: %w", err)
	}
	e.log.Infof("finished: %d orders, %d items", orders, items)
	return orders, items, nil
}

func firstError(gqlErrs []universe.GraphQLError, err error) error {
	if err != nil {
		return err
	}
	if len(gqlErrs) > 0 {
		return gqlErrs[0]
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intStr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func boolStr(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func timeStr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func decStr(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func buyerField(b *universe.Buyer, get func(*universe.Buyer) *string) string {
	if b == nil {
		return ""
	}
	return deref(get(b))
}
