package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/universetools/ordersync/internal/model"
)

// ErrEventNotFound is returned when a watermark lookup finds no event row.
var ErrEventNotFound = errors.New("event not found")

// Repository owns all database access. Upserts are keyed by primary id; the
// orchestrator opens one transaction per event and hands it in as tx.
type Repository struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewRepository(db *gorm.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, log: logger}
}

// DB returns the underlying handle bound to ctx.
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// EventsToFetch lists events eligible for a sync pass, ordered by calendar
// date ascending with nulls last, then id, so runs are reproducible.
func (r *Repository) EventsToFetch(ctx context.Context, includeInactive bool) ([]model.Event, error) {
	q := r.db.WithContext(ctx).Model(&model.Event{})
	if !includeInactive {
		q = q.Where("fetch_state = ?", "active")
	}
	var events []model.Event
	err := q.Order("calendar_date NULLS LAST, id").Find(&events).Error
	return events, err
}

// Watermark reads the event's last_fetched_at inside tx.
func (r *Repository) Watermark(ctx context.Context, tx *gorm.DB, eventID string) (*time.Time, error) {
	var ev model.Event
	err := tx.WithContext(ctx).Select("last_fetched_at").Where("id = ?", eventID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return ev.LastFetchedAt, nil
}

// UpdateEventMeta writes the remote event metadata and advances the
// watermark. Runs inside the event's transaction; a failure here escapes to
// the orchestrator and rolls the whole event back.
func (r *Repository) UpdateEventMeta(ctx context.Context, tx *gorm.DB, eventID string, state *string, maxQuantity *int, remoteUpdatedAt *time.Time, fetchedAt time.Time) error {
	return tx.WithContext(ctx).Model(&model.Event{}).Where("id = ?", eventID).
		Updates(map[string]interface{}{
			"state":           state,
			"max_quantity":    maxQuantity,
			"updated_at":      remoteUpdatedAt,
			"last_fetched_at": fetchedAt,
		}).Error
}

// WritePage applies one page's row-sets inside tx.
//
// Orders and items go first, wrapped in a per-page savepoint: if their upsert
// fails the page rolls back to its start, zeros are reported and the caller
// moves on to the next page. Rates go second, behind their own nested
// savepoint, so a failing rate batch never discards the orders and items
// just written. Neither failure is returned as an error; only broken
// savepoint machinery escapes.
func (r *Repository) WritePage(ctx context.Context, tx *gorm.DB, page int, orders []model.TicketOrder, items []model.OrderItem, rates []model.Rate) (int, int, int, error) {
	sp := fmt.Sprintf("sp_page_%d", page)
	if err := tx.SavePoint(sp).Error; err != nil {
		return 0, 0, 0, fmt.Errorf("savepoint %s: %w", sp, err)
	}

	err := r.writeOrders(ctx, tx, orders)
	if err == nil {
		err = r.writeItems(ctx, tx, items)
	}
	if err != nil {
		if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
			return 0, 0, 0, fmt.Errorf("rollback to %s: %w", sp, rbErr)
		}
		r.log.Errorf("page %d upsert failed: %v; skipping page", page, err)
		return 0, 0, 0, nil
	}

	nRates := r.writeRates(ctx, tx, rates)
	return len(orders), len(items), nRates, nil
}

func (r *Repository) writeOrders(ctx context.Context, tx *gorm.DB, rows []model.TicketOrder) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"state", "created_at", "confirmed",
			"buyer_first_name", "buyer_last_name", "buyer_email",
		}),
	}).Create(&rows).Error
}

func (r *Repository) writeItems(ctx context.Context, tx *gorm.DB, rows []model.OrderItem) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"order_id":            gorm.Expr("excluded.order_id"),
			"amount":              gorm.Expr("excluded.amount"),
			"order_state":         gorm.Expr("excluded.order_state"),
			"qr_code":             gorm.Expr("excluded.qr_code"),
			"attendee_first_name": gorm.Expr("excluded.attendee_first_name"),
			"attendee_last_name":  gorm.Expr("excluded.attendee_last_name"),
			"rate_id":             gorm.Expr("excluded.rate_id"),
			// keep the first non-null price we ever saw
			"rate_price": gorm.Expr("COALESCE(order_item.rate_price, excluded.rate_price)"),
		}),
	}).Create(&rows).Error
}

// writeRates upserts the deduplicated rate snapshots behind a nested
// savepoint. On failure the savepoint is rolled back, the batch is logged
// with its first few rate ids, and zero is reported; the surrounding page
// keeps its orders and items either way.
func (r *Repository) writeRates(ctx context.Context, tx *gorm.DB, rows []model.Rate) int {
	if len(rows) == 0 {
		return 0
	}
	if err := tx.SavePoint("sp_rates").Error; err != nil {
		r.log.Errorf("rate savepoint: %v", err)
		return 0
	}
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"event_id":     gorm.Expr("excluded.event_id"),
			"name":         gorm.Expr("excluded.name"),
			"price":        gorm.Expr("excluded.price"),
			"max_quantity": gorm.Expr("excluded.max_quantity"),
			"sold_count":   gorm.Expr("excluded.sold_count"),
			// sticky fields: do not clobber manual edits
			"rate_category_slug": gorm.Expr("COALESCE(rate.rate_category_slug, excluded.rate_category_slug)"),
			"normalized_name":    gorm.Expr("COALESCE(rate.normalized_name, excluded.normalized_name)"),
			"updated_at":         time.Now().UTC(),
		}),
	}).Create(&rows).Error
	if err != nil {
		if rbErr := tx.RollbackTo("sp_rates").Error; rbErr != nil {
			r.log.Errorf("rollback rate savepoint: %v", rbErr)
		}
		ids := make([]string, 0, 5)
		for _, row := range rows {
			if len(ids) == 5 {
				break
			}
			ids = append(ids, row.ID)
		}
		r.log.Warnf("rate upsert failed: %v (first rate ids: %v)", err, ids)
		return 0
	}
	return len(rows)
}
