package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/universetools/ordersync/internal/merge"
	"github.com/universetools/ordersync/internal/repo"
	"github.com/universetools/ordersync/internal/universe"
)

// Fetcher is the slice of the Universe client the orchestrator needs.
type Fetcher interface {
	FetchPage(ctx context.Context, eventID string, limit, offset int, updatedSince *time.Time) (*universe.EventPage, []universe.GraphQLError, error)
}

// Totals counts rows upserted across a run, by kind.
type Totals struct {
	Orders int
	Items  int
	Rates  int
}

func (t *Totals) add(o Totals) {
	t.Orders += o.Orders
	t.Items += o.Items
	t.Rates += o.Rates
}

// SyncService drives the incremental sync: select events, compute each
// event's fetch window, page through its orders and write every page, then
// advance the watermark. Strictly sequential; one event commits fully before
// the next starts.
type SyncService struct {
	repo            *repo.Repository
	fetcher         Fetcher
	log             *zap.SugaredLogger
	pageLimit       int
	backfill        time.Duration
	includeInactive bool
}

func NewSyncService(r *repo.Repository, f Fetcher, logger *zap.SugaredLogger, pageLimit, backfillDays int, includeInactive bool) *SyncService {
	return &SyncService{
		repo:            r,
		fetcher:         f,
		log:             logger,
		pageLimit:       pageLimit,
		backfill:        time.Duration(backfillDays) * 24 * time.Hour,
		includeInactive: includeInactive,
	}
}

// ChangedSince derives the updatedSince bound from a watermark: the
// watermark minus the backfill window, in UTC. A nil watermark means the
// event was never synced and the fetch is a full one (nil bound).
func ChangedSince(watermark *time.Time, backfill time.Duration) *time.Time {
	if watermark == nil {
		return nil
	}
	t := watermark.Add(-backfill).UTC()
	return &t
}

// Run syncs every eligible event. Per-event failures roll back that event
// and are logged, not returned; an error here means the run itself could not
// proceed (e.g. the event selection failed).
func (s *SyncService) Run(ctx context.Context) (Totals, error) {
	events, err := s.repo.EventsToFetch(ctx, s.includeInactive)
	if err != nil {
		return Totals{}, fmt.Errorf("select events: %w", err)
	}
	if len(events) == 0 {
		s.log.Info("no events eligible for sync")
		return Totals{}, nil
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	s.log.Infof("syncing %d events: %v", len(events), ids)

	var totals Totals
	for _, ev := range events {
		t, err := s.syncEvent(ctx, ev.ID)
		if err != nil {
			s.log.Errorf("event %s: rolled back: %v", ev.ID, err)
			continue
		}
		totals.add(t)
		s.log.Infof("event %s: committed (orders=%d items=%d rates=%d)", ev.ID, t.Orders, t.Items, t.Rates)
	}
	s.log.Infof("done: orders=%d items=%d rates=%d", totals.Orders, totals.Items, totals.Rates)
	return totals, nil
}

// syncEvent runs one event's full pass inside a single transaction. Page
// write failures are contained by savepoints inside WritePage; anything that
// escapes this closure rolls back the whole event, including pages that had
// locally succeeded, and leaves the watermark untouched.
func (s *SyncService) syncEvent(ctx context.Context, eventID string) (Totals, error) {
	var totals Totals
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		watermark, err := s.repo.Watermark(ctx, tx, eventID)
		if err != nil {
			return err
		}
		since := ChangedSince(watermark, s.backfill)

		// Probe with limit 1: total count and event metadata only. A failed
		// probe skips the whole event.
		probe, gqlErrs, err := s.fetcher.FetchPage(ctx, eventID, 1, 0, since)
		if len(gqlErrs) > 0 {
			s.log.Warnf("event %s: probe returned %d GraphQL error(s); continuing with partial data", eventID, len(gqlErrs))
		}
		if err != nil {
			return fmt.Errorf("metadata probe: %w", err)
		}

		total := probe.Orders.TotalCount
		if since != nil {
			s.log.Infof("event %s: total=%d (updatedSince=%s)", eventID, total, since.Format(time.RFC3339))
		} else {
			s.log.Infof("event %s: total=%d (full fetch)", eventID, total)
		}

		fetched := 0
		for page, offset := 0, 0; offset < total; page, offset = page+1, offset+s.pageLimit {
			pageData, gqlErrs, err := s.fetcher.FetchPage(ctx, eventID, s.pageLimit, offset, since)
			if len(gqlErrs) > 0 {
				s.log.Warnf("event %s offset %d: GraphQL error: %s", eventID, offset, gqlErrs[0].Message)
			}
			if err != nil {
				// Best effort: the offset still advances, so this page's
				// orders are skipped for this pass.
				s.log.Errorf("event %s offset %d: %v; skipping page", eventID, offset, err)
				continue
			}

			nodes := pageData.Orders.Nodes
			orderIDs := make([]string, len(nodes))
			for i, o := range nodes {
				orderIDs[i] = o.ID
			}
			s.log.Infof("event %s page offset %d: orders=%v", eventID, offset, orderIDs)

			orders, items, rates := merge.Page(eventID, nodes)
			nOrders, nItems, nRates, err := s.repo.WritePage(ctx, tx, page, orders, items, rates)
			if err != nil {
				return err
			}

			totals.add(Totals{Orders: nOrders, Items: nItems, Rates: nRates})
			fetched += len(nodes)
			s.log.Infof("event %s: %d/%d orders processed (rows upserted: orders=%d items=%d rates=%d)",
				eventID, fetched, total, nOrders, nItems, nRates)
		}

		now := time.Now().UTC()
		if err := s.repo.UpdateEventMeta(ctx, tx, eventID, probe.State, probe.MaxQuantity, probe.UpdatedAt, now); err != nil {
			return fmt.Errorf("update event meta: %w", err)
		}
		s.log.Infof("event %s: metadata updated; last_fetched_at=%s", eventID, now.Format(time.RFC3339))
		return nil
	})
	if err != nil {
		return Totals{}, err
	}
	return totals, nil
}
