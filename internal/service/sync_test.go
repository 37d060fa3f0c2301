package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/universetools/ordersync/internal/logger"
	"github.com/universetools/ordersync/internal/model"
	"github.com/universetools/ordersync/internal/repo"
	"github.com/universetools/ordersync/internal/universe"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

type fetchCall struct {
	EventID string
	Limit   int
	Offset  int
	Since   *time.Time
}

// fakeFetcher serves canned pages and records every call.
type fakeFetcher struct {
	total       int
	state       *string
	maxQuantity *int
	updatedAt   *time.Time
	pages       map[int][]universe.Order // offset -> page
	failOffsets map[int]bool
	failProbe   map[string]bool // eventID -> probe fails
	calls       []fetchCall
}

func (f *fakeFetcher) FetchPage(_ context.Context, eventID string, limit, offset int, since *time.Time) (*universe.EventPage, []universe.GraphQLError, error) {
	f.calls = append(f.calls, fetchCall{EventID: eventID, Limit: limit, Offset: offset, Since: since})

	if limit == 1 && f.failProbe[eventID] {
		return nil, nil, universe.ErrNoEventData
	}
	if limit != 1 && f.failOffsets[offset] {
		return nil, nil, universe.ErrNoEventData
	}

	page := &universe.EventPage{
		ID:          eventID,
		State:       f.state,
		MaxQuantity: f.maxQuantity,
		UpdatedAt:   f.updatedAt,
	}
	page.Orders.TotalCount = f.total
	if limit != 1 {
		page.Orders.Nodes = f.pages[offset]
	}
	return page, nil, nil
}

var dbSeq int

func newTestService(t *testing.T, f *fakeFetcher, pageLimit, backfillDays int) (*SyncService, *gorm.DB) {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:svc%d?mode=memory&cache=shared", dbSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Event{}, &model.TicketOrder{}, &model.OrderItem{}, &model.Rate{}))

	log, err := logger.NewLogger(false)
	assert.NoError(t, err)
	r := repo.NewRepository(db, log)
	return NewSyncService(r, f, log, pageLimit, backfillDays, false), db
}

func ordersPage(ids ...string) []universe.Order {
	out := make([]universe.Order, len(ids))
	for i, id := range ids {
		out[i] = universe.Order{ID: id, State: strPtr("paid")}
	}
	return out
}

func TestChangedSince(t *testing.T) {
	wm := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	got := ChangedSince(&wm, 7*24*time.Hour)
	assert.NotNil(t, got)
	assert.True(t, got.Equal(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)))

	assert.Nil(t, ChangedSince(nil, 7*24*time.Hour), "no watermark means full fetch")
}

func TestRun_PaginationTerminates(t *testing.T) {
	f := &fakeFetcher{
		total: 45,
		pages: map[int][]universe.Order{
			0:  ordersPage("o1", "o2"),
			20: ordersPage("o3"),
			40: ordersPage("o4"),
		},
	}
	svc, db := newTestService(t, f, 20, 7)
	assert.NoError(t, db.Create(&model.Event{ID: "ev1", FetchState: "active"}).Error)

	totals, err := svc.Run(context.Background())
	assert.NoError(t, err)

	// one probe plus exactly three pages, offsets 0/20/40, nothing past total
	assert.Len(t, f.calls, 4)
	assert.Equal(t, fetchCall{EventID: "ev1", Limit: 1, Offset: 0}, f.calls[0])
	offsets := []int{f.calls[1].Offset, f.calls[2].Offset, f.calls[3].Offset}
	assert.Equal(t, []int{0, 20, 40}, offsets)

	assert.Equal(t, 4, totals.Orders)
	var count int64
	db.Model(&model.TicketOrder{}).Count(&count)
	assert.EqualValues(t, 4, count)
}

func TestRun_FirstSyncOmitsUpdatedSince(t *testing.T) {
	f := &fakeFetcher{total: 1, pages: map[int][]universe.Order{0: ordersPage("o1")}}
	svc, db := newTestService(t, f, 10, 7)
	assert.NoError(t, db.Create(&model.Event{ID: "ev1", FetchState: "active"}).Error)

	_, err := svc.Run(context.Background())
	assert.NoError(t, err)

	for _, c := range f.calls {
		assert.Nil(t, c.Since, "null watermark must mean full fetch")
	}
}

func TestRun_UsesWatermarkMinusBackfill(t *testing.T) {
	f := &fakeFetcher{total: 1, pages: map[int][]universe.Order{0: ordersPage("o1")}}
	svc, db := newTestService(t, f, 10, 7)

	wm := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, db.Create(&model.Event{ID: "ev1", FetchState: "active", LastFetchedAt: &wm}).Error)

	_, err := svc.Run(context.Background())
	assert.NoError(t, err)

	want := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	assert.NotEmpty(t, f.calls)
	for _, c := range f.calls {
		assert.NotNil(t, c.Since)
		assert.True(t, c.Since.Equal(want))
	}
}

func TestRun_SkipsFailedPageAndStillCommits(t *testing.T) {
	f := &fakeFetcher{
		total: 25,
		pages: map[int][]universe.Order{
			0:  ordersPage("o1"),
			10: ordersPage("o2"),
			20: ordersPage("o3"),
		},
		failOffsets: map[int]bool{10: true},
	}
	svc, db := newTestService(t, f, 10, 7)
	assert.NoError(t, db.Create(&model.Event{ID: "ev1", FetchState: "active"}).Error)

	totals, err := svc.Run(context.Background())
	assert.NoError(t, err)

	// the failed page's orders are gone for this pass; offset advanced anyway
	assert.Equal(t, 2, totals.Orders)
	var ids []string
	db.Model(&model.TicketOrder{}).Order("id").Pluck("id", &ids)
	assert.Equal(t, []string{"o1", "o3"}, ids)

	// the event still committed and its watermark advanced
	var ev model.Event
	assert.NoError(t, db.First(&ev, "id = ?", "ev1").Error)
	assert.NotNil(t, ev.LastFetchedAt)
}

func TestRun_ProbeFailureRollsBackEntity(t *testing.T) {
	f := &fakeFetcher{
		total:     1,
		pages:     map[int][]universe.Order{0: ordersPage("o1")},
		failProbe: map[string]bool{"evBad": true},
	}
	svc, db := newTestService(t, f, 10, 7)
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, db.Create(&model.Event{ID: "evBad", FetchState: "active", CalendarDate: &jan}).Error)
	assert.NoError(t, db.Create(&model.Event{ID: "evGood", FetchState: "active", CalendarDate: &feb}).Error)

	_, err := svc.Run(context.Background())
	assert.NoError(t, err, "entity failures never abort the run")

	var bad, good model.Event
	assert.NoError(t, db.First(&bad, "id = ?", "evBad").Error)
	assert.NoError(t, db.First(&good, "id = ?", "evGood").Error)
	assert.Nil(t, bad.LastFetchedAt, "failed entity keeps no watermark")
	assert.NotNil(t, good.LastFetchedAt, "later entities still sync")
}

func TestRun_UpdatesEventMetadata(t *testing.T) {
	updated := time.Date(2024, 5, 20, 8, 30, 0, 0, time.UTC)
	f := &fakeFetcher{
		total:       1,
		state:       strPtr("posted"),
		maxQuantity: intPtr(300),
		updatedAt:   &updated,
		pages:       map[int][]universe.Order{0: ordersPage("o1")},
	}
	svc, db := newTestService(t, f, 10, 7)
	assert.NoError(t, db.Create(&model.Event{ID: "ev1", FetchState: "active"}).Error)

	before := time.Now().UTC().Add(-time.Second)
	_, err := svc.Run(context.Background())
	assert.NoError(t, err)

	var ev model.Event
	assert.NoError(t, db.First(&ev, "id = ?", "ev1").Error)
	assert.Equal(t, "posted", *ev.State)
	assert.Equal(t, 300, *ev.MaxQuantity)
	assert.True(t, ev.RemoteUpdatedAt.Equal(updated))
	assert.NotNil(t, ev.LastFetchedAt)
	assert.True(t, ev.LastFetchedAt.After(before))
}

func TestRun_NoEligibleEvents(t *testing.T) {
	f := &fakeFetcher{}
	svc, db := newTestService(t, f, 10, 7)
	assert.NoError(t, db.Create(&model.Event{ID: "ev1", FetchState: "inactive"}).Error)

	totals, err := svc.Run(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, totals.Orders)
	assert.Empty(t, f.calls, "inactive events are not fetched")
}
