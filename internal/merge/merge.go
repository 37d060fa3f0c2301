// Package merge flattens a page of hierarchical order records into the three
// row-sets the writer persists: orders, items and rate snapshots.
package merge

import (
	"github.com/universetools/ordersync/internal/model"
	"github.com/universetools/ordersync/internal/universe"
)

// Page turns one page of fetched orders into row-sets for eventID.
//
// A rate is shared by many items, so the same rate id usually shows up
// several times per page. Sightings collapse into a single row through a map
// keyed by rate id: each sighting unconditionally overwrites the previous
// one, so the snapshot seen last in iteration order wins. Rows flush in
// first-sighting order to keep the output deterministic.
//
// The curated rate columns (rate_category_slug, normalized_name) are never
// populated here; they stay nil so the writer's COALESCE keeps whatever an
// operator set by hand.
func Page(eventID string, orders []universe.Order) ([]model.TicketOrder, []model.OrderItem, []model.Rate) {
	orderRows := make([]model.TicketOrder, 0, len(orders))
	var itemRows []model.OrderItem

	rateByID := make(map[string]model.Rate)
	var rateOrder []string

	for _, o := range orders {
		row := model.TicketOrder{
			ID:        o.ID,
			EventID:   eventID,
			State:     o.State,
			CreatedAt: o.CreatedAt,
			Confirmed: o.Confirmed,
		}
		if b := o.Buyer; b != nil {
			row.BuyerFirstName = b.FirstName
			row.BuyerLastName = b.LastName
			row.BuyerEmail = b.Email
		}
		orderRows = append(orderRows, row)

		for _, it := range o.OrderItems.Nodes {
			item := model.OrderItem{
				ID:                it.ID,
				OrderID:           o.ID,
				Amount:            it.Amount,
				OrderState:        it.OrderState,
				QRCode:            it.QRCode,
				AttendeeFirstName: it.FirstName,
				AttendeeLastName:  it.LastName,
			}
			if r := it.Rate; r != nil && r.ID != "" {
				item.RateID = &r.ID
				item.RatePrice = r.Price

				if _, seen := rateByID[r.ID]; !seen {
					rateOrder = append(rateOrder, r.ID)
				}
				rateByID[r.ID] = model.Rate{
					ID:          r.ID,
					EventID:     eventID,
					Name:        r.Name,
					Price:       r.Price,
					MaxQuantity: r.MaxQuantity,
					SoldCount:   r.SoldCount,
				}
			}
			itemRows = append(itemRows, item)
		}
	}

	rateRows := make([]model.Rate, 0, len(rateOrder))
	for _, id := range rateOrder {
		rateRows = append(rateRows, rateByID[id])
	}
	return orderRows, itemRows, rateRows
}
