package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sorryformyhair/dmflow/internal/store"
)

// TestHistory_RecentReturnsChronologicalWindow verifies the window: newest
// K turns, oldest first.
func TestHistory_RecentReturnsChronologicalWindow(t *testing.T) {
	ctx := context.Background()
	hist := newTestStores(t).History

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 15; i++ {
		role := store.RoleHuman
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		err := hist.Append(ctx, "user1", store.Turn{
			Role:      role,
			Content:   fmt.Sprintf("turn %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append turn %d: %v", i, err)
		}
	}

	turns, err := hist.Recent(ctx, "user1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 10 {
		t.Fatalf("got %d turns, want 10", len(turns))
	}
	if turns[0].Content != "turn 5" || turns[9].Content != "turn 14" {
		t.Errorf("window = %q .. %q, want turn 5 .. turn 14", turns[0].Content, turns[9].Content)
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].CreatedAt.Before(turns[i-1].CreatedAt) {
			t.Errorf("turns out of chronological order at %d", i)
		}
	}
}

// TestHistory_IsolatedPerUser verifies turns do not leak across users and
// Clear only touches one user.
func TestHistory_IsolatedPerUser(t *testing.T) {
	ctx := context.Background()
	hist := newTestStores(t).History

	hist.Append(ctx, "user1", store.Turn{Role: store.RoleHuman, Content: "a"})
	hist.Append(ctx, "user2", store.Turn{Role: store.RoleHuman, Content: "b"})

	if err := hist.Clear(ctx, "user1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	t1, _ := hist.Recent(ctx, "user1", 10)
	t2, _ := hist.Recent(ctx, "user2", 10)
	if len(t1) != 0 {
		t.Errorf("user1 history not cleared: %v", t1)
	}
	if len(t2) != 1 || t2[0].Content != "b" {
		t.Errorf("user2 history affected: %v", t2)
	}
}

// TestCatalog_SearchAndGet covers product lookup by keyword and ID.
func TestCatalog_SearchAndGet(t *testing.T) {
	ctx := context.Background()
	stores := newTestStores(t)
	catalog := stores.Catalog.(*CatalogStore)

	products := []store.Product{
		{ID: "p1", Name: "Hydrating Serum", Description: "hyaluronic acid", Volume: "30ml", PriceUAH: 450, InStock: true},
		{ID: "p2", Name: "Night Cream", Description: "with retinol", Volume: "50ml", PriceUAH: 620, InStock: false},
	}
	for _, p := range products {
		if err := catalog.Upsert(ctx, p); err != nil {
			t.Fatalf("Upsert(%s): %v", p.ID, err)
		}
	}

	got, err := catalog.Search(ctx, "serum", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("Search(serum) = %v", got)
	}

	byDesc, err := catalog.Search(ctx, "retinol", 10)
	if err != nil || len(byDesc) != 1 || byDesc[0].ID != "p2" {
		t.Errorf("Search(retinol) = %v, %v", byDesc, err)
	}

	p, err := catalog.Get(ctx, "p2")
	if err != nil || p == nil || p.PriceUAH != 620 || p.InStock {
		t.Errorf("Get(p2) = %+v, %v", p, err)
	}

	missing, err := catalog.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Get(nope) = %v, %v, want nil, nil", missing, err)
	}
}

// TestOrders_InsertAssignsID verifies order recording fills defaults.
func TestOrders_InsertAssignsID(t *testing.T) {
	ctx := context.Background()
	orders := newTestStores(t).Orders

	o := &store.Order{
		UserID:     "user1",
		Name:       "Olena K",
		Phone:      "+380501112233",
		City:       "Kyiv",
		PostOffice: "12",
		Products:   "Hydrating Serum x1",
		TotalPrice: "450 UAH",
	}
	if err := orders.Insert(ctx, o); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if o.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("order ID not assigned")
	}
	if o.CreatedAt.IsZero() {
		t.Error("created_at not assigned")
	}
}
