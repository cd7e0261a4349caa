//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	domain "github.com/stitchline/api/internal/domain"
	pconfig "github.com/stitchline/api/internal/platform/config"
	pfirestore "github.com/stitchline/api/internal/platform/firestore"
	"github.com/stitchline/api/internal/repositories"
)

func TestCatalogRepositoryConcurrentReserveIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	cfg := pconfig.FirestoreConfig{
		ProjectID:    "catalog-test",
		EmulatorHost: endpoint,
	}

	provider := pfirestore.NewProvider(cfg)
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewCatalogRepository(provider)
	if err != nil {
		t.Fatalf("new catalog repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}

	now := time.Now().UTC()
	const initialStock = 5
	const perReservation = 2

	seed := productDocument{
		SKU:   "SKU-P1",
		Name:  "Crewneck",
		Price: 2000,
		Inventory: []inventoryEntryDocument{
			{Size: "M", Stock: initialStock, SoldAmount: 0},
		},
		Visible:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := client.Collection(productsCollection).Doc("p1").Set(ctx, seed); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// More contenders than the stock can satisfy: only two reservations of
	// two units each fit into five units of stock.
	const workers = 8
	reserveErrs := make([]error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			_, err := repo.Reserve(ctx, repositories.CatalogReserveRequest{
				Reservation: domain.StockReservation{
					ID:      fmt.Sprintf("sr_conc_%d", idx),
					UserRef: fmt.Sprintf("/users/u%d", idx),
					Status:  domain.ReservationStatusReserved,
					Lines: []domain.ReservationLine{
						{ProductRef: "/products/p1", SKU: "SKU-P1", Size: "M", Quantity: perReservation},
					},
				},
				Now: now,
			})
			reserveErrs[idx] = err
		}(i)
	}

	wg.Wait()

	succeeded := 0
	for idx, err := range reserveErrs {
		if err == nil {
			succeeded++
			continue
		}
		var catErr *repositories.CatalogError
		if !errors.As(err, &catErr) {
			t.Fatalf("reserve %d: expected catalog error, got %T %v", idx, err, err)
		}
		if catErr.Code != repositories.CatalogErrorInsufficientStock {
			t.Fatalf("reserve %d: expected insufficient stock code, got %s", idx, catErr.Code)
		}
	}

	wantSucceeded := initialStock / perReservation
	if succeeded != wantSucceeded {
		t.Fatalf("expected exactly %d reservations to win, got %d", wantSucceeded, succeeded)
	}

	product, err := repo.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	entry := product.Inventory[0]
	if entry.Stock < 0 {
		t.Fatalf("stock went negative: %d", entry.Stock)
	}
	wantStock := initialStock - wantSucceeded*perReservation
	if entry.Stock != wantStock {
		t.Fatalf("expected stock %d after concurrent reserves, got %d", wantStock, entry.Stock)
	}
	if entry.SoldAmount != wantSucceeded*perReservation {
		t.Fatalf("expected sold amount %d, got %d", wantSucceeded*perReservation, entry.SoldAmount)
	}

	// Releasing one winning reservation restores its units.
	var winner string
	for idx, err := range reserveErrs {
		if err == nil {
			winner = fmt.Sprintf("sr_conc_%d", idx)
			break
		}
	}
	if _, err := repo.Release(ctx, repositories.CatalogReleaseRequest{
		ReservationID: winner,
		Reason:        "checkout_pricing_failed",
		Now:           now.Add(time.Second),
	}); err != nil {
		t.Fatalf("release %s: %v", winner, err)
	}

	product, err = repo.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get product after release: %v", err)
	}
	entry = product.Inventory[0]
	if entry.Stock != wantStock+perReservation {
		t.Fatalf("expected stock %d after release, got %d", wantStock+perReservation, entry.Stock)
	}
}
