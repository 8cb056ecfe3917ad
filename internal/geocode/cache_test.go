package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"fleet-monitor/monitor/internal/geo"
)

type mockStore struct {
	getFn func(ctx context.Context, address string) (geo.Point, bool, error)
	setFn func(ctx context.Context, address string, p geo.Point, ttl time.Duration) error
}

func (m *mockStore) GetGeocode(ctx context.Context, address string) (geo.Point, bool, error) {
	if m.getFn != nil {
		return m.getFn(ctx, address)
	}
	return geo.Point{}, false, nil
}

func (m *mockStore) SetGeocode(ctx context.Context, address string, p geo.Point, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, address, p, ttl)
	}
	return nil
}

type mockProvider struct {
	calls    int
	lookupFn func(ctx context.Context, address string) (geo.Point, bool, error)
}

func (m *mockProvider) Lookup(ctx context.Context, address string) (geo.Point, bool, error) {
	m.calls++
	return m.lookupFn(ctx, address)
}

var durban = geo.Point{Lat: -29.8587, Lon: 31.0218}

func TestGeocode_ProviderResultIsCachedAtBothLevels(t *testing.T) {
	var stored string
	store := &mockStore{
		setFn: func(_ context.Context, address string, p geo.Point, ttl time.Duration) error {
			stored = address
			if p != durban || ttl != time.Hour {
				t.Errorf("unexpected set %v %v", p, ttl)
			}
			return nil
		},
	}
	provider := &mockProvider{lookupFn: func(context.Context, string) (geo.Point, bool, error) {
		return durban, true, nil
	}}
	c := NewCache(store, provider, time.Hour, nil)

	for i := 0; i < 3; i++ {
		p, ok := c.Geocode(context.Background(), "  12 Smith  St, Durban ")
		if !ok || p != durban {
			t.Fatalf("call %d: got %v %v", i, p, ok)
		}
	}
	if provider.calls != 1 {
		t.Fatalf("expected one provider call, got %d", provider.calls)
	}
	if stored != "12 smith st, durban" {
		t.Fatalf("expected normalized key in store, got %q", stored)
	}
}

func TestGeocode_StoreHitSkipsProvider(t *testing.T) {
	store := &mockStore{getFn: func(context.Context, string) (geo.Point, bool, error) {
		return durban, true, nil
	}}
	provider := &mockProvider{lookupFn: func(context.Context, string) (geo.Point, bool, error) {
		t.Fatal("provider should not be called")
		return geo.Point{}, false, nil
	}}
	c := NewCache(store, provider, 0, nil)

	if p, ok := c.Geocode(context.Background(), "depot"); !ok || p != durban {
		t.Fatalf("got %v %v", p, ok)
	}
}

func TestGeocode_ExpiredLocalEntryFallsThrough(t *testing.T) {
	lookups := 0
	store := &mockStore{getFn: func(context.Context, string) (geo.Point, bool, error) {
		lookups++
		return durban, true, nil
	}}
	c := NewCache(store, nil, time.Minute, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Geocode(context.Background(), "depot")
	c.Geocode(context.Background(), "depot")
	now = now.Add(2 * time.Minute)
	c.Geocode(context.Background(), "depot")

	if lookups != 2 {
		t.Fatalf("expected 2 store lookups, got %d", lookups)
	}
}

func TestGeocode_Misses(t *testing.T) {
	failing := &mockStore{getFn: func(context.Context, string) (geo.Point, bool, error) {
		return geo.Point{}, false, errors.New("redis down")
	}}

	tests := []struct {
		name     string
		address  string
		provider Provider
	}{
		{"blank address", "   ", nil},
		{"no provider", "depot", nil},
		{"provider error", "depot", &mockProvider{lookupFn: func(context.Context, string) (geo.Point, bool, error) {
			return geo.Point{}, false, errors.New("quota")
		}}},
		{"provider returns null island", "depot", &mockProvider{lookupFn: func(context.Context, string) (geo.Point, bool, error) {
			return geo.Point{}, true, nil
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(failing, tt.provider, 0, nil)
			if _, ok := c.Geocode(context.Background(), tt.address); ok {
				t.Fatal("expected a miss")
			}
		})
	}
}
