package services

import (
	"testing"
	"unicode/utf8"

	"imovirtual-scraper/models"
	"imovirtual-scraper/utils"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

func sampleListings() []models.Listing {
	return []models.Listing{
		{Title: "T2 Benfica", Price: intPtr(200000), AreaM2: floatPtr(80), Distrito: strPtr("Lisboa"), URL: "https://www.imovirtual.com/pt/anuncio/1"},
		{Title: "T0 Arroios", Price: intPtr(120000), AreaM2: floatPtr(40), Distrito: strPtr("Lisboa"), URL: "https://www.imovirtual.com/pt/anuncio/2"},
		{Title: "T3 Matosinhos", Price: intPtr(300000), AreaM2: floatPtr(120), Distrito: strPtr("Porto"), URL: "https://www.imovirtual.com/pt/anuncio/3"},
		{Title: "T1 sem preço", Price: nil, Distrito: strPtr("Porto"), URL: "https://www.imovirtual.com/pt/anuncio/4"},
		{Title: "T2 sem distrito", Price: intPtr(180000), URL: "https://www.imovirtual.com/pt/anuncio/5"},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(utils.NewLogger())
	r := svc.Generate(sampleListings())
	if r.TotalListings != 5 {
		t.Errorf("TotalListings: got %d, want 5", r.TotalListings)
	}
	if r.PricedListings != 4 {
		t.Errorf("PricedListings: got %d, want 4", r.PricedListings)
	}
}

func TestInsightPrices(t *testing.T) {
	svc := NewInsightService(utils.NewLogger())
	r := svc.Generate(sampleListings())
	if r.AveragePrice != 200000 {
		t.Errorf("AveragePrice: got %.2f, want 200000", r.AveragePrice)
	}
	if r.MinPrice != 120000 {
		t.Errorf("MinPrice: got %d, want 120000", r.MinPrice)
	}
	if r.MaxPrice != 300000 {
		t.Errorf("MaxPrice: got %d, want 300000", r.MaxPrice)
	}
}

func TestInsightPricePerM2(t *testing.T) {
	svc := NewInsightService(utils.NewLogger())
	r := svc.Generate(sampleListings())
	// (200000/80 + 120000/40 + 300000/120) / 3 = (2500 + 3000 + 2500) / 3
	want := 2666.67
	if r.AvgPricePerM2 != want {
		t.Errorf("AvgPricePerM2: got %.2f, want %.2f", r.AvgPricePerM2, want)
	}
}

func TestInsightMostExpensive(t *testing.T) {
	svc := NewInsightService(utils.NewLogger())
	r := svc.Generate(sampleListings())
	if r.MostExpensive == nil {
		t.Fatal("MostExpensive should not be nil")
	}
	if r.MostExpensive.Title != "T3 Matosinhos" {
		t.Errorf("MostExpensive: got %q, want %q", r.MostExpensive.Title, "T3 Matosinhos")
	}
}

func TestInsightDistritoGrouping(t *testing.T) {
	svc := NewInsightService(utils.NewLogger())
	r := svc.Generate(sampleListings())
	if r.ListingsByDistrito["Lisboa"] != 2 {
		t.Errorf("Lisboa count: got %d, want 2", r.ListingsByDistrito["Lisboa"])
	}
	if r.ListingsByDistrito["Porto"] != 2 {
		t.Errorf("Porto count: got %d, want 2", r.ListingsByDistrito["Porto"])
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"T2 Benfica", 50, "T2 Benfica"},
		{"Apartamento T3 em São João da Madeira", 20, "Apartamento T3 em..."},
		{"Sótão único, vista rio", 10, "Sótão ú..."},
	}

	for _, tt := range tests {
		got := truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q; want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8: %q", tt.in, tt.max, got)
		}
	}
}

func TestInsightEmptyInput(t *testing.T) {
	svc := NewInsightService(utils.NewLogger())
	r := svc.Generate(nil)
	if r.TotalListings != 0 {
		t.Errorf("expected 0 total listings for empty input")
	}
}
