package services

import (
	"fmt"
	"sort"
	"strings"

	"imovirtual-scraper/models"
	"imovirtual-scraper/utils"
)

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []models.Listing) *models.MarketReport {
	report := &models.MarketReport{
		ListingsByDistrito: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priceTotal int
	var perM2Total float64
	var perM2Count int

	for i := range listings {
		l := &listings[i]

		if l.Distrito != nil {
			report.ListingsByDistrito[*l.Distrito]++
		}

		if l.Price == nil {
			continue
		}
		price := *l.Price

		report.PricedListings++
		priceTotal += price
		if report.PricedListings == 1 || price < report.MinPrice {
			report.MinPrice = price
		}
		if price > report.MaxPrice {
			report.MaxPrice = price
			report.MostExpensive = l
		}

		if l.AreaM2 != nil && *l.AreaM2 > 0 {
			perM2Total += float64(price) / *l.AreaM2
			perM2Count++
		}
	}

	if report.PricedListings > 0 {
		report.AveragePrice = round2(float64(priceTotal) / float64(report.PricedListings))
	}
	if perM2Count > 0 {
		report.AvgPricePerM2 = round2(perM2Total / float64(perM2Count))
	}

	return report
}

func (s *InsightService) Print(r *models.MarketReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  📊 IMOVIRTUAL SCRAPE INSIGHTS\033[0m\n")
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Printf("\033[1;33m  Overview\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Total listings stored : \033[1m%d\033[0m\n", r.TotalListings)
	fmt.Printf("  Listings with price   : \033[1m%d\033[0m\n", r.PricedListings)
	fmt.Println()

	// Price Stats
	fmt.Printf("\033[1;33m  Price Statistics (EUR)\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if r.PricedListings > 0 {
		fmt.Printf("  Average price : \033[1;32m%.0f €\033[0m\n", r.AveragePrice)
		fmt.Printf("  Minimum price : \033[1;32m%d €\033[0m\n", r.MinPrice)
		fmt.Printf("  Maximum price : \033[1;32m%d €\033[0m\n", r.MaxPrice)
		if r.AvgPricePerM2 > 0 {
			fmt.Printf("  Average €/m²  : \033[1;32m%.2f €\033[0m\n", r.AvgPricePerM2)
		}
	} else {
		fmt.Printf("  No price data available\n")
	}
	fmt.Println()

	// Most Expensive
	if r.MostExpensive != nil {
		fmt.Printf("\033[1;33m  Most Expensive Listing\033[0m\n")
		fmt.Printf("  %s\n", thin)
		fmt.Printf("  %s\n", truncate(r.MostExpensive.Title, 50))
		fmt.Printf("  Location : %s\n", r.MostExpensive.RawLocation)
		if r.MostExpensive.Price != nil {
			fmt.Printf("  Price    : \033[1;31m%d €\033[0m\n", *r.MostExpensive.Price)
		}
		fmt.Println()
	}

	// Listings by Distrito
	fmt.Printf("\033[1;33m  Listings by Distrito\033[0m\n")
	fmt.Printf("  %s\n", thin)
	if len(r.ListingsByDistrito) == 0 {
		fmt.Printf("  No location data\n")
	} else {
		type distCount struct {
			distrito string
			count    int
		}
		var dists []distCount
		for d, cnt := range r.ListingsByDistrito {
			if d != "" {
				dists = append(dists, distCount{d, cnt})
			}
		}
		sort.Slice(dists, func(i, j int) bool {
			return dists[i].count > dists[j].count
		})
		for _, dc := range dists {
			fmt.Printf("  %-30s %d\n", truncate(dc.distrito, 28), dc.count)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// truncate shortens s to at most max characters. It counts runes, not
// bytes, so accented titles are never cut mid-character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
