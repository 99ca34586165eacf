package imovirtual

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"imovirtual-scraper/models"
	"imovirtual-scraper/utils"
)

const (
	listingURLPrefix = "https://www.imovirtual.com/pt/anuncio/"

	// maxRoomCount caps the T typology: T4, T5, T6… all land in the same
	// bucket the downstream model is trained on.
	maxRoomCount = 4
)

var (
	// priceRegexp captures a euro amount with thousands separators, e.g. "350.000 €".
	priceRegexp = regexp.MustCompile(`\d[\d.\s\x{00a0}]*`)
	// areaRegexp captures a numeric area before an optional m² suffix.
	areaRegexp = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)
	// typologyRegexp captures the Portuguese room typology token, e.g. "T3".
	typologyRegexp = regexp.MustCompile(`\bT(\d+)\b`)
)

// ParseResult is one page's extraction outcome. ElementsFound counts the
// listing elements present in the markup, letting the orchestrator tell an
// empty page (end of pagination) apart from a page where every element
// failed to parse.
type ParseResult struct {
	Listings      []models.Listing
	ElementsFound int
}

// ListingParser extracts partially-filled listings from one page of markup.
// A fresh Parse call is required per page; results are never cached.
type ListingParser struct {
	logger *utils.Logger
}

// NewListingParser creates a ListingParser with the given logger.
func NewListingParser(logger *utils.Logger) *ListingParser {
	return &ListingParser{logger: logger}
}

// nextData mirrors the slice of the source's __NEXT_DATA__ payload the
// parser cares about.
type nextData struct {
	Props struct {
		PageProps struct {
			Data struct {
				SearchAds searchAds `json:"searchAds"`
			} `json:"data"`
		} `json:"pageProps"`
	} `json:"props"`
}

type searchAds struct {
	TotalHits  int `json:"totalHits"`
	Pagination struct {
		CurrentPage int `json:"currentPage"`
	} `json:"pagination"`
	Items   []adItem `json:"items"`
	Results []adItem `json:"results"`
}

type adItem struct {
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	IsPromoted bool   `json:"isPromoted"`
	TotalPrice *struct {
		Value float64 `json:"value"`
	} `json:"totalPrice"`
	AreaInSquareMeters *float64 `json:"areaInSquareMeters"`
	NumberOfRooms      *int     `json:"numberOfRooms"`
	Location           struct {
		City struct {
			Name string `json:"name"`
		} `json:"city"`
		District struct {
			Name string `json:"name"`
		} `json:"district"`
	} `json:"location"`
}

// Parse extracts listings from a fetched page. The preferred strategy is the
// embedded __NEXT_DATA__ JSON; pages without it fall back to the JSON-LD
// offer graph. Zero listing elements is a valid result signalling the end of
// pagination, not an error.
func (p *ListingParser) Parse(html string, page int) (*ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parser: parse document: %w", err)
	}

	if raw := doc.Find("script#__NEXT_DATA__").Text(); raw != "" {
		result, ok := p.parseNextData(raw, page)
		if ok {
			return result, nil
		}
	}

	return p.parseJSONLD(doc), nil
}

// parseNextData handles the primary extraction strategy. ok is false when
// the payload does not decode, sending the caller to the JSON-LD fallback.
func (p *ListingParser) parseNextData(raw string, page int) (*ParseResult, bool) {
	var data nextData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		p.logger.Debug("[parser] __NEXT_DATA__ decode failed: %v", err)
		return nil, false
	}

	ads := data.Props.PageProps.Data.SearchAds
	items := ads.Items
	if len(items) == 0 {
		items = ads.Results
	}

	// Termination check: past page 1, the source answers out-of-range pages
	// with a fallback to page 1 or with zero hits. Either means the real
	// results ran out.
	if page > 1 && (ads.Pagination.CurrentPage != page || ads.TotalHits == 0) {
		p.logger.Debug("[parser] end of results via metadata (requested %d, actual %d, hits %d)",
			page, ads.Pagination.CurrentPage, ads.TotalHits)
		return &ParseResult{}, true
	}

	result := &ParseResult{ElementsFound: len(items)}
	for _, item := range items {
		// Out-of-range pages pad with promoted recommendations.
		if item.IsPromoted && page > 1 && ads.TotalHits == 0 {
			continue
		}

		listing, ok := p.listingFromItem(item)
		if !ok {
			continue
		}
		result.Listings = append(result.Listings, listing)
	}
	return result, true
}

func (p *ListingParser) listingFromItem(item adItem) (models.Listing, bool) {
	if item.Slug == "" {
		p.logger.Warn("[parser] skipping listing without slug (title %q) — cannot deduplicate", item.Title)
		return models.Listing{}, false
	}

	title := normaliseText(item.Title)
	if title == "" {
		p.logger.Warn("[parser] skipping listing without title: %s", item.Slug)
		return models.Listing{}, false
	}

	listing := models.Listing{
		Title:     title,
		URL:       listingURLPrefix + item.Slug,
		ScrapedAt: time.Now(),
	}

	if item.TotalPrice != nil {
		price := int(item.TotalPrice.Value)
		listing.Price = &price
	}
	if item.AreaInSquareMeters != nil {
		listing.AreaM2 = item.AreaInSquareMeters
	}
	if item.NumberOfRooms != nil {
		rooms := capRooms(*item.NumberOfRooms)
		listing.RoomCount = &rooms
	} else if rooms := ParseTypology(title); rooms != nil {
		listing.RoomCount = rooms
	}

	city := normaliseText(item.Location.City.Name)
	district := normaliseText(item.Location.District.Name)
	listing.RawLocation = joinLocation(city, district)

	return listing, true
}

// JSON-LD fallback types. The source sometimes nests the offer list under a
// @graph array, sometimes directly under offers.
type ldDocument struct {
	Graph  []ldNode  `json:"@graph"`
	Offers *ldOffers `json:"offers"`
}

type ldNode struct {
	Offers *ldOffers `json:"offers"`
}

type ldOffers struct {
	Offers []ldOffer `json:"offers"`
}

type ldOffer struct {
	Name        string      `json:"name"`
	Price       json.Number `json:"price"`
	URL         string      `json:"url"`
	ItemOffered struct {
		Address struct {
			AddressLocality string `json:"addressLocality"`
			AddressRegion   string `json:"addressRegion"`
		} `json:"address"`
		FloorSize *struct {
			Value json.Number `json:"value"`
		} `json:"floorSize"`
		NumberOfRooms *json.Number `json:"numberOfRooms"`
	} `json:"itemOffered"`
}

func (p *ListingParser) parseJSONLD(doc *goquery.Document) *ParseResult {
	result := &ParseResult{}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var ld ldDocument
		if err := json.Unmarshal([]byte(sel.Text()), &ld); err != nil {
			return true // try the next script tag
		}

		offers := ld.Offers
		for _, node := range ld.Graph {
			if node.Offers != nil && len(node.Offers.Offers) > 0 {
				offers = node.Offers
				break
			}
		}
		if offers == nil || len(offers.Offers) == 0 {
			return true
		}

		result.ElementsFound = len(offers.Offers)
		for _, offer := range offers.Offers {
			listing, ok := p.listingFromOffer(offer)
			if !ok {
				continue
			}
			result.Listings = append(result.Listings, listing)
		}
		return false
	})

	return result
}

func (p *ListingParser) listingFromOffer(offer ldOffer) (models.Listing, bool) {
	if offer.URL == "" {
		p.logger.Warn("[parser] skipping JSON-LD offer without URL (name %q)", offer.Name)
		return models.Listing{}, false
	}

	title := normaliseText(offer.Name)
	if title == "" {
		p.logger.Warn("[parser] skipping JSON-LD offer without name: %s", offer.URL)
		return models.Listing{}, false
	}

	listing := models.Listing{
		Title:     title,
		URL:       offer.URL,
		ScrapedAt: time.Now(),
	}

	listing.Price = ParsePrice(offer.Price.String())

	if offer.ItemOffered.FloorSize != nil {
		listing.AreaM2 = ParseArea(offer.ItemOffered.FloorSize.Value.String())
	}
	if offer.ItemOffered.NumberOfRooms != nil {
		if n, err := strconv.Atoi(offer.ItemOffered.NumberOfRooms.String()); err == nil {
			rooms := capRooms(n)
			listing.RoomCount = &rooms
		}
	} else if rooms := ParseTypology(title); rooms != nil {
		listing.RoomCount = rooms
	}

	addr := offer.ItemOffered.Address
	listing.RawLocation = joinLocation(normaliseText(addr.AddressLocality), normaliseText(addr.AddressRegion))

	return listing, true
}

// ParsePrice extracts an integer euro amount from a raw price string,
// stripping the currency sign and thousands separators:
//
//	"350.000 €" → 350000
//	"free"      → nil
func ParsePrice(raw string) *int {
	match := priceRegexp.FindString(raw)
	if match == "" {
		return nil
	}

	var digits strings.Builder
	for _, r := range match {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return nil
	}

	value, err := strconv.Atoi(digits.String())
	if err != nil {
		return nil
	}
	return &value
}

// ParseArea extracts a floating-point area, tolerating a comma decimal
// separator and a trailing unit ("120,5 m²" → 120.5).
func ParseArea(raw string) *float64 {
	match := areaRegexp.FindStringSubmatch(raw)
	if len(match) < 2 {
		return nil
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", "."), 64)
	if err != nil {
		return nil
	}
	return &value
}

// ParseTypology maps a "T<digit>" token to a room count: T0 → 0, T3 → 3,
// T5 and above capped at 4. No token → nil.
func ParseTypology(raw string) *int {
	match := typologyRegexp.FindStringSubmatch(raw)
	if len(match) < 2 {
		return nil
	}

	n, err := strconv.Atoi(match[1])
	if err != nil {
		return nil
	}
	rooms := capRooms(n)
	return &rooms
}

func capRooms(n int) int {
	if n > maxRoomCount {
		return maxRoomCount
	}
	return n
}

// normaliseText strips leading/trailing whitespace and collapses internal
// whitespace.
func normaliseText(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

func joinLocation(city, district string) string {
	switch {
	case city != "" && district != "":
		return city + ", " + district
	case city != "":
		return city
	default:
		return district
	}
}
