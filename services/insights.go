package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"merchant/models"
	"merchant/storage"
	"merchant/utils"
)

// HistogramBins is the fixed number of price bins in a market report.
const HistogramBins = 20

type InsightService struct {
	reader storage.PriceReader
	logger *utils.Logger
}

func NewInsightService(reader storage.PriceReader, logger *utils.Logger) *InsightService {
	return &InsightService{reader: reader, logger: logger}
}

// Report loads the asks of item within category at or above minPrice and
// summarizes them.
func (s *InsightService) Report(ctx context.Context, category, item string, minPrice int) (*models.MarketReport, error) {
	points, err := s.reader.PriceObservations(ctx, category, item, minPrice)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	s.logger.Info("[insights] %s / %s: %d asks >= $%d", category, item, len(points), minPrice)
	return s.Generate(category, item, minPrice, points), nil
}

func (s *InsightService) Generate(category, item string, minPrice int, points []models.PricePoint) *models.MarketReport {
	report := &models.MarketReport{
		Category: category,
		Item:     item,
		MinPrice: minPrice,
		Count:    len(points),
	}

	if len(points) == 0 {
		return report
	}

	prices := make([]int, len(points))
	var (
		total    int
		lifespan time.Duration
	)
	report.LowestAsk = points[0].Price
	report.HighestAsk = points[0].Price
	for i := range points {
		p := &points[i]
		prices[i] = p.Price
		total += p.Price
		lifespan += p.Lifespan()
		if p.Price < report.LowestAsk {
			report.LowestAsk = p.Price
		}
		if p.Price > report.HighestAsk {
			report.HighestAsk = p.Price
		}
		if report.LongestListed == nil || p.Lifespan() > report.LongestListed.Lifespan() {
			report.LongestListed = p
		}
	}

	report.MeanAsk = round2(float64(total) / float64(len(points)))
	report.MeanLifespan = lifespan / time.Duration(len(points))

	sort.Ints(prices)
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		report.MedianAsk = float64(prices[mid])
	} else {
		report.MedianAsk = round2(float64(prices[mid-1]+prices[mid]) / 2)
	}

	report.Histogram = histogram(prices, report.LowestAsk, report.HighestAsk)
	return report
}

// histogram splits [low, high] into HistogramBins equal integer-width bins.
func histogram(prices []int, low, high int) []models.HistogramBin {
	width := (high - low + HistogramBins) / HistogramBins
	if width < 1 {
		width = 1
	}

	bins := make([]models.HistogramBin, HistogramBins)
	for i := range bins {
		bins[i].Low = low + i*width
		bins[i].High = bins[i].Low + width
	}
	for _, p := range prices {
		i := (p - low) / width
		if i >= HistogramBins {
			i = HistogramBins - 1
		}
		bins[i].Count++
	}
	return bins
}

func (s *InsightService) Print(w io.Writer, r *models.MarketReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📊 MARKET REPORT: %s / %s\033[0m\n", r.Category, r.Item)
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	// Overview
	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Listings asking >= $%d : \033[1m%d\033[0m\n", r.MinPrice, r.Count)
	fmt.Fprintln(w)

	if r.Count == 0 {
		fmt.Fprintf(w, "  No price data available\n")
		fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
		return
	}

	// Price Stats
	fmt.Fprintf(w, "\033[1;33m  Asking Price\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Mean ask   : \033[1;32m$%.2f\033[0m\n", r.MeanAsk)
	fmt.Fprintf(w, "  Median ask : \033[1;32m$%.2f\033[0m\n", r.MedianAsk)
	fmt.Fprintf(w, "  Lowest     : \033[1;32m$%d\033[0m\n", r.LowestAsk)
	fmt.Fprintf(w, "  Highest    : \033[1;32m$%d\033[0m\n", r.HighestAsk)
	fmt.Fprintln(w)

	// Time on market
	fmt.Fprintf(w, "\033[1;33m  Time on Market\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Mean lifespan : \033[1m%s\033[0m\n", formatDays(r.MeanLifespan))
	if r.LongestListed != nil {
		fmt.Fprintf(w, "  Longest listed: \033[1;31m$%d\033[0m for %s\n",
			r.LongestListed.Price, formatDays(r.LongestListed.Lifespan()))
	}
	fmt.Fprintln(w)

	// Distribution
	fmt.Fprintf(w, "\033[1;33m  Ask Distribution\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	peak := 0
	for _, b := range r.Histogram {
		if b.Count > peak {
			peak = b.Count
		}
	}
	for _, b := range r.Histogram {
		bar := strings.Repeat("█", scaleBar(b.Count, peak, 30))
		fmt.Fprintf(w, "  $%6d-%-6d %s (%d)\n", b.Low, b.High-1, bar, b.Count)
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func scaleBar(count, peak, width int) int {
	if peak <= width {
		return count
	}
	n := count * width / peak
	if n == 0 && count > 0 {
		n = 1
	}
	return n
}

func formatDays(d time.Duration) string {
	return fmt.Sprintf("%.1f days", d.Hours()/24)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
