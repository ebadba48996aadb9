package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/hedge-bot/internal/domain"
)

// Format is the export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat defaults to CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidArgument, s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

// Options filters the exported results.
type Options struct {
	Format      Format
	StartTime   time.Time
	EndTime     time.Time
	OnlySuccess bool
	// Manual keeps only manual (true) or only automatic (false) hedges when set.
	Manual *bool
}

// HedgeExporter writes hedge results as CSV or JSON.
type HedgeExporter struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewHedgeExporter(logger *zap.Logger) *HedgeExporter {
	return &HedgeExporter{
		logger: logger.Named("export"),
		now:    time.Now,
	}
}

// Summary aggregates an export.
type Summary struct {
	TotalHedges      int           `json:"total_hedges"`
	SuccessfulHedges int           `json:"successful_hedges"`
	ManualHedges     int           `json:"manual_hedges"`
	BuyCount         int           `json:"buy_count"`
	SellCount        int           `json:"sell_count"`
	TotalNotional    float64       `json:"total_notional"`
	TotalCost        float64       `json:"total_cost"`
	AvgLatency       time.Duration `json:"avg_latency"`
	SuccessRate      float64       `json:"success_rate"`
	StartDate        time.Time     `json:"start_date"`
	EndDate          time.Time     `json:"end_date"`
	Hourly           []HourlyStats `json:"hourly_breakdown,omitempty"`
}

// HourlyStats counts hedges per hour of day (UTC).
type HourlyStats struct {
	Hour      int     `json:"hour"`
	Count     int     `json:"count"`
	Succeeded int     `json:"succeeded"`
	Cost      float64 `json:"cost"`
}

var csvHeader = []string{
	"timestamp", "result_id", "position_id", "order_id", "instrument", "underlying",
	"side", "size", "price", "strategy", "success", "manual", "total_cost", "latency_ms", "message",
}

// Write filters results, sorts them by time and encodes them to w. It
// returns the number of results written.
func (e *HedgeExporter) Write(w io.Writer, positionID string, results []domain.HedgeResult, opts Options) (int, error) {
	filtered := Filter(results, opts)
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.Before(filtered[j].Timestamp)
	})

	var err error
	switch opts.Format {
	case FormatCSV, "":
		err = writeCSV(w, filtered)
	case FormatJSON:
		err = e.writeJSON(w, positionID, filtered)
	default:
		err = fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidArgument, opts.Format)
	}
	if err != nil {
		return 0, err
	}

	e.logger.Info("Hedge history exported",
		zap.String("position_id", positionID),
		zap.Int("count", len(filtered)),
		zap.String("format", string(opts.Format)))
	return len(filtered), nil
}

// Filter applies opts to results.
func Filter(results []domain.HedgeResult, opts Options) []domain.HedgeResult {
	var filtered []domain.HedgeResult
	for _, res := range results {
		if !opts.StartTime.IsZero() && res.Timestamp.Before(opts.StartTime) {
			continue
		}
		if !opts.EndTime.IsZero() && res.Timestamp.After(opts.EndTime) {
			continue
		}
		if opts.OnlySuccess && !res.Success {
			continue
		}
		if opts.Manual != nil && res.Manual != *opts.Manual {
			continue
		}
		filtered = append(filtered, res)
	}
	return filtered
}

// writeCSV emits one row per order; results without orders get one row
// with empty order columns.
func writeCSV(w io.Writer, results []domain.HedgeResult) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, res := range results {
		orders := res.Orders
		if len(orders) == 0 {
			orders = []domain.HedgeOrder{{}}
		}
		for _, o := range orders {
			if err := writer.Write(csvRow(res, o)); err != nil {
				return fmt.Errorf("failed to write hedge %s: %w", res.ID, err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func csvRow(res domain.HedgeResult, o domain.HedgeOrder) []string {
	var size, price string
	if o.Symbol != "" {
		size = strconv.FormatFloat(o.Size, 'f', -1, 64)
		price = strconv.FormatFloat(o.Price, 'f', -1, 64)
	}
	return []string{
		res.Timestamp.UTC().Format(time.RFC3339),
		res.ID,
		res.PositionID,
		o.ID,
		o.Symbol,
		o.Underlying,
		string(o.Side),
		size,
		price,
		o.Strategy,
		strconv.FormatBool(res.Success),
		strconv.FormatBool(res.Manual),
		strconv.FormatFloat(res.TotalCost, 'f', 2, 64),
		strconv.FormatInt(res.Latency.Milliseconds(), 10),
		res.Message,
	}
}

func (e *HedgeExporter) writeJSON(w io.Writer, positionID string, results []domain.HedgeResult) error {
	if results == nil {
		results = []domain.HedgeResult{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	data := struct {
		ExportTime time.Time            `json:"export_time"`
		PositionID string               `json:"position_id"`
		Count      int                  `json:"count"`
		Summary    Summary              `json:"summary"`
		Results    []domain.HedgeResult `json:"results"`
	}{
		ExportTime: e.now().UTC(),
		PositionID: positionID,
		Count:      len(results),
		Summary:    Summarize(results),
		Results:    results,
	}
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// Summarize expects results sorted by time.
func Summarize(results []domain.HedgeResult) Summary {
	s := Summary{TotalHedges: len(results)}
	if len(results) == 0 {
		return s
	}
	s.StartDate = results[0].Timestamp
	s.EndDate = results[len(results)-1].Timestamp

	var latency time.Duration
	hourly := make(map[int]*HourlyStats)
	for _, res := range results {
		if res.Success {
			s.SuccessfulHedges++
		}
		if res.Manual {
			s.ManualHedges++
		}
		s.TotalCost += res.TotalCost
		latency += res.Latency

		for _, o := range res.Orders {
			switch o.Side {
			case domain.OrderBuy:
				s.BuyCount++
			case domain.OrderSell:
				s.SellCount++
			}
			if res.Success {
				n, _ := o.Notional().Float64()
				s.TotalNotional += n
			}
		}

		hour := res.Timestamp.UTC().Hour()
		stats, ok := hourly[hour]
		if !ok {
			stats = &HourlyStats{Hour: hour}
			hourly[hour] = stats
		}
		stats.Count++
		stats.Cost += res.TotalCost
		if res.Success {
			stats.Succeeded++
		}
	}

	s.AvgLatency = latency / time.Duration(len(results))
	s.SuccessRate = float64(s.SuccessfulHedges) / float64(len(results)) * 100
	for hour := 0; hour < 24; hour++ {
		if stats, ok := hourly[hour]; ok {
			s.Hourly = append(s.Hourly, *stats)
		}
	}
	return s
}
