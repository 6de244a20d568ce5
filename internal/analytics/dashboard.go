package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"nexora-analytics/internal/period"
)

// Dashboard is the combined payload served to the dashboard UI.
type Dashboard struct {
	Period             period.Range   `json:"period"`
	KPIs               KPIs           `json:"kpis"`
	VolumeTrends       []TrendPoint   `json:"volume_trends"`
	TransferTypes      []TypeShare    `json:"transfer_types"`
	NetworkPerformance []NetworkStats `json:"network_performance"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// Assembler builds the dashboard from the four aggregator queries.
type Assembler struct {
	agg *Aggregator
}

// NewAssembler wraps an aggregator.
func NewAssembler(agg *Aggregator) *Assembler {
	return &Assembler{agg: agg}
}

// Build runs the queries concurrently over one resolved period. Any failure
// fails the whole build; no partial dashboard is returned.
func (d *Assembler) Build(ctx context.Context, bankID, token string) (Dashboard, error) {
	r, err := d.agg.Resolve(token)
	if err != nil {
		return Dashboard{}, err
	}

	var (
		kpis     KPIs
		trends   []TrendPoint
		types    []TypeShare
		networks []NetworkStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		kpis, err = d.agg.kpis(gctx, bankID, r)
		return err
	})
	g.Go(func() error {
		var err error
		trends, err = d.agg.volumeTrends(gctx, bankID, r)
		return err
	})
	g.Go(func() error {
		var err error
		types, err = d.agg.typeDistribution(gctx, bankID, r)
		return err
	})
	g.Go(func() error {
		var err error
		networks, err = d.agg.networkPerformance(gctx, bankID, r)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	fillPercentages(types)

	return Dashboard{
		Period:             r,
		KPIs:               kpis,
		VolumeTrends:       trends,
		TransferTypes:      types,
		NetworkPerformance: networks,
		GeneratedAt:        d.agg.now().UTC(),
	}, nil
}

// fillPercentages sets each share against the distribution's own total.
func fillPercentages(types []TypeShare) {
	var total int64
	for _, t := range types {
		total += t.Count
	}
	for i := range types {
		if total == 0 {
			types[i].Percentage = 0
			continue
		}
		types[i].Percentage = money(decimal.NewFromInt(types[i].Count).Mul(hundred).Div(decimal.NewFromInt(total)))
	}
}
