package engine

// Bar-by-bar fill simulation with volume-participation caps.

// RefPriceFunc selects the per-bar reference price used for fills. The
// convention is fixed per run; ClosePrice is the default and matches the
// rest of the pipeline, which marks positions at the close.
type RefPriceFunc func(Bar) float64

func ClosePrice(b Bar) float64 { return b.Close }

func OpenPrice(b Bar) float64 { return b.Open }

// FillState is the lifecycle of an order intent inside the simulator.
type FillState int

const (
	FillPending FillState = iota
	FillPartial
	FillFilled
)

// openOrder is the mutable working state for one intent. The intent itself is
// never modified.
type openOrder struct {
	intent    OrderIntent
	remaining float64
	state     FillState
}

func newOpenOrder(intent OrderIntent) *openOrder {
	return &openOrder{intent: intent, remaining: intent.Qty, state: FillPending}
}

// participation is the running filled-quantity / traded-volume ratio for one
// symbol run. Each run owns its own instance; nothing is shared across runs.
type participation struct {
	filledQty float64
	volume    float64
}

// observeBar accumulates the bar's volume into the run total.
func (p *participation) observeBar(vol float64) {
	if vol > 0 {
		p.volume += vol
	}
}

// prospective returns the participation ratio as it would stand after filling
// qty more shares. Not capped at 1: volume data can under-report tradable
// liquidity, and the ratio is reported as observed.
func (p *participation) prospective(qty float64) float64 {
	if p.volume <= 0 {
		return 0
	}
	return (p.filledQty + qty) / p.volume
}

func (p *participation) commit(qty float64) {
	p.filledQty += qty
}

// FillSimulator fills pending intents against bars, applying the
// participation cap and the cost model. One instance per symbol run.
type FillSimulator struct {
	cfg      CostConfig
	refPrice RefPriceFunc
}

func NewFillSimulator(cfg CostConfig, refPrice RefPriceFunc) *FillSimulator {
	if refPrice == nil {
		refPrice = ClosePrice
	}
	return &FillSimulator{cfg: cfg, refPrice: refPrice}
}

// FillOnBar attempts to fill ord on this bar. It returns the emitted trade
// record and true, or a zero record and false when the bar offers no
// liquidity under the cap (not an error, the intent stays pending).
func (s *FillSimulator) FillOnBar(bar Bar, ord *openOrder, part *participation) (TradeRecord, bool) {
	if ord.remaining <= 0 {
		return TradeRecord{}, false
	}

	qty := ord.remaining
	if s.cfg.ParticipationCap != nil {
		maxFillable := *s.cfg.ParticipationCap * bar.Volume
		if maxFillable <= 0 {
			return TradeRecord{}, false
		}
		if maxFillable < qty {
			qty = maxFillable
		}
	}

	ref := s.refPrice(bar)
	cumPart := part.prospective(qty)
	costs := ApplyCosts(ref, ord.intent.Side, qty, cumPart, s.cfg)

	ord.remaining -= qty
	if ord.remaining <= 0 {
		ord.remaining = 0
		ord.state = FillFilled
	} else {
		ord.state = FillPartial
	}
	part.commit(qty)

	return TradeRecord{
		Ts:               bar.Ts,
		Symbol:           ord.intent.Symbol,
		Side:             ord.intent.Side,
		Qty:              qty,
		Remaining:        ord.remaining,
		OriginalQty:      ord.intent.Qty,
		RefPrice:         ref,
		EffectivePrice:   costs.EffectivePrice,
		Commission:       costs.Commission,
		SlippageBps:      costs.SlippageBps,
		ImpactApplied:    costs.ImpactApplied,
		CumParticipation: cumPart,
	}, true
}
