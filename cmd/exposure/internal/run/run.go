package run

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"

	"github.com/meenmo/xvalib/calendar"
	"github.com/meenmo/xvalib/cmd/exposure/internal/sim"
	"github.com/meenmo/xvalib/collateral"
	"github.com/meenmo/xvalib/config"
	"github.com/meenmo/xvalib/curve"
	"github.com/meenmo/xvalib/dim"
	"github.com/meenmo/xvalib/exposure"
	"github.com/meenmo/xvalib/logger"
	"github.com/meenmo/xvalib/marketdata"
	"github.com/meenmo/xvalib/portfolio"
	"github.com/meenmo/xvalib/utils"
)

// Input defines the JSON input schema of the run command.
//
// Dates are ISO (YYYY-MM-DD). Rates and volatilities are decimals.
type Input struct {
	Asof string `json:"asof"`

	// Either Dates or GridMonths/GridCount defines the simulation grid.
	Dates      []string `json:"dates,omitempty"`
	GridMonths int      `json:"grid_months,omitempty"`
	GridCount  int      `json:"grid_count,omitempty"`

	Samples  int     `json:"samples"`
	Seed     uint64  `json:"seed"`
	ZeroRate float64 `json:"zero_rate"`

	Trades      []TradeInput           `json:"trades"`
	NettingSets []portfolio.NettingSet `json:"netting_sets"`
	Balances    collateral.Balances    `json:"balances,omitempty"`
	FX          map[string]sim.Factor  `json:"fx,omitempty"`
	Indices     map[string]sim.Factor  `json:"indices,omitempty"`
	// Fixings are today's index fixings.
	Fixings map[string]float64 `json:"fixings,omitempty"`

	// DIMMultiplier scales the simulated value volatility into initial margin.
	DIMMultiplier float64 `json:"dim_multiplier,omitempty"`
}

// TradeInput is a trade plus the parameters of its simulated value.
type TradeInput struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Counterparty string                  `json:"counterparty"`
	NettingSetID string                  `json:"netting_set_id"`
	Maturity     string                  `json:"maturity"`
	Actions      []portfolio.TradeAction `json:"actions,omitempty"`
	NPV          float64                 `json:"npv"`
	Volatility   float64                 `json:"volatility"`
}

// Output is the JSON summary written to stdout.
type Output struct {
	Asof        string          `json:"asof,omitempty"`
	Dates       []string        `json:"dates,omitempty"`
	Trades      []TradeSummary  `json:"trades,omitempty"`
	NettingSets []NettingSetSum `json:"netting_sets,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type TradeSummary struct {
	ID    string    `json:"id"`
	EPE   []float64 `json:"epe"`
	ENE   []float64 `json:"ene"`
	PFE   []float64 `json:"pfe"`
	EPEB  float64   `json:"epe_b"`
	EEPEB float64   `json:"eepe_b"`
}

type NettingSetSum struct {
	ID                 string    `json:"id"`
	Counterparty       string    `json:"counterparty"`
	ValueToday         float64   `json:"value_today"`
	EPE                []float64 `json:"epe"`
	ENE                []float64 `json:"ene"`
	PFE                []float64 `json:"pfe"`
	ExpectedCollateral []float64 `json:"expected_collateral"`
	EPEB               float64   `json:"epe_b"`
	EEPEB              float64   `json:"eepe_b"`
	Colva              float64   `json:"colva"`
	CollateralFloor    float64   `json:"collateral_floor"`
}

func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inputPath := fs.String("input", "", "JSON input path (optional; if set, ignores stdin)")
	configPath := fs.String("config", "", "YAML config path (optional; defaults apply)")
	showMetrics := fs.Bool("metrics", false, "Write Prometheus metrics to stderr after the run")
	help := fs.Bool("h", false, "Show help")
	fs.BoolVar(help, "help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		usage(stderr)
		return 0
	}

	cfg := config.DefaultConfig
	if path := strings.TrimSpace(*configPath); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return writeError(stdout, fmt.Sprintf("failed to load config: %v", err))
		}
		cfg = *loaded
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, Out: stderr})
	logger.SetGlobalLogger(log)

	path := strings.TrimSpace(*inputPath)
	if path == "" {
		if f, ok := stdin.(*os.File); ok {
			if stat, err := f.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) != 0 {
				usage(stderr)
				return 2
			}
		}
	}

	inputBytes, err := readInput(stdin, path)
	if err != nil {
		return writeError(stdout, fmt.Sprintf("failed to read input: %v", err))
	}

	var input Input
	if err := json.Unmarshal(inputBytes, &input); err != nil {
		return writeError(stdout, fmt.Sprintf("failed to parse JSON input: %v", err))
	}

	output, err := calculate(input, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("exposure run failed")
		return writeError(stdout, err.Error())
	}

	outputBytes, _ := json.Marshal(output)
	fmt.Fprintln(stdout, string(outputBytes))

	if *showMetrics {
		if err := writeMetrics(stderr); err != nil {
			log.Warn().Err(err).Msg("failed to write metrics")
		}
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  exposure run < input.json")
	fmt.Fprintln(w, "  exposure run -input /path/to/input.json -config config.yaml")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Simulate trade values, compute trade and netting set exposure, output JSON to stdout.")
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path != "" {
		return os.ReadFile(path)
	}
	return io.ReadAll(stdin)
}

func writeError(stdout io.Writer, msg string) int {
	output := Output{Error: msg}
	outputBytes, _ := json.Marshal(output)
	fmt.Fprintln(stdout, string(outputBytes))
	return 1
}

func writeMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "xva_") {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func calculate(input Input, cfg config.Config, log zerolog.Logger) (*Output, error) {
	asof, err := utils.ParseDate(input.Asof)
	if err != nil {
		return nil, fmt.Errorf("invalid asof: %v", err)
	}
	dates, err := simulationDates(asof, input)
	if err != nil {
		return nil, err
	}

	trades := make([]portfolio.Trade, 0, len(input.Trades))
	models := make([]sim.TradeModel, 0, len(input.Trades))
	for _, t := range input.Trades {
		maturity, err := utils.ParseDate(t.Maturity)
		if err != nil {
			return nil, fmt.Errorf("trade %s: invalid maturity: %v", t.ID, err)
		}
		trades = append(trades, portfolio.Trade{
			ID:           t.ID,
			Type:         t.Type,
			Counterparty: t.Counterparty,
			NettingSetID: t.NettingSetID,
			Maturity:     maturity,
			Actions:      t.Actions,
		})
		models = append(models, sim.TradeModel{ID: t.ID, NPV: t.NPV, Volatility: t.Volatility, Maturity: maturity})
	}
	pf, err := portfolio.New(trades...)
	if err != nil {
		return nil, err
	}

	simulated, err := sim.Run(sim.Params{
		Asof:     asof,
		Dates:    dates,
		Samples:  input.Samples,
		Seed:     input.Seed,
		ZeroRate: input.ZeroRate,
		Trades:   models,
		FX:       input.FX,
		Indices:  input.Indices,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("trades", len(trades)).
		Int("dates", len(dates)).
		Int("samples", input.Samples).
		Msg("valuation cube simulated")

	disc := curve.NewFlatCurve(asof, input.ZeroRate)
	tp := exposure.TradeParams{
		Portfolio: pf,
		Cube:      simulated.Cube,
		Curve:     disc,
		Today:     asof,
		Config:    cfg,
	}
	tc, err := exposure.NewTradeExposureCalculator(tp, exposure.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := tc.Build(); err != nil {
		return nil, err
	}

	fixings := marketdata.NewMapFixingFeed()
	for index, v := range input.Fixings {
		fixings.Add(index, asof, v)
	}
	for _, ns := range input.NettingSets {
		if ns.CSA == nil || ns.CSA.Index == "" {
			continue
		}
		if v, ok := input.Fixings[ns.CSA.Index]; ok {
			fixings.Add(ns.CSA.Index, calendar.AdjustPreceding(ns.CSA.IndexCalendar, asof), v)
		}
	}
	market := exposure.StaticMarket{
		BaseCurrency: cfg.BaseCurrency,
		FX:           make(map[string]float64, len(input.FX)),
		Fixings:      fixings,
	}
	for ccy, f := range input.FX {
		market.FX[ccy] = f.Spot
	}

	np := exposure.NettedParams{
		Portfolio:         pf,
		NettingSets:       portfolio.NewNettingSetManager(input.NettingSets...),
		Cube:              simulated.Cube,
		ScenarioData:      simulated.ScenarioData,
		Market:            market,
		Curve:             disc,
		Balances:          input.Balances,
		Accumulators:      tc.Accumulators(),
		TradeExposureCube: tc.ExposureCube(),
		Today:             asof,
		Config:            cfg,
	}
	if cfg.ApplyInitialMargin {
		np.DIM = scaledVolatility(tc.Accumulators(), input)
	}
	nc, err := exposure.NewNettedExposureCalculator(np, exposure.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := nc.Build(); err != nil {
		return nil, err
	}

	out := &Output{Asof: asof.Format(utils.DateLayout)}
	for _, d := range dates {
		out.Dates = append(out.Dates, d.Format(utils.DateLayout))
	}
	for _, t := range pf.Trades() {
		prof, _ := tc.Profile(t.ID)
		out.Trades = append(out.Trades, TradeSummary{
			ID:    t.ID,
			EPE:   prof.EPE,
			ENE:   prof.ENE,
			PFE:   prof.PFE,
			EPEB:  tc.EPEB(t.ID),
			EEPEB: tc.EEPEB(t.ID),
		})
	}
	for _, id := range nc.NettingSetIDs() {
		res, _ := nc.Result(id)
		out.NettingSets = append(out.NettingSets, NettingSetSum{
			ID:                 id,
			Counterparty:       res.Counterparty,
			ValueToday:         res.ValueToday,
			EPE:                res.Profile.EPE,
			ENE:                res.Profile.ENE,
			PFE:                res.Profile.PFE,
			ExpectedCollateral: res.ExpectedCollateral,
			EPEB:               res.EPEB,
			EEPEB:              res.EEPEB,
			Colva:              res.Colva,
			CollateralFloor:    res.CollateralFloor,
		})
	}
	return out, nil
}

// scaledVolatility approximates DIM from the spread of simulated netting set
// values over the MPoR of each CSA.
func scaledVolatility(acc *exposure.Accumulators, input Input) dim.Calculator {
	multiplier := input.DIMMultiplier
	if multiplier == 0 {
		multiplier = 2.33
	}
	out := dim.Matrix{}
	for _, ns := range input.NettingSets {
		if ns.CSA == nil {
			continue
		}
		calc := dim.ScaledVolatility{
			Values:     acc.DefaultValue,
			Multiplier: multiplier,
			MporDays:   ns.CSA.MporDays,
		}
		if m, ok := calc.DynamicIM(ns.ID); ok {
			out[ns.ID] = m
		}
	}
	return out
}

func simulationDates(asof time.Time, input Input) ([]time.Time, error) {
	if len(input.Dates) > 0 {
		dates := make([]time.Time, 0, len(input.Dates))
		for _, s := range input.Dates {
			d, err := utils.ParseDate(s)
			if err != nil {
				return nil, fmt.Errorf("invalid date %q: %v", s, err)
			}
			dates = append(dates, d)
		}
		utils.SortDates(dates)
		return dates, nil
	}
	if input.GridMonths <= 0 || input.GridCount <= 0 {
		return nil, fmt.Errorf("either dates or grid_months and grid_count are required")
	}
	dates := make([]time.Time, input.GridCount)
	for i := range dates {
		dates[i] = asof.AddDate(0, input.GridMonths*(i+1), 0)
	}
	return dates, nil
}
