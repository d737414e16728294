package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// scenarioMethod — служебный шаг: весь сценарий одного заказа целиком.
const scenarioMethod = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

// step накапливает вызовы одного шага сценария (Checkout, Webhook, ...).
type step struct {
	codes   map[string]int64
	ok      int64
	samples []time.Duration
}

func (s *step) report() methodReport {
	calls := int64(len(s.samples))
	return methodReport{
		Calls:     calls,
		Success:   s.ok,
		Failed:    calls - s.ok,
		ErrorRate: ratio(calls-s.ok, calls),
		Codes:     maps.Clone(s.codes),
		LatencyMs: summarize(s.samples),
	}
}

// collector собирает латентности и HTTP-коды по шагам сценария.
type collector struct {
	mu    sync.Mutex
	steps map[string]*step
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*step)}
}

// record учитывает вызов. code=0 означает сетевую ошибку без ответа.
func (c *collector) record(method string, latency time.Duration, code int) {
	label := strconv.Itoa(code)
	if code == 0 {
		label = "transport_error"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.steps[method]
	if s == nil {
		s = &step{codes: make(map[string]int64)}
		c.steps[method] = s
	}
	s.samples = append(s.samples, latency)
	s.codes[label]++
	if code >= 200 && code < 300 {
		s.ok++
	}
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]methodReport, len(c.steps)),
	}
	for name, s := range c.steps {
		result.Methods[name] = s.report()
	}

	scenario, ok := result.Methods[scenarioMethod]
	if !ok {
		return result
	}
	result.TotalScenarios = scenario.Calls
	result.SuccessScenarios = scenario.Success
	result.FailedScenarios = scenario.Failed
	result.ErrorRate = scenario.ErrorRate
	result.ScenarioLatencyMs = scenario.LatencyMs
	if elapsed > 0 {
		result.RPS = float64(scenario.Calls) / elapsed.Seconds()
	}
	return result
}

// writeJSONReport пишет отчёт только внутрь текущего каталога.
func writeJSONReport(path string, result report) error {
	target := filepath.Clean(path)
	switch {
	case target == "." || target == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case target == ".." || strings.HasPrefix(target, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	// #nosec G306 -- отчёт нагрузочного прогона не содержит секретов.
	return os.WriteFile(target, append(data, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg loadConfig) {
	fmt.Fprintf(w, "Load test summary\nmode=%s payment=%s run=%s\n", cfg.mode, cfg.paymentMethod, runTarget(cfg))
	fmt.Fprintf(w, "scenarios total=%d success=%d failed=%d error_rate=%.4f duration=%.2fs rps=%.2f\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios,
		result.ErrorRate, result.DurationSeconds, result.RPS)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "step\tcalls\tfailed\terror_rate\tp50_ms\tp95_ms\tp99_ms\tmax_ms")
	row := func(name string, m methodReport) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.2f\t%.2f\t%.2f\t%.2f\n",
			name, m.Calls, m.Failed, m.ErrorRate, m.LatencyMs.P50, m.LatencyMs.P95, m.LatencyMs.P99, m.LatencyMs.Max)
	}

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		row(name, result.Methods[name])
	}
	if scenario, ok := result.Methods[scenarioMethod]; ok {
		row(scenarioMethod, scenario)
	}
	_ = tw.Flush()
}

func runTarget(cfg loadConfig) string {
	switch {
	case cfg.duration <= 0:
		return "count:" + strconv.Itoa(cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}

// summarize считает перцентили в миллисекундах с линейной интерполяцией.
func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	ms := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: percentile(ms, 0.50),
		P95: percentile(ms, 0.95),
		P99: percentile(ms, 0.99),
	}
}

// percentile ожидает отсортированный непустой срез; q в диапазоне [0, 1].
func percentile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
