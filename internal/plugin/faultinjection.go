package plugin

import (
	"math/rand"
	"time"

	"github.com/zhu327/pingsix/internal/catalog"
)

// faultInjection probabilistically delays or short-circuits requests,
// per spec.md §4.5, for chaos/resilience testing of clients.
type faultInjection struct {
	delay       time.Duration
	delayPct    float64
	abortCode   int
	abortBody   string
	abortPct    float64
}

func newFaultInjection(cfg catalog.PluginConfig) (Plugin, error) {
	f := &faultInjection{}
	if v, ok := cfg["delay_seconds"]; ok {
		f.delay = toDurationSeconds(toFloat(v))
	}
	if v, ok := cfg["delay_percentage"]; ok {
		f.delayPct = toFloat(v)
	}
	if v, ok := cfg["abort_code"]; ok {
		f.abortCode = toInt(v)
	}
	if v, ok := cfg["abort_body"].(string); ok {
		f.abortBody = v
	}
	if v, ok := cfg["abort_percentage"]; ok {
		f.abortPct = toFloat(v)
	}
	return f, nil
}

func (f *faultInjection) Name() string { return "fault-injection" }

func (f *faultInjection) AccessFilter(s *Session, ctx *Ctx) Result {
	if f.delay > 0 && f.delayPct > 0 && rand.Float64() < f.delayPct {
		time.Sleep(f.delay)
	}
	if f.abortCode > 0 && f.abortPct > 0 && rand.Float64() < f.abortPct {
		return stop(&StopResponse{Status: f.abortCode, Body: []byte(f.abortBody)})
	}
	return ok()
}
