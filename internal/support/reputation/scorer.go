// Package reputation turns local check outcomes into the 0..1 score stored
// on a proxy.
package reputation

import (
	"math"
	"time"
)

type Metrics struct {
	Attempts     int
	Successes    int
	ResponseTime time.Duration
	LatestCheck  *time.Time
}

type Weights struct {
	Uptime  float64
	Recency float64
	Latency float64
}

const (
	LabelGood    = "good"
	LabelNeutral = "neutral"
	LabelPoor    = "poor"
)

var defaultWeights = Weights{
	Uptime:  0.5,
	Recency: 0.2,
	Latency: 0.3,
}

// Score weighs the success ratio, the age of the latest successful check and
// the response time. The result is rounded to three decimals.
func Score(metrics Metrics, now time.Time, customWeights *Weights) float64 {
	w := defaultWeights
	if customWeights != nil {
		w = *customWeights
		normaliseWeights(&w)
	}

	score := w.Uptime*uptimeScore(metrics) +
		w.Recency*recencyScore(metrics, now) +
		w.Latency*latencyScore(metrics)

	return math.Round(clamp01(score)*1000) / 1000
}

func Label(score float64) string {
	switch {
	case score >= 0.8:
		return LabelGood
	case score >= 0.4:
		return LabelNeutral
	default:
		return LabelPoor
	}
}

func normaliseWeights(w *Weights) {
	total := w.Uptime + w.Recency + w.Latency
	if total <= 0 {
		*w = defaultWeights
		return
	}
	w.Uptime /= total
	w.Recency /= total
	w.Latency /= total
}

func uptimeScore(m Metrics) float64 {
	if m.Attempts == 0 {
		return 0
	}
	return clamp01(float64(m.Successes) / float64(m.Attempts))
}

func recencyScore(m Metrics, now time.Time) float64 {
	if m.LatestCheck == nil || m.Successes == 0 {
		return 0
	}
	const (
		fullScoreWindow = 30 * time.Minute
		maxWindow       = 6 * time.Hour
	)
	age := now.Sub(*m.LatestCheck)
	if age <= fullScoreWindow {
		return 1
	}
	if age >= maxWindow {
		return 0
	}
	return clamp01(1 - age.Seconds()/maxWindow.Seconds())
}

func latencyScore(m Metrics) float64 {
	if m.Successes == 0 || m.ResponseTime < 0 {
		return 0
	}

	ms := float64(m.ResponseTime.Milliseconds())
	switch {
	case ms <= 400:
		return 1
	case ms >= 3000:
		return 0
	default:
		return clamp01(1 - (ms-400)/2600)
	}
}

func clamp01(value float64) float64 {
	return max(0, min(1, value))
}
