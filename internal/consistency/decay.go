package consistency

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

const (
	maxDecaySamples = 512
	refitEvery      = 32
)

// decayModel fits the expected signal-strength falloff for one receiver
// from its own observations. Free-space decay follows inverse-square law,
// so the fit is linear in log-log space; the residual spread gives the
// receiver's tolerance band.
type decayModel struct {
	mu sync.Mutex

	logDist []float64
	logSig  []float64

	minSamples int
	sinceFit   int
	fitted     bool
	alpha      float64 // intercept
	beta       float64 // slope, around -2 for clean inverse-square decay
	residStd   float64
}

func newDecayModel(minSamples int) *decayModel {
	return &decayModel{minSamples: minSamples}
}

// add records one (distance, signal) observation and refits periodically.
func (m *decayModel) add(distKM, signal float64) {
	if distKM < 0.5 || signal <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.logDist = append(m.logDist, math.Log10(distKM))
	m.logSig = append(m.logSig, math.Log10(signal))
	if len(m.logDist) > maxDecaySamples {
		m.logDist = m.logDist[len(m.logDist)-maxDecaySamples:]
		m.logSig = m.logSig[len(m.logSig)-maxDecaySamples:]
	}

	m.sinceFit++
	if m.sinceFit >= refitEvery || (!m.fitted && len(m.logDist) >= m.minSamples) {
		m.refitLocked()
	}
}

func (m *decayModel) refitLocked() {
	m.sinceFit = 0
	if len(m.logDist) < m.minSamples {
		return
	}

	alpha, beta := stat.LinearRegression(m.logDist, m.logSig, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return
	}

	residuals := make([]float64, len(m.logDist))
	for i := range m.logDist {
		residuals[i] = m.logSig[i] - (alpha + beta*m.logDist[i])
	}

	m.alpha = alpha
	m.beta = beta
	m.residStd = stat.StdDev(residuals, nil)
	m.fitted = true
}

// ratio returns observed/predicted signal strength at a distance, in linear
// units. ok is false until the model has enough samples to be meaningful.
func (m *decayModel) ratio(distKM, signal float64) (float64, bool) {
	if distKM < 0.5 || signal <= 0 {
		return 0, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fitted {
		return 0, false
	}

	predicted := m.alpha + m.beta*math.Log10(distKM)
	return math.Pow(10, math.Log10(signal)-predicted), true
}

// band returns the fitted residual spread in log10 units.
func (m *decayModel) band() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.residStd, m.fitted
}
