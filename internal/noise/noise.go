// Package noise implements the per-channel sensor noise models applied to
// simulated measurements.
//
// The set of models is closed: None, Gaussian and GaussianBias. The zero
// Model (and a nil *Model) is None, so Apply never needs a guard at the call
// site.
package noise

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

type Kind int

const (
	None Kind = iota
	Gaussian
	GaussianBias
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Gaussian:
		return "gaussian"
	case GaussianBias:
		return "gaussian_bias"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config type name to a Kind. Empty means none.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "gaussian", "gaussian_quantized":
		return Gaussian, nil
	case "gaussian_bias", "gaussian_drift":
		return GaussianBias, nil
	default:
		return None, fmt.Errorf("unknown noise type %q", s)
	}
}

// Config selects and parameterizes a model. Absent fields are zero, which
// means no noise contribution from that term.
type Config struct {
	Type   string  `yaml:"type" json:"type"`
	Mean   float64 `yaml:"mean" json:"mean"`
	Stddev float64 `yaml:"stddev" json:"stddev"`

	// Constant bias drawn once per model, with a random sign.
	BiasMean   float64 `yaml:"bias_mean" json:"bias_mean"`
	BiasStddev float64 `yaml:"bias_stddev" json:"bias_stddev"`

	// Drift of the bias term, gaussian_bias only. A correlation time of zero
	// gives a plain random walk.
	DynamicBiasStddev          float64       `yaml:"dynamic_bias_stddev" json:"dynamic_bias_stddev"`
	DynamicBiasCorrelationTime time.Duration `yaml:"dynamic_bias_correlation_time" json:"dynamic_bias_correlation_time"`

	// Output is rounded to a multiple of Precision when > 0.
	Precision float64 `yaml:"precision" json:"precision"`
}

// Validate reports parameters New would reject.
func (c Config) Validate() error {
	if _, err := ParseKind(c.Type); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"mean", c.Mean},
		{"stddev", c.Stddev},
		{"bias_mean", c.BiasMean},
		{"bias_stddev", c.BiasStddev},
		{"dynamic_bias_stddev", c.DynamicBiasStddev},
		{"precision", c.Precision},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be finite", f.name)
		}
	}
	if c.Stddev < 0 {
		return fmt.Errorf("stddev must be >= 0")
	}
	if c.BiasStddev < 0 {
		return fmt.Errorf("bias_stddev must be >= 0")
	}
	if c.DynamicBiasStddev < 0 {
		return fmt.Errorf("dynamic_bias_stddev must be >= 0")
	}
	if c.DynamicBiasCorrelationTime < 0 {
		return fmt.Errorf("dynamic_bias_correlation_time must be >= 0")
	}
	if c.Precision < 0 {
		return fmt.Errorf("precision must be >= 0")
	}
	return nil
}

// Model is one channel's noise state. It is not safe for concurrent use; each
// channel owns its own Model.
type Model struct {
	kind      Kind
	white     distuv.Normal
	drift     distuv.Normal
	phi       float64
	bias      float64
	precision float64
}

// New builds a model. step is the interval between successive Apply calls and
// only matters for a correlated bias drift.
func New(cfg Config, step time.Duration, src rand.Source) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kind, _ := ParseKind(cfg.Type)
	if kind == None {
		return &Model{}, nil
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	m := &Model{
		kind:      kind,
		white:     distuv.Normal{Mu: cfg.Mean, Sigma: cfg.Stddev, Src: src},
		precision: cfg.Precision,
	}

	if cfg.BiasMean != 0 || cfg.BiasStddev != 0 {
		m.bias = distuv.Normal{Mu: cfg.BiasMean, Sigma: cfg.BiasStddev, Src: src}.Rand()
		if rand.New(src).Float64() < 0.5 {
			m.bias = -m.bias
		}
	}

	if kind == GaussianBias {
		sigma := cfg.DynamicBiasStddev
		m.phi = 1
		if tau := cfg.DynamicBiasCorrelationTime; tau > 0 {
			if step <= 0 {
				step = time.Second
			}
			// First-order Gauss-Markov, stationary stddev sigma.
			m.phi = math.Exp(-step.Seconds() / tau.Seconds())
			sigma *= math.Sqrt(1 - m.phi*m.phi)
		}
		m.drift = distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	}
	return m, nil
}

// Kind reports the model variant.
func (m *Model) Kind() Kind {
	if m == nil {
		return None
	}
	return m.kind
}

// Bias returns the current bias term.
func (m *Model) Bias() float64 {
	if m == nil {
		return 0
	}
	return m.bias
}

// Apply returns v with this model's noise added.
func (m *Model) Apply(v float64) float64 {
	if m == nil {
		return v
	}
	switch m.kind {
	case Gaussian:
		v += m.bias + m.white.Rand()
	case GaussianBias:
		m.bias = m.phi*m.bias + m.drift.Rand()
		v += m.bias + m.white.Rand()
	default:
		return v
	}
	if m.precision > 0 {
		v = math.Round(v/m.precision) * m.precision
	}
	return v
}
