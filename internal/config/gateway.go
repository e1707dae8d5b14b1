package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GatewayPolicy controls the simulated gateway's per-method decline rates.
// In a real deployment the simulator is replaced by a live gateway client and
// this policy is unused.
type GatewayPolicy struct {
	DeclineRates map[string]float64 `mapstructure:"declineRates"`
	Latency      LatencyPolicy      `mapstructure:"latency"`
}

type LatencyPolicy struct {
	MinMillis int `mapstructure:"minMillis"`
	MaxMillis int `mapstructure:"maxMillis"`
}

func DefaultGatewayPolicy() GatewayPolicy {
	return GatewayPolicy{
		DeclineRates: map[string]float64{
			"card":       0.10,
			"upi":        0.05,
			"netbanking": 0.15,
			"wallet":     0.02,
		},
		Latency: LatencyPolicy{MinMillis: 0, MaxMillis: 0},
	}
}

// GatewayPolicyHolder exposes the current policy and swaps it atomically when
// the backing file changes.
type GatewayPolicyHolder struct {
	current atomic.Value // holds GatewayPolicy
}

func NewGatewayPolicyHolder(cfg Config) (*GatewayPolicyHolder, error) {
	holder := &GatewayPolicyHolder{}

	v := viper.New()
	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.GatewayPolicyPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/invoza")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVOZA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultGatewayPolicy())
		return holder, nil
	}

	var policy GatewayPolicy
	if err := v.UnmarshalKey("gateway", &policy); err != nil {
		return nil, err
	}
	if err := validateGatewayPolicy(policy); err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated GatewayPolicy
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Printf("[gateway-policy] reload failed: %v", err)
			return
		}
		if err := validateGatewayPolicy(updated); err != nil {
			log.Printf("[gateway-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticGatewayPolicyHolder returns a holder pinned to the given policy.
// Used by tests to force deterministic decline behavior.
func NewStaticGatewayPolicyHolder(policy GatewayPolicy) *GatewayPolicyHolder {
	holder := &GatewayPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *GatewayPolicyHolder) Get() GatewayPolicy {
	return h.current.Load().(GatewayPolicy)
}

func validateGatewayPolicy(policy GatewayPolicy) error {
	if len(policy.DeclineRates) == 0 {
		return errors.New("gateway.declineRates cannot be empty")
	}
	for method, rate := range policy.DeclineRates {
		if rate < 0 || rate > 1 {
			return errors.New("gateway.declineRates." + method + " must be within [0,1]")
		}
	}
	return nil
}
