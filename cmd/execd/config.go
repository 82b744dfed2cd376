package main

import (
	"os"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/cuemby/execd/pkg/risk"
)

// envString/envInt/envDecimal read the §6 process-wide configuration
// table from the environment, falling back to the named default when
// unset or unparseable.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

// riskConfigFromEnv builds the risk gate's caps from MAX_NOTIONAL_USD /
// MAX_SLIPPAGE, per §6.
func riskConfigFromEnv() risk.Config {
	def := risk.DefaultConfig()
	return risk.Config{
		MaxNotionalUSD: envDecimal("MAX_NOTIONAL_USD", def.MaxNotionalUSD),
		MaxSlippage:    envDecimal("MAX_SLIPPAGE", def.MaxSlippage),
	}
}
