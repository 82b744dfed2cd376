package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestIntentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(i *Intent)
		wantErr bool
	}{
		{name: "valid", mutate: func(i *Intent) {}, wantErr: false},
		{
			name:    "bad intent type",
			mutate:  func(i *Intent) { i.IntentType = "swap" },
			wantErr: true,
		},
		{
			name:    "missing target symbol",
			mutate:  func(i *Intent) { i.Assets[0].Symbol = "" },
			wantErr: true,
		},
		{
			name:    "negative amount",
			mutate:  func(i *Intent) { i.AmountIn = decimal.NewFromInt(-1) },
			wantErr: true,
		},
		{
			name:    "zero amount",
			mutate:  func(i *Intent) { i.AmountIn = decimal.Zero },
			wantErr: true,
		},
		{
			name:    "slippage at zero",
			mutate:  func(i *Intent) { i.Constraints.MaxSlippage = decimal.Zero },
			wantErr: true,
		},
		{
			name:    "slippage at one",
			mutate:  func(i *Intent) { i.Constraints.MaxSlippage = decimal.NewFromInt(1) },
			wantErr: true,
		},
		{
			name:    "window too small",
			mutate:  func(i *Intent) { i.Constraints.TimeWindowMs = 0 },
			wantErr: true,
		},
		{
			name:    "bad execution style",
			mutate:  func(i *Intent) { i.Constraints.ExecutionStyle = "yolo" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := sampleIntent()
			tt.mutate(&intent)
			err := intent.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
