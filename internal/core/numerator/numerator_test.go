package numerator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_KeyAndFormat(t *testing.T) {
	period := time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cfg     Config
		n       int64
		wantKey string
		wantNum string
	}{
		{
			name:    "yearly",
			cfg:     DefaultConfig("CNT"),
			n:       7,
			wantKey: "CNT_2026",
			wantNum: "CNT-2026-00007",
		},
		{
			name:    "monthly without year",
			cfg:     Config{Prefix: "TRF", PadWidth: 3, Reset: ResetMonth},
			n:       42,
			wantKey: "TRF_2026_03",
			wantNum: "TRF-042",
		},
		{
			name:    "never resets, default width",
			cfg:     Config{Prefix: "ADJ", Reset: ResetNever},
			n:       123456,
			wantKey: "ADJ",
			wantNum: "ADJ-123456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, tt.cfg.Key(period))
			assert.Equal(t, tt.wantNum, tt.cfg.Format(period, tt.n))
		})
	}
}
