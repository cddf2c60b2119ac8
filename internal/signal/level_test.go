package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  Level
	}{
		{"critical", LevelCritical},
		{"risk", LevelRisk},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"WARNING", LevelWarn},
		{"  info  ", LevelInfo},
		{"Critical", LevelCritical},
		{"sev1", LevelUnknown},
		{"", LevelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestPriorityOrder(t *testing.T) {
	assert.Less(t, LevelCritical.Priority(), LevelRisk.Priority())
	assert.Less(t, LevelRisk.Priority(), LevelWarn.Priority())
	assert.Less(t, LevelWarn.Priority(), LevelInfo.Priority())
	assert.Less(t, LevelInfo.Priority(), LevelUnknown.Priority())
}

func TestKnown(t *testing.T) {
	assert.True(t, LevelWarn.Known())
	assert.False(t, ParseLevel("sev1").Known())
}
