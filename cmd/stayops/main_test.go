package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stayops/internal/domain"
)

func TestParseWindowDefaults(t *testing.T) {
	today := time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC)

	from, to, err := parseWindow("", "", today, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 3, 18, 0, 0, 0, 0, time.UTC), to)

	from, to, err = parseWindow("2025-03-01", "", today, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, from.Day())
	assert.Equal(t, 7, to.Day())

	_, _, err = parseWindow("01/03/2025", "", today, time.UTC)
	assert.ErrorContains(t, err, "--start")
	_, _, err = parseWindow("", "tomorrow", today, time.UTC)
	assert.ErrorContains(t, err, "--end")
}

func TestHelpMatchesEscalationRules(t *testing.T) {
	for _, rule := range domain.EscalationRules {
		assert.Contains(t, rootCmd.Long, fmt.Sprintf("become %s after %.0fh", rule.To, rule.MinAge.Hours()))
	}
}
