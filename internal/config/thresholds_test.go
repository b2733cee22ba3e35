package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/report/alert"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

func writeThresholds(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestThresholdHolderDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	h, err := NewThresholdHolder("", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholdConfig(), h.Get())

	_, ok := h.Thresholds(domain.GranularityDaily)
	assert.False(t, ok)
	weekly, ok := h.Thresholds(domain.GranularityWeekly)
	assert.True(t, ok)
	assert.Equal(t, int64(30_000), weekly.Level1)
}

func TestThresholdHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yml")
	writeThresholds(t, path, `
thresholds:
  weekly:
    level1: 1000
    level2: 2000
    level3: 3000
  monthly:
    level1: 5000
`)

	h, err := NewThresholdHolder(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, alert.Thresholds{Level1: 1000, Level2: 2000, Level3: 3000}, h.Get().Weekly)

	// unspecified keys keep their defaults
	monthly := h.Get().Monthly
	assert.Equal(t, int64(5000), monthly.Level1)
	assert.Equal(t, int64(200_000), monthly.Level2)
}

func TestThresholdHolderRejectsUnordered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yml")
	writeThresholds(t, path, `
thresholds:
  weekly: {level1: 500, level2: 400, level3: 600}
`)
	_, err := NewThresholdHolder(path, zap.NewNop())
	assert.ErrorIs(t, err, alert.ErrInvalidThresholds)
}

func TestThresholdHolderReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yml")
	writeThresholds(t, path, "thresholds:\n  weekly: {level1: 1000, level2: 2000, level3: 3000}\n")

	h, err := NewThresholdHolder(path, zap.NewNop())
	require.NoError(t, err)

	writeThresholds(t, path, "thresholds:\n  weekly: {level1: 10, level2: 20, level3: 30}\n")
	assert.Eventually(t, func() bool {
		return h.Get().Weekly.Level1 == 10
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStaticThresholdHolder(t *testing.T) {
	var src alert.Source = NewStaticThresholdHolder(ThresholdConfig{Monthly: alert.Thresholds{Level3: 9}})
	got, ok := src.Thresholds(domain.GranularityMonthly)
	assert.True(t, ok)
	assert.Equal(t, int64(9), got.Level3)
}
