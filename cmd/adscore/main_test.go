package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
scoring:
  profile:
    ctr:
      direction: higher
      weight: 1
    cpr:
      direction: lower
      weight: 1
benchmarks:
  regions:
    GBR:
      ctr: 0.01
      cpr: 50
`

const testAds = `[
  {"ad_id": "a1", "ad_name": "Spring", "created_time": "2025-01-01T00:00:00Z",
   "metrics": {"spend": "300", "impressions": 10000, "clicks": 150, "conversions": 5},
   "breakdowns": [
     {"age": "25-34", "gender": "female", "spend": "100", "impressions": 4000, "clicks": 80, "conversions": 4},
     {"age": "18-24", "gender": "male", "spend": "150", "impressions": 5000, "clicks": 40, "conversions": 1}
   ]},
  {"ad_id": "cheap", "created_time": "2025-01-01T00:00:00Z", "metrics": {"spend": "5", "impressions": 100}}
]`

func writeFiles(t *testing.T) (cfgPath, adsPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "config.yaml")
	adsPath = filepath.Join(dir, "ads.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))
	require.NoError(t, os.WriteFile(adsPath, []byte(testAds), 0o600))
	return cfgPath, adsPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestScoreCommandJSON(t *testing.T) {
	cfgPath, adsPath := writeFiles(t)
	out, err := execute(t, "score", "--config", cfgPath, "--input", adsPath, "--region", "gbr")
	require.NoError(t, err)

	var got struct {
		Region  string `json:"region"`
		Skipped int    `json:"skipped"`
		Reports []struct {
			AdID  string `json:"ad_id"`
			Score struct {
				Overall      float64  `json:"overall_score"`
				Rating       string   `json:"rating"`
				BestSegments []string `json:"best_segments"`
			} `json:"score"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "GBR", got.Region)
	assert.Equal(t, 1, got.Skipped)
	require.Len(t, got.Reports, 1)
	assert.Equal(t, "a1", got.Reports[0].AdID)
	assert.InDelta(t, (150+5000.0/60)/2, got.Reports[0].Score.Overall, 1e-9)
	assert.Equal(t, "average", got.Reports[0].Score.Rating)
	assert.Equal(t, []string{"25-34|female", "18-24|male"}, got.Reports[0].Score.BestSegments)
}

func TestScoreCommandCSV(t *testing.T) {
	cfgPath, adsPath := writeFiles(t)
	out, err := execute(t, "score", "--config", cfgPath, "--input", adsPath, "--region", "GBR", "--format", "csv")
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewBufferString(out)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4, "header, ad and two segments")
}

func TestScoreCommandErrors(t *testing.T) {
	cfgPath, adsPath := writeFiles(t)

	_, err := execute(t, "score", "--config", cfgPath, "--input", adsPath, "--region", "NAM")
	assert.ErrorContains(t, err, "NAM")

	_, err = execute(t, "score", "--config", cfgPath, "--input", adsPath, "--region", "GBR", "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")

	_, err = execute(t, "score", "--config", cfgPath, "--input", filepath.Join(t.TempDir(), "missing.json"), "--region", "GBR")
	assert.Error(t, err)

	_, err = execute(t, "score", "--config", cfgPath, "--region", "GBR")
	assert.Error(t, err, "input is required")
}

func TestValidateConfigCommand(t *testing.T) {
	cfgPath, _ := writeFiles(t)
	out, err := execute(t, "validate-config", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration ok")
	assert.Contains(t, out, "benchmark regions: GBR")
	assert.Contains(t, out, "account regions: none")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("scoring:\n  ratio_ceiling: -1\n"), 0o600))
	_, err = execute(t, "validate-config", "--config", bad)
	assert.Error(t, err)
}
