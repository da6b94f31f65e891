package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multipair-engine/internal/config"
	"multipair-engine/internal/domain"
)

func TestEvaluate_SampleScenario(t *testing.T) {
	cfg, err := config.Load("../../configs/engine.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	cfg.Log.Level = "error"

	scenario, err := loadScenario("../../configs/scenario.yaml")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, evaluate(context.Background(), cfg, scenario, &out, evalOptions{}))

	var lines []evaluation
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var line evaluation
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 7)

	reasons := make([]domain.ReasonCode, 0, len(lines))
	for _, line := range lines {
		assert.Empty(t, line.Error)
		if line.Decision != nil {
			reasons = append(reasons, line.Decision.Reason)
		}
	}
	assert.Equal(t, []domain.ReasonCode{
		domain.ReasonApproved,
		domain.ReasonPacingWait,
		domain.ReasonApproved,
		domain.ReasonLayeringConflict,
		domain.ReasonPairUnsupported,
		domain.ReasonApproved,
	}, reasons)

	first := lines[0].Decision
	require.NotNil(t, first.Target)
	assert.Equal(t, 0.004, first.Target.Target)
	assert.InDelta(t, 200.0, first.Budget.TotalBudget, 1e-9)

	closed := lines[5].Closed
	require.NotNil(t, closed)
	assert.Equal(t, first.Position.TradeID, closed.TradeID)
}

func TestEvaluate_WritesReport(t *testing.T) {
	cfg, err := config.Load("../../configs/engine.yaml")
	require.NoError(t, err)
	cfg.Log.Level = "error"

	scenario, err := loadScenario("../../configs/scenario.yaml")
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "report")
	var out bytes.Buffer
	require.NoError(t, evaluate(context.Background(), cfg, scenario, &out, evalOptions{ReportDir: dir}))

	md, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Decision Report")
	assert.Contains(t, string(md), "| Decisions | 6 |")
	assert.Contains(t, string(md), "| LAYERING_CONFLICT | 1 |")

	csv, err := os.ReadFile(filepath.Join(dir, "decisions.csv"))
	require.NoError(t, err)
	rows := strings.Split(strings.TrimSpace(string(csv)), "\n")
	assert.Len(t, rows, 7, "header plus one row per decision")
}
