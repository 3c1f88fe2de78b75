package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func TestObserveBlock(t *testing.T) {
	TransactionsClassified.Reset()
	BlockFlowEther.Reset()
	blocksBefore := counterValue(t, BlocksProcessed)
	droppedBefore := counterValue(t, TransactionsDropped)

	txs := []models.ClassifiedTransaction{
		{Category: models.CategoryForeign, Value: models.Ether(2)},
		{Category: models.CategoryForeign, Value: models.Ether(1)},
		{Category: models.CategoryBridge, Value: models.Ether(5)},
	}
	s := models.FlowSummary{
		BlockNumber: 123,
		CategoryTotals: map[models.Category]models.Wei{
			models.CategoryForeign: models.Ether(3),
			models.CategoryBridge:  models.Ether(5),
		},
		TxCount: 3,
	}

	ObserveBlock(txs, 2, s, 150*time.Millisecond)

	assert.Equal(t, blocksBefore+1, counterValue(t, BlocksProcessed))
	assert.Equal(t, droppedBefore+2, counterValue(t, TransactionsDropped))
	assert.Equal(t, 2.0, counterValue(t, TransactionsClassified.WithLabelValues("Foreign")))
	assert.Equal(t, 1.0, counterValue(t, TransactionsClassified.WithLabelValues("Bridge")))
	assert.Equal(t, 3.0, gaugeValue(t, BlockFlowEther.WithLabelValues("Foreign")))
	assert.Equal(t, 0.0, gaugeValue(t, BlockFlowEther.WithLabelValues("Unknown")))
	assert.Equal(t, 123.0, gaugeValue(t, LatestBlock))
}

func TestObserveAlerts(t *testing.T) {
	AlertsRaised.Reset()

	ObserveAlerts([]models.Alert{
		{Category: models.CategoryForeign},
		{Category: models.CategoryForeign},
	})

	assert.Equal(t, 2.0, counterValue(t, AlertsRaised.WithLabelValues("Foreign")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	WindowSize.Set(4)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, "flow_radar_monitor_window_size 4"), "window gauge missing")
	assert.Contains(t, body, "flow_radar_watcher_blocks_processed_total")
}
