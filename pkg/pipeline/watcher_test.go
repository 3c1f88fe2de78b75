package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hervehildenbrand/flow-radar/pkg/heuristics"
	"github.com/hervehildenbrand/flow-radar/pkg/ingest"
	"github.com/hervehildenbrand/flow-radar/pkg/models"
	"github.com/hervehildenbrand/flow-radar/pkg/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cexAddr    = "0x28c6c06298d514db089934071355e5743bf21d60"
	bridgeAddr = "0x8315177ab297ba92a06054ce80a67ed4dbd7ed3a"
	userAddr   = "0x1111111111111111111111111111111111111111"
)

type fakeSource struct {
	mu        sync.Mutex
	latest    uint64
	blocks    map[uint64]models.Block
	latestErr error
	fetched   []uint64
}

func (s *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return 0, s.latestErr
	}
	return s.latest, nil
}

func (s *fakeSource) BlockByNumber(_ context.Context, n uint64) (models.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, n)
	b, ok := s.blocks[n]
	if !ok {
		return models.Block{}, ingest.ErrBlockNotFound
	}
	return b, nil
}

func (s *fakeSource) setLatest(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = n
}

type memSummaries struct {
	mu  sync.Mutex
	got []models.FlowSummary
	err error
}

func (m *memSummaries) Append(_ context.Context, s models.FlowSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.got = append(m.got, s)
	return nil
}

func (m *memSummaries) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

type bestEffortSummaries struct {
	memSummaries
}

func (b *bestEffortSummaries) BestEffort() bool { return true }

type memAlerts struct {
	got []models.Alert
	err error
}

func (m *memAlerts) Publish(_ context.Context, a models.Alert) error {
	m.got = append(m.got, a)
	return m.err
}

func strPtr(s string) *string { return &s }

func hexWei(w models.Wei) string { return w.Hex() }

func block(n uint64, txs ...models.RawTransaction) models.Block {
	return models.Block{
		Number:       fmt.Sprintf("0x%x", n),
		Timestamp:    fmt.Sprintf("0x%x", 1_700_000_000+n),
		Transactions: txs,
	}
}

func toCEX(value models.Wei) models.RawTransaction {
	return models.RawTransaction{Hash: "0x1", From: userAddr, To: strPtr(cexAddr), Input: "0x", Value: hexWei(value)}
}

func toBridge(value models.Wei) models.RawTransaction {
	return models.RawTransaction{Hash: "0x2", From: userAddr, To: strPtr(bridgeAddr), Input: "0x", Value: hexWei(value)}
}

func registry() *heuristics.Registry {
	r := heuristics.New()
	r.PushCEX("binance", cexAddr)
	r.PushBridge("arbitrum", bridgeAddr)
	return r
}

func TestStepProcessesNewBlocksOnce(t *testing.T) {
	src := &fakeSource{latest: 10, blocks: map[uint64]models.Block{
		10: block(10, toCEX(models.Ether(1)), toBridge(models.Ether(2))),
		11: block(11, toCEX(models.Ether(3))),
	}}
	sink := &memSummaries{}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{SummarySinks: []SummarySink{sink}})
	ctx := context.Background()

	res, err := w.Step(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Nil(t, res.Delta)
	assert.Equal(t, uint64(10), res.Summary.BlockNumber)
	assert.Equal(t, models.Ether(1), res.Summary.Total(models.CategoryForeign))
	assert.Equal(t, models.Ether(2), res.Summary.Total(models.CategoryBridge))

	// Same head: no-op.
	res, err = w.Step(ctx)
	require.NoError(t, err)
	assert.Nil(t, res)

	src.setLatest(11)
	res, err = w.Step(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Delta)
	// Delta sums against the tail (block 10).
	assert.Equal(t, models.Ether(4), res.Delta.Deltas[models.CategoryForeign])

	assert.Equal(t, []uint64{10, 11}, src.fetched)
	assert.Equal(t, 2, sink.len())
	assert.Equal(t, uint64(11), w.LatestSeen())
}

func TestStepPublishesAlerts(t *testing.T) {
	src := &fakeSource{latest: 1, blocks: map[uint64]models.Block{
		1: block(1, toCEX(models.Ether(60))),
		2: block(2, toCEX(models.Ether(40))),
	}}
	alerts := &memAlerts{}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{AlertSinks: []AlertSink{alerts}})
	ctx := context.Background()

	_, err := w.Step(ctx)
	require.NoError(t, err)
	src.setLatest(2)
	res, err := w.Step(ctx)
	require.NoError(t, err)

	require.Len(t, res.Alerts, 1)
	require.Len(t, alerts.got, 1)
	assert.Equal(t, "High flow delta for Foreign", alerts.got[0].Reason)
	assert.Equal(t, uint64(2), alerts.got[0].BlockNumber)
}

func TestStepAlertSinkFailureIsNotFatal(t *testing.T) {
	src := &fakeSource{latest: 1, blocks: map[uint64]models.Block{
		1: block(1, toCEX(models.Ether(100))),
		2: block(2, toCEX(models.Ether(1))),
	}}
	alerts := &memAlerts{err: errors.New("redis down")}
	sink := &memSummaries{}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{
		SummarySinks: []SummarySink{sink},
		AlertSinks:   []AlertSink{alerts},
	})

	_, err := w.Step(context.Background())
	require.NoError(t, err)
	src.setLatest(2)
	_, err = w.Step(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts.got, 1)
	assert.Equal(t, 2, sink.len())
}

func TestStepSinkFailureKeepsMonitorState(t *testing.T) {
	src := &fakeSource{latest: 5, blocks: map[uint64]models.Block{5: block(5, toCEX(models.Ether(1)))}}
	mon := monitor.New(10, nil)
	sink := &memSummaries{err: errors.New("disk full")}
	w := NewWatcher(src, registry(), mon, Options{SummarySinks: []SummarySink{sink}})

	res, err := w.Step(context.Background())
	require.ErrorIs(t, err, ErrSink)
	require.NotNil(t, res)
	assert.Equal(t, 1, mon.Len())
	assert.Equal(t, uint64(5), w.LatestSeen())
}

func TestStepBestEffortSinkFailureIsCounted(t *testing.T) {
	src := &fakeSource{latest: 5, blocks: map[uint64]models.Block{5: block(5, toCEX(models.Ether(1)))}}
	lossy := &bestEffortSummaries{memSummaries{err: errors.New("write queue full, record dropped")}}
	durable := &memSummaries{}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{
		SummarySinks: []SummarySink{lossy, durable},
	})

	res, err := w.Step(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.SinkDrops)
	assert.Equal(t, 1, durable.len(), "later sinks still receive the summary")
}

func TestStepEmptyBlockKeepsIdentity(t *testing.T) {
	src := &fakeSource{latest: 7, blocks: map[uint64]models.Block{7: block(7)}}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{})

	res, err := w.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res.Summary.BlockNumber)
	assert.Equal(t, uint64(1_700_000_007), res.Summary.Timestamp)
	assert.Equal(t, 0, res.Summary.TxCount)
}

func TestStepDropsUndecodableTransactions(t *testing.T) {
	bad := toCEX(models.Ether(1))
	bad.Value = "0xzz"
	src := &fakeSource{latest: 3, blocks: map[uint64]models.Block{3: block(3, bad, toBridge(models.Ether(1)))}}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{})

	res, err := w.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Summary.TxCount)
}

func TestStepFetchErrors(t *testing.T) {
	src := &fakeSource{latestErr: errors.New("connection refused")}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{})

	_, err := w.Step(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSink)

	src = &fakeSource{latest: 9, blocks: map[uint64]models.Block{}}
	w = NewWatcher(src, registry(), monitor.New(10, nil), Options{})
	_, err = w.Step(context.Background())
	assert.ErrorIs(t, err, ingest.ErrBlockNotFound)
	assert.Equal(t, uint64(0), w.LatestSeen())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	src := &fakeSource{latest: 1, blocks: map[uint64]models.Block{1: block(1, toCEX(models.Ether(1)))}}
	sink := &memSummaries{}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{
		PollInterval: 10 * time.Millisecond,
		SummarySinks: []SummarySink{sink},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 1, sink.len())
}

func TestRunReturnsSinkError(t *testing.T) {
	src := &fakeSource{latest: 1, blocks: map[uint64]models.Block{1: block(1)}}
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{
		PollInterval: time.Hour,
		SummarySinks: []SummarySink{&memSummaries{err: errors.New("disk full")}},
	})

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, ErrSink)
}

func TestRunRetriesFetchErrorsAndFollowsHeads(t *testing.T) {
	src := &fakeSource{latest: 2, blocks: map[uint64]models.Block{
		3: block(3, toCEX(models.Ether(1))),
	}}
	sink := &memSummaries{}
	heads := make(chan ingest.Head, 1)
	w := NewWatcher(src, registry(), monitor.New(10, nil), Options{
		PollInterval: time.Hour,
		Heads:        heads,
		SummarySinks: []SummarySink{sink},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Block 2 is missing: the first step fails and the loop keeps going.
	src.setLatest(3)
	heads <- ingest.Head{Number: 3}

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestLearnBlock(t *testing.T) {
	src := &fakeSource{latest: 4, blocks: map[uint64]models.Block{
		4: block(4, toCEX(models.Ether(1)), models.RawTransaction{From: userAddr, To: strPtr(userAddr), Value: "0x1"}),
	}}
	reg := registry()

	n, learned, err := LearnBlock(context.Background(), src, reg, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
	assert.Equal(t, 2, learned)
	assert.True(t, reg.IsKnownCEX(userAddr))

	_, _, err = LearnBlock(context.Background(), src, reg, 99)
	assert.ErrorIs(t, err, ingest.ErrBlockNotFound)
}
