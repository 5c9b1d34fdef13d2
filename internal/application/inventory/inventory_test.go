package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	dominv "github.com/Zhima-Mochi/minishop-checkout/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/minishop-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	batch      func([]dominv.Line) (dominv.StockCheckResult, error)
	item       map[string]error
	batchCalls int
	itemCalls  []string
}

func (f *fakeChecker) CheckBatch(_ context.Context, lines []dominv.Line) (dominv.StockCheckResult, error) {
	f.batchCalls++
	return f.batch(lines)
}

func (f *fakeChecker) CheckItem(_ context.Context, line dominv.Line) error {
	f.itemCalls = append(f.itemCalls, line.ID)
	return f.item[line.ID]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

var lines = []dominv.Line{{ID: "a", Quantity: 2}, {ID: "b", Quantity: 1}, {ID: "c", Quantity: 5}}

func TestValidateStockBatchReportsAllFailures(t *testing.T) {
	checker := &fakeChecker{batch: func([]dominv.Line) (dominv.StockCheckResult, error) {
		return dominv.StockCheckResult{OK: true, Failures: []dominv.StockFailure{
			{ID: "a", Reason: dominv.FailureReasonInsufficientStock},
			{ID: "c", Reason: dominv.FailureReasonNotFound},
		}}, nil
	}}
	uc := NewValidateStockUseCase(checker, observability.Nop())

	res, err := uc.Execute(context.Background(), lines)

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Len(t, res.Failures, 2)
	assert.Equal(t, 1, checker.batchCalls)
	assert.Empty(t, checker.itemCalls)
}

func TestValidateStockFallsBackToPerItem(t *testing.T) {
	checker := &fakeChecker{
		batch: func([]dominv.Line) (dominv.StockCheckResult, error) {
			return dominv.StockCheckResult{}, dominv.ErrBatchUnsupported
		},
		item: map[string]error{
			"b": fmt.Errorf("item b: %w", dominv.ErrInsufficientStock),
			"c": errors.New("connection reset"),
		},
	}
	uc := NewValidateStockUseCase(checker, nil)

	res, err := uc.Execute(context.Background(), lines)

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, []string{"a", "b", "c"}, checker.itemCalls)
	assert.Equal(t, []dominv.StockFailure{
		{ID: "b", Reason: dominv.FailureReasonInsufficientStock},
		{ID: "c", Reason: dominv.FailureReasonUnavailable},
	}, res.Failures)
}

func TestValidateStockTransportErrorIsFailure(t *testing.T) {
	checker := &fakeChecker{batch: func([]dominv.Line) (dominv.StockCheckResult, error) {
		return dominv.StockCheckResult{}, errors.New("timeout")
	}}
	uc := NewValidateStockUseCase(checker, nil)

	res, err := uc.Execute(context.Background(), lines)

	require.Error(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Message)
}

func TestValidateStockAllAvailable(t *testing.T) {
	checker := &fakeChecker{batch: func([]dominv.Line) (dominv.StockCheckResult, error) {
		return dominv.StockCheckResult{OK: true}, nil
	}}
	res, err := NewValidateStockUseCase(checker, nil).Execute(context.Background(), lines)

	require.NoError(t, err)
	assert.True(t, res.OK)
}

type decrementFunc func(ctx context.Context, id string, qty int) error

func (f decrementFunc) Decrement(ctx context.Context, id string, qty int) error { return f(ctx, id, qty) }

func TestAdjustRunsConcurrentlyAndWaitsForAll(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(len(lines))

	dec := decrementFunc(func(ctx context.Context, id string, qty int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		started.Done()
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	uc := NewAdjustInventoryUseCase(dec, nil, nil, AdjustOptions{})

	done := make(chan *dominv.AdjustmentResult)
	go func() {
		res, err := uc.Execute(context.Background(), AdjustInventoryInput{OrderID: "o-1", Lines: lines})
		assert.NoError(t, err)
		done <- res
	}()

	started.Wait()
	assert.Equal(t, int32(len(lines)), atomic.LoadInt32(&peak))
	select {
	case <-done:
		t.Fatal("returned before every decrement settled")
	default:
	}
	close(release)

	res := <-done
	require.Len(t, res.Lines, len(lines))
	for i, l := range res.Lines {
		assert.Equal(t, lines[i].ID, l.ID)
		assert.True(t, l.OK)
	}
}

func TestAdjustPartialFailureIsReportedNotFatal(t *testing.T) {
	pub := &recordingPublisher{}
	dec := decrementFunc(func(_ context.Context, id string, _ int) error {
		if id == "b" {
			return errors.New("inventory service 503")
		}
		return nil
	})
	fixed := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	uc := NewAdjustInventoryUseCase(dec, pub, nil, AdjustOptions{Clock: func() time.Time { return fixed }})

	res, err := uc.Execute(context.Background(), AdjustInventoryInput{OrderID: "o-1", PaymentReference: "ref-1", Lines: lines})

	require.Error(t, err)
	assert.ErrorIs(t, err, domcheckout.ErrInventorySync)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, "b", res.Failed()[0].ID)

	require.Len(t, pub.events, 1)
	evt, ok := pub.events[0].(dominv.AdjustmentFailedEvent)
	require.True(t, ok)
	assert.Equal(t, "b", evt.ItemID)
	assert.Equal(t, "ref-1", evt.PaymentReference)
	assert.Equal(t, fixed, evt.OccurredAt)
}

func TestAdjustRecoversFromPanickingDecrementer(t *testing.T) {
	dec := decrementFunc(func(_ context.Context, id string, _ int) error {
		if id == "c" {
			panic("boom")
		}
		return nil
	})
	uc := NewAdjustInventoryUseCase(dec, nil, nil, AdjustOptions{Concurrency: 1})

	res, err := uc.Execute(context.Background(), AdjustInventoryInput{OrderID: "o-2", Lines: lines})

	require.Error(t, err)
	require.Len(t, res.Failed(), 1)
	assert.Equal(t, "c", res.Failed()[0].ID)
}
