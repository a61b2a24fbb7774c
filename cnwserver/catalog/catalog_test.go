package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CloudNativeWorks/cnw-license-server/cnwserver"
)

type countingCatalog struct {
	calls atomic.Int32
	meta  cnwserver.ProductMeta
	err   error
	delay time.Duration
}

func (c *countingCatalog) GetData(_ context.Context, _ int64) (cnwserver.ProductMeta, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.meta, nil
}

func TestStaticCatalog(t *testing.T) {
	c := NewStaticCatalog()
	c.PutProduct(42, cnwserver.ProductMeta{"name": "Theme Pro"})
	c.PutLicense(cnwserver.License{ID: 1, ProductID: 42, LicenseKey: "CNW-1"})
	ctx := context.Background()

	meta, err := c.GetData(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta["name"] = "changed"
	again, _ := c.GetData(ctx, 42)
	if again["name"] != "Theme Pro" {
		t.Errorf("expected stored meta unaffected, got %v", again)
	}

	if _, err := c.GetData(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	l, err := c.FindLicense(ctx, "CNW-1")
	if err != nil || l == nil || l.ProductID != 42 {
		t.Errorf("expected license for CNW-1, got %+v (%v)", l, err)
	}
	l, err = c.FindLicense(ctx, "missing")
	if err != nil || l != nil {
		t.Errorf("expected (nil, nil) for missing key, got %+v (%v)", l, err)
	}
}

func TestCachedCatalog_HitsWithinTTL(t *testing.T) {
	next := &countingCatalog{meta: cnwserver.ProductMeta{"version": "1.0"}}
	c := NewCachedCatalog(next, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		meta, err := c.GetData(ctx, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		meta["package"] = "mutated"
	}
	if got := next.calls.Load(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
	meta, _ := c.GetData(ctx, 1)
	if _, ok := meta["package"]; ok {
		t.Error("expected cached meta unaffected by caller mutation")
	}

	now = now.Add(2 * time.Minute)
	c.GetData(ctx, 1)
	if got := next.calls.Load(); got != 2 {
		t.Errorf("expected refresh after TTL, got %d calls", got)
	}

	c.Invalidate(1)
	c.GetData(ctx, 1)
	if got := next.calls.Load(); got != 3 {
		t.Errorf("expected refresh after invalidate, got %d calls", got)
	}
}

func TestCachedCatalog_ErrorsNotCached(t *testing.T) {
	next := &countingCatalog{err: errors.New("db down")}
	c := NewCachedCatalog(next, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := c.GetData(context.Background(), 1); err == nil {
			t.Fatal("expected error")
		}
	}
	if got := next.calls.Load(); got != 2 {
		t.Errorf("expected 2 upstream calls, got %d", got)
	}
}

func TestCachedCatalog_CollapsesConcurrentMisses(t *testing.T) {
	next := &countingCatalog{meta: cnwserver.ProductMeta{"v": 1}, delay: 50 * time.Millisecond}
	c := NewCachedCatalog(next, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetData(context.Background(), 9); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := next.calls.Load(); got > 2 {
		t.Errorf("expected concurrent misses to collapse, got %d upstream calls", got)
	}
}

// gatedCatalog blocks each lookup until release is closed and records the
// context error seen by the upstream call.
type gatedCatalog struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
	ctxErr  atomic.Value
}

func (c *gatedCatalog) GetData(ctx context.Context, _ int64) (cnwserver.ProductMeta, error) {
	if c.calls.Add(1) == 1 {
		close(c.entered)
	}
	<-c.release
	if err := ctx.Err(); err != nil {
		c.ctxErr.Store(err)
		return nil, err
	}
	return cnwserver.ProductMeta{"name": "Theme Pro"}, nil
}

func TestCachedCatalog_CancelledCallerDoesNotFailOthers(t *testing.T) {
	next := &gatedCatalog{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedCatalog(next, time.Minute)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.GetData(ctxA, 5)
		errA <- err
	}()
	<-next.entered

	type result struct {
		meta cnwserver.ProductMeta
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		meta, err := c.GetData(context.Background(), 5)
		resB <- result{meta, err}
	}()

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled caller to get context.Canceled, got %v", err)
	}
	close(next.release)

	b := <-resB
	if b.err != nil {
		t.Fatalf("expected second caller to succeed, got %v", b.err)
	}
	if b.meta["name"] != "Theme Pro" {
		t.Errorf("expected product data for second caller, got %v", b.meta)
	}
	if err, _ := next.ctxErr.Load().(error); err != nil {
		t.Errorf("expected upstream lookup unaffected by caller cancellation, got %v", err)
	}

	meta, err := c.GetData(context.Background(), 5)
	if err != nil || meta["name"] != "Theme Pro" {
		t.Errorf("expected lookup result cached, got %v (%v)", meta, err)
	}
}

func TestCachedCatalog_FetchTimeout(t *testing.T) {
	next := &gatedCatalog{entered: make(chan struct{}), release: make(chan struct{})}
	c := NewCachedCatalog(next, time.Minute, WithFetchTimeout(20*time.Millisecond))

	go func() {
		<-next.entered
		time.Sleep(50 * time.Millisecond)
		close(next.release)
	}()
	if _, err := c.GetData(context.Background(), 5); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected upstream lookup to hit its own deadline, got %v", err)
	}
}

func TestNewPostgresCatalog_InvalidTable(t *testing.T) {
	if _, err := NewPostgresCatalog(context.Background(), nil, WithLicensesTable("x y")); err == nil {
		t.Fatal("expected error for invalid table name")
	}
	if _, err := NewPostgresCatalog(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
