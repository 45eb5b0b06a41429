package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/stockimport/internal/client"
	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
	_ "github.com/JonMunkholm/stockimport/internal/core/datasets"
	"github.com/JonMunkholm/stockimport/internal/job"
	"github.com/JonMunkholm/stockimport/internal/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// lockedBuffer is read while a command is still writing to it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// gateWriter holds every batch until opened.
type gateWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateWriter() *gateWriter {
	return &gateWriter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateWriter) WriteBatch(ctx context.Context, _ core.DatasetDefinition, rows []core.Row, _ bool) ([]core.RowOutcome, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([]core.RowOutcome, len(rows))
	for i, r := range rows {
		out[i] = core.RowOutcome{Line: r.Line}
	}
	return out, nil
}

func startServer(t *testing.T, writer core.RowWriter) string {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{KeepAlive: 50 * time.Millisecond},
		Upload: config.UploadConfig{MaxFileSize: 8 << 20, BatchSize: 10, Timeout: time.Minute, SyncTimeout: 10 * time.Second},
		Import: config.ImportConfig{
			SyncThreshold:     1 << 20,
			MaxConcurrent:     2,
			MaxQueued:         8,
			Retention:         time.Minute,
			MaxReportedErrors: 50,
			SubscriberBuffer:  16,
		},
	}
	svc := core.NewService(context.Background(), cfg, core.Dependencies{Writer: writer})
	ts := httptest.NewServer(web.NewServer(svc, cfg).Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return ts.URL
}

func writeProducts(t *testing.T, rows int, badLines ...int) string {
	t.Helper()
	bad := make(map[int]bool)
	for _, l := range badLines {
		bad[l] = true
	}
	var b strings.Builder
	b.WriteString("sku,name,category,unit_price,stock_quantity,provider_code\n")
	for i := 0; i < rows; i++ {
		price := "4.50"
		if bad[i+2] {
			price = "-"
		}
		fmt.Fprintf(&b, "SKU-%05d,Item %d,Tools,%s,%d,ACME\n", i, i, price, i)
	}
	path := filepath.Join(t.TempDir(), "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

// run executes importctl against server and returns its output and the
// exit code carried by the error.
func run(t *testing.T, ctx context.Context, out *lockedBuffer, server string, args ...string) (int, error) {
	t.Helper()
	app := App()
	app.Writer = out
	app.ErrWriter = out
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}

	argv := append([]string{"importctl", "--server", server}, args...)
	err := app.Run(ctx, argv)

	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode(), nil
	}
	return 0, err
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		view client.View
		want int
	}{
		{"completed", client.View{State: job.StateCompleted, Final: true}, 0},
		{"cancelled", client.View{State: job.StateCancelled, Final: true}, exitCancelled},
		{"server error", client.View{State: job.StateError, Final: true}, exitFailed},
		{"local timeout", client.View{State: job.StateError, LocalError: true, Final: true}, exitUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.view))
		})
	}
}

func TestSubmit_Sync(t *testing.T) {
	server := startServer(t, nil)
	out := &lockedBuffer{}

	code, err := run(t, testCtx(t), out, server, "submit", "--dataset", "products", writeProducts(t, 5, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "imported products: 5/5 processed, 4 succeeded, 1 failed")
	assert.Contains(t, out.String(), "row 3")
}

func TestSubmit_AsyncFollowsToCompletion(t *testing.T) {
	server := startServer(t, nil)
	out := &lockedBuffer{}

	code, err := run(t, testCtx(t), out, server, "submit", "--async", writeProducts(t, 25))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "accepted")
	assert.Contains(t, out.String(), "Completed: 25/25 processed, 25 succeeded, 0 failed")
}

func TestSubmit_AsyncValidateOnlyPrintsRowErrors(t *testing.T) {
	server := startServer(t, nil)
	out := &lockedBuffer{}

	code, err := run(t, testCtx(t), out, server, "submit", "--async", "--validate-only", "--quiet", writeProducts(t, 30, 4, 12))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "Completed: 30/30 processed, 28 succeeded, 2 failed")
	assert.Contains(t, out.String(), "row 4 unit_price")
	assert.Contains(t, out.String(), "row 12 unit_price")
}

func TestSubmit_DetachThenStatus(t *testing.T) {
	server := startServer(t, nil)
	out := &lockedBuffer{}

	_, err := run(t, testCtx(t), out, server, "submit", "--detach", writeProducts(t, 5))
	require.NoError(t, err)
	id := strings.TrimSpace(out.String())
	require.NotEmpty(t, id)

	var j job.ImportJob
	require.Eventually(t, func() bool {
		status := &lockedBuffer{}
		if _, err := run(t, testCtx(t), status, server, "status", "--json", id); err != nil {
			return false
		}
		if err := json.Unmarshal([]byte(status.String()), &j); err != nil {
			return false
		}
		return j.State.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, id, j.ID)
	assert.Equal(t, job.StateCompleted, j.State)
	assert.Equal(t, 5, j.Counts.Processed)
}

func TestSubmit_InterruptCancelsJob(t *testing.T) {
	gate := newGateWriter()
	server := startServer(t, gate)
	out := &lockedBuffer{}

	ctx, interrupt := context.WithCancel(context.Background())
	defer interrupt()

	type result struct {
		code int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := run(t, ctx, out, server, "submit", "--async", "--no-push", writeProducts(t, 40))
		done <- result{code, err}
	}()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "accepted") }, 5*time.Second, 5*time.Millisecond)
	id := strings.Fields(out.String())[1]

	interrupt()

	c, err := client.New(server)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := c.Job(context.Background(), id)
		return err == nil && j.CancelRequested
	}, 5*time.Second, 5*time.Millisecond)
	close(gate.release)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, exitCancelled, res.code)
	case <-time.After(10 * time.Second):
		t.Fatal("submit did not return after the interrupt")
	}
	assert.Contains(t, out.String(), "cancelling "+id)
	assert.Contains(t, out.String(), "Cancelled")
}

func TestSubmit_MissingFile(t *testing.T) {
	out := &lockedBuffer{}
	code, err := run(t, testCtx(t), out, "http://127.0.0.1:1", "submit")
	require.NoError(t, err)
	assert.Equal(t, exitUsage, code)
}

func TestSubmit_UnknownDataset(t *testing.T) {
	out := &lockedBuffer{}
	code, err := run(t, testCtx(t), out, "http://127.0.0.1:1", "submit", "--dataset", "orders", "x.csv")
	require.NoError(t, err)
	assert.Equal(t, exitUsage, code)
}

func TestCancel_FinishedJob(t *testing.T) {
	server := startServer(t, nil)
	out := &lockedBuffer{}

	code, err := run(t, testCtx(t), out, server, "submit", "--async", writeProducts(t, 5))
	require.NoError(t, err)
	require.Equal(t, 0, code)
	id := strings.Fields(out.String())[1]

	code, err = run(t, testCtx(t), &lockedBuffer{}, server, "cancel", id)
	require.NoError(t, err)
	assert.Equal(t, exitFailed, code)
}

func TestStatus_UnknownJob(t *testing.T) {
	server := startServer(t, nil)

	_, err := run(t, testCtx(t), &lockedBuffer{}, server, "status", "no-such-job")
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
}

func TestDatasets(t *testing.T) {
	server := startServer(t, nil)
	out := &lockedBuffer{}

	_, err := run(t, testCtx(t), out, server, "datasets")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "KEY")
	assert.Contains(t, out.String(), "products")
	assert.Contains(t, out.String(), "movements")
}

func TestTemplate_ToFile(t *testing.T) {
	server := startServer(t, nil)
	path := filepath.Join(t.TempDir(), "products.csv")

	_, err := run(t, testCtx(t), &lockedBuffer{}, server, "template", "-o", path, "products")
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "sku,"))
}

func TestTemplate_RejectsAuto(t *testing.T) {
	code, err := run(t, testCtx(t), &lockedBuffer{}, "http://127.0.0.1:1", "template", "auto")
	require.NoError(t, err)
	assert.Equal(t, exitUsage, code)
}
