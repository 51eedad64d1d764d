package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/log"
	"github.com/mattjoyce/plugrpc/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	m.Run()
}

type hookRecorder struct {
	mu     sync.Mutex
	bodies []webhookBody
	header http.Header
	status int
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body webhookBody
	_ = json.Unmarshal(data, &body)

	h.mu.Lock()
	h.bodies = append(h.bodies, body)
	h.header = r.Header.Clone()
	status := h.status
	h.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	if status >= 300 {
		_, _ = fmt.Fprint(w, "upstream unhappy")
	}
}

func (h *hookRecorder) received() []webhookBody {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]webhookBody(nil), h.bodies...)
}

func (h *hookRecorder) lastHeader() http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.header
}

func newTestNotifier(t *testing.T) *Notifier {
	t.Helper()
	n := New(Identity{Name: "notify", Description: "test notifier", Version: "0.1.0"})
	t.Cleanup(func() { _ = n.Cleanup(context.Background()) })
	return n
}

func hookConfig(url string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"prefix":"[ci]","channels":[{"name":"hook","type":"webhook","url":%q,"headers":{"X-Token":"abc"}}]}`, url))
}

// call runs op through the same path the dispatch loop uses.
func call(t *testing.T, n *Notifier, method string, params ...string) capability.Outcome {
	t.Helper()
	table, err := capability.NewTable(n)
	require.NoError(t, err)
	op, err := table.Resolve(method)
	require.NoError(t, err)

	args := make(capability.Args, len(params))
	for i, p := range params {
		args[i] = json.RawMessage(p)
	}
	return op.Call(context.Background(), args)
}

func TestIdentity(t *testing.T) {
	n := newTestNotifier(t)
	assert.Equal(t, "notify", n.Identify())
	assert.Equal(t, "test notifier", n.Describe())
	assert.Equal(t, "0.1.0", n.Version())
	assert.Equal(t, capability.KindNotify, n.Kind())
}

func TestSendBeforeInitializeUsesLogChannel(t *testing.T) {
	n := newTestNotifier(t)
	out := call(t, n, "Plugin.Send", `"\"hello\""`, `null`)
	assert.Equal(t, capability.OutcomeVoid, out.Kind(), out.Message())
}

func TestLogChannelWritesToLogger(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf, "INFO", "json")
	t.Cleanup(func() { log.SetOutput(io.Discard, "ERROR", "json") })

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), json.RawMessage(`{"json":true}`)))
	out := call(t, n, "Send", `"{\"build\":7}"`, `"{\"subject\":\"nightly\"}"`)
	require.False(t, out.Failed(), out.Message())

	assert.Contains(t, buf.String(), `"msg":"notification"`)
	assert.Contains(t, buf.String(), `nightly`)
	assert.Contains(t, buf.String(), `"build":7`)
}

func TestSendWebhook(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), hookConfig(srv.URL)))

	tests := []struct {
		name     string
		params   []string
		wantText string
	}{
		{name: "JSON text string", params: []string{`"\"hello\""`, `null`}, wantText: "[ci] hello"},
		{name: "plain string", params: []string{`"deploy done"`}, wantText: "[ci] deploy done"},
		{name: "raw object", params: []string{`{"status":"ok"}`, `null`}, wantText: `[ci] {"status":"ok"}`},
		{name: "null message", params: []string{`null`}, wantText: "[ci] "},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := call(t, n, "Send", tt.params...)
			require.Equal(t, capability.OutcomeVoid, out.Kind(), out.Message())

			got := hook.received()
			require.Len(t, got, i+1)
			assert.Equal(t, tt.wantText, got[i].Message)
			assert.Equal(t, "notify", got[i].Plugin)
		})
	}
	assert.Equal(t, "abc", hook.lastHeader().Get("X-Token"))
	assert.Equal(t, "application/json", hook.lastHeader().Get("Content-Type"))
}

func TestSendWebhookNon2xx(t *testing.T) {
	hook := &hookRecorder{status: http.StatusBadGateway}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), hookConfig(srv.URL)))

	out := call(t, n, "Send", `"\"hello\""`, `null`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "status 502")
	assert.Contains(t, out.Message(), "upstream unhappy")
}

func TestInitializeFailureKeepsPreviousConfig(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), hookConfig(srv.URL)))

	bad := []string{
		`{"channels":[{"type":"bogus"}]}`,
		`"not json at all"`,
		`{"channels":[{"type":"redis","url":"127.0.0.1:1","channel":"c"}],"timeout":"200ms"}`,
	}
	for _, raw := range bad {
		err := n.Initialize(context.Background(), json.RawMessage(raw))
		assert.Error(t, err, raw)
	}

	out := call(t, n, "Send", `"\"still here\""`)
	require.False(t, out.Failed(), out.Message())
	got := hook.received()
	require.Len(t, got, 1)
	assert.Equal(t, "[ci] still here", got[0].Message)
}

func TestInitThroughTable(t *testing.T) {
	n := newTestNotifier(t)
	out := call(t, n, "Init", `null`)
	assert.Equal(t, capability.OutcomeVoid, out.Kind())

	out = call(t, n, "Initialize", `"{\"channels\":[{\"type\":\"nope\"}]}"`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "unknown type")

	out = call(t, n, "Cleanup")
	assert.Equal(t, capability.OutcomeVoid, out.Kind())
}

func TestCleanupIdempotentAndSendAfterCleanup(t *testing.T) {
	n := newTestNotifier(t)
	require.NoError(t, n.Cleanup(context.Background()))
	require.NoError(t, n.Cleanup(context.Background()))

	out := call(t, n, "Send", `"\"late\""`)
	require.True(t, out.Failed())
	assert.Equal(t, ErrClosed.Error(), out.Message())

	require.NoError(t, n.Initialize(context.Background(), nil))
	out = call(t, n, "Send", `"\"back\""`)
	assert.False(t, out.Failed(), out.Message())
}

func TestSendChannelSelection(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	cfg := fmt.Sprintf(`{"channels":[{"type":"log"},{"name":"hook","type":"webhook","url":%q}]}`, srv.URL)
	require.NoError(t, n.Initialize(context.Background(), json.RawMessage(cfg)))

	out := call(t, n, "Send", `"\"quiet\""`, `"{\"channels\":[\"log\"]}"`)
	require.False(t, out.Failed(), out.Message())
	assert.Empty(t, hook.received())

	out = call(t, n, "Send", `"\"loud\""`, `{"channels":["hook"],"subject":"s1"}`)
	require.False(t, out.Failed(), out.Message())
	require.Len(t, hook.received(), 1)
	assert.Equal(t, "s1", hook.received()[0].Subject)

	out = call(t, n, "Send", `"\"x\""`, `{"channels":["pager"]}`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), `unknown channel "pager"`)

	out = call(t, n, "Send", `"\"x\""`, `"{broken"`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "options")
}

func TestSendTemplate(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), hookConfig(srv.URL)))

	out := call(t, n, "SendTemplate", `"build {{.id}} is {{.status}}"`, `"{\"id\":42,\"status\":\"green\"}"`, `null`)
	require.False(t, out.Failed(), out.Message())
	require.Len(t, hook.received(), 1)
	assert.Equal(t, "[ci] build 42 is green", hook.received()[0].Message)

	out = call(t, n, "SendTemplate", `"no data"`)
	require.False(t, out.Failed(), out.Message())
	assert.Equal(t, "[ci] no data", hook.received()[1].Message)

	out = call(t, n, "SendTemplate", `"{{.broken"`, `null`, `null`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "parse template")

	out = call(t, n, "SendTemplate", `"x"`, `"{oops"`, `null`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "template data")
}

func TestSendBatch(t *testing.T) {
	hook := &hookRecorder{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), hookConfig(srv.URL)))

	out := call(t, n, "SendBatch", `"[\"one\",{\"n\":2},\"three\"]"`, `null`)
	require.False(t, out.Failed(), out.Message())
	got := hook.received()
	require.Len(t, got, 3)
	assert.Equal(t, "[ci] one", got[0].Message)
	assert.JSONEq(t, `{"n":2}`, string(got[1].Payload))

	out = call(t, n, "SendBatch", `"{\"not\":\"array\"}"`)
	require.True(t, out.Failed())
	assert.Equal(t, "messages must be a JSON array", out.Message())

	out = call(t, n, "SendBatch", `null`)
	assert.Equal(t, capability.OutcomeVoid, out.Kind())
}

func TestSendBatchJoinsErrors(t *testing.T) {
	hook := &hookRecorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Initialize(context.Background(), hookConfig(srv.URL)))

	out := call(t, n, "SendBatch", `["a","b"]`)
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "message 0")
	assert.Contains(t, out.Message(), "message 1")
	assert.Len(t, hook.received(), 2)
}

func TestArityEnforced(t *testing.T) {
	n := newTestNotifier(t)
	out := call(t, n, "Send")
	require.True(t, out.Failed())
	assert.Contains(t, out.Message(), "Send")

	out = call(t, n, "SendTemplate", `"a"`, `null`, `null`, `null`)
	require.True(t, out.Failed())
}

func TestRedisPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "alerts")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := newTestNotifier(t)
	cfg := fmt.Sprintf(`{"channels":[{"type":"redis","url":"redis://%s/0","channel":"alerts"}]}`, mr.Addr())
	require.NoError(t, n.Initialize(ctx, json.RawMessage(cfg)))

	out := call(t, n, "Send", `"\"disk full\""`, `{"subject":"ops"}`)
	require.False(t, out.Failed(), out.Message())

	select {
	case m := <-sub.Channel():
		var msg Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &msg))
		assert.Equal(t, "disk full", msg.Text)
		assert.Equal(t, "ops", msg.Subject)
	case <-ctx.Done():
		t.Fatal("no message published")
	}
}

func TestRedisList(t *testing.T) {
	mr := miniredis.RunT(t)

	n := newTestNotifier(t)
	cfg := fmt.Sprintf(`{"channels":[{"type":"redis","url":%q,"channel":"notify:queue","mode":"list"}]}`, mr.Addr())
	require.NoError(t, n.Initialize(context.Background(), json.RawMessage(cfg)))

	out := call(t, n, "SendBatch", `["first","second"]`)
	require.False(t, out.Failed(), out.Message())

	items, err := mr.List("notify:queue")
	require.NoError(t, err)
	require.Len(t, items, 2)
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(items[1]), &msg))
	assert.Equal(t, "second", msg.Text)
}

func TestOutboxDedupes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")

	n := newTestNotifier(t)
	cfg := fmt.Sprintf(`{"channels":[{"name":"audit","type":"outbox","path":%q}]}`, path)
	require.NoError(t, n.Initialize(context.Background(), json.RawMessage(cfg)))

	for _, text := range []string{`"same"`, `"same"`, `"different"`} {
		out := call(t, n, "Send", text)
		require.False(t, out.Failed(), out.Message())
	}
	require.NoError(t, n.Cleanup(context.Background()))

	box, err := storage.OpenOutbox(context.Background(), path)
	require.NoError(t, err)
	defer box.Close()

	count, err := box.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	recent, err := box.Recent(context.Background(), "audit", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "notify", recent[0].Plugin)
}
