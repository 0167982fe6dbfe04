package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"pkt.systems/fleetcon/internal/jobapi"
	"pkt.systems/fleetcon/schema"
)

const samplePlaybook = `
- name: deploy
  hosts: all
  tasks:
    - name: copy files
    - name: restart service
`

func sampleRequest() jobapi.RunRequest {
	return jobapi.RunRequest{
		Playbook: samplePlaybook,
		HostList: []jobapi.Host{
			{ID: 1, IP: "10.0.0.1", Port: 22, Username: "root"},
			{ID: 2, IP: "10.0.0.2", Port: 22, Username: "deploy"},
		},
		Params: map[string]any{FailHostsParam: []any{"10.0.0.2"}},
	}
}

func newBackend(t *testing.T, cfg Config) (*Server, *httptest.Server, *jobapi.Client) {
	t.Helper()
	srv := NewServer(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.SetBaseContext(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client, err := jobapi.New(jobapi.Config{
		BaseURL:           ts.URL + normalizeBasePath(cfg.BasePath),
		APIToken:          cfg.APIToken,
		GeometryPerSecond: -1,
	})
	if err != nil {
		t.Fatalf("jobapi client: %v", err)
	}
	return srv, ts, client
}

func waitResult(t *testing.T, client *jobapi.Client, token schema.ExecutionToken) jobapi.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := client.Result(context.Background(), token)
		if err != nil {
			t.Fatalf("result: %v", err)
		}
		if res.Status != schema.WireRunning {
			return res
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for run %s", token)
	return jobapi.Result{}
}

func wsURL(ts *httptest.Server, token schema.ExecutionToken, query string) string {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/subscribe/" + string(token) + "/"
	if query != "" {
		url += "?" + query
	}
	return url
}

func TestBackendRunLifecycle(t *testing.T) {
	_, ts, client := newBackend(t, Config{})
	ctx := context.Background()

	run, err := client.StartRun(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if len(run.Token) != 32 {
		t.Fatalf("expected uuid hex token, got %q", run.Token)
	}
	want := []schema.StreamKey{"all", "10.0.0.1", "10.0.0.2"}
	if len(run.Keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, run.Keys)
	}
	for i := range want {
		if run.Keys[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, run.Keys)
		}
	}
	if run.Titles["10.0.0.2"] != "deploy@10.0.0.2:22" {
		t.Fatalf("unexpected title %q", run.Titles["10.0.0.2"])
	}

	res := waitResult(t, client, run.Token)
	if res.Status != schema.WireFailed {
		t.Fatalf("expected failed run, got %d", res.Status)
	}
	if !strings.Contains(res.Output, "INVENTORY") || !strings.Contains(res.Output, "fatal: [10.0.0.2]") {
		t.Fatalf("unexpected output %q", res.Output)
	}

	ws, _, err := websocket.Dial(ctx, wsURL(ts, run.Token, ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()
	if err := ws.Write(ctx, websocket.MessageText, []byte(schema.HandshakeMessage)); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	final := map[schema.StreamKey]schema.RecordStatus{}
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("expected normal closure, got %v", err)
			}
			break
		}
		msg := schema.DecodeInbound(data)
		if msg.Kind != schema.InboundFrame {
			continue
		}
		if st, ok := msg.Frame.RecordStatus(); ok {
			final[msg.Frame.Key] = st
		}
	}
	expect := map[schema.StreamKey]schema.RecordStatus{
		"all":      schema.StatusFailed,
		"10.0.0.1": schema.StatusSuccess,
		"10.0.0.2": schema.StatusFailed,
	}
	for key, st := range expect {
		if final[key] != st {
			t.Fatalf("%s: expected %s, got %s", key, st, final[key])
		}
	}

	history, err := client.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Digest != string(run.Token) || len(history[0].HostIDs) != 2 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestBackendKeepaliveAndLiveFrames(t *testing.T) {
	srv, ts, _ := newBackend(t, Config{KeepaliveInterval: 20 * time.Millisecond})
	hub := srv.Hub()
	hub.Create(RunInfo{Token: "live", Keys: []schema.StreamKey{"all"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(ts, "live", ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "") }()
	if err := ws.Write(ctx, websocket.MessageText, []byte(schema.HandshakeMessage)); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != schema.KeepaliveProbe {
		t.Fatalf("expected keepalive probe, got %q", data)
	}
	if err := ws.Write(ctx, websocket.MessageText, []byte(schema.KeepaliveReply)); err != nil {
		t.Fatalf("keepalive reply: %v", err)
	}

	if err := hub.Publish("live", schema.Frame{Key: "all", Data: strPtr("hello")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) == schema.KeepaliveProbe {
			continue
		}
		if string(data) != `{"key":"all","data":"hello"}` {
			t.Fatalf("unexpected frame %q", data)
		}
		break
	}

	hub.Finish("live", schema.WireSuccess)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.Fatalf("expected normal closure, got %v", err)
			}
			return
		}
		if string(data) != schema.KeepaliveProbe {
			t.Fatalf("unexpected message after finish %q", data)
		}
	}
}

func TestBackendRejectsBadHandshake(t *testing.T) {
	srv, ts, _ := newBackend(t, Config{})
	srv.Hub().Create(RunInfo{Token: "t1", Keys: []schema.StreamKey{"all"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, wsURL(ts, "t1", ""), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := ws.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err = ws.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation, got %v", err)
	}
}

func TestBackendUnknownRun(t *testing.T) {
	_, ts, client := newBackend(t, Config{})
	ctx := context.Background()
	if _, err := client.Result(ctx, "missing"); !errors.Is(err, schema.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, _, err := websocket.Dial(ctx, wsURL(ts, "missing", ""), nil); err == nil {
		t.Fatalf("expected dial to fail for unknown run")
	}
}

func TestBackendRequiresToken(t *testing.T) {
	srv, ts, client := newBackend(t, Config{APIToken: "s3cret"})
	ctx := context.Background()

	resp, err := http.Get(ts.URL + "/api/exec/ansible/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if _, err := client.History(ctx); err != nil {
		t.Fatalf("history with token: %v", err)
	}

	srv.Hub().Create(RunInfo{Token: "t1", Keys: []schema.StreamKey{"all"}})
	if _, _, err := websocket.Dial(ctx, wsURL(ts, "t1", ""), nil); err == nil {
		t.Fatalf("expected subscription without token to fail")
	}
	ws, _, err := websocket.Dial(ctx, wsURL(ts, "t1", "x-token=s3cret"), nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")

	if _, err := client.Result(ctx, "t1"); err != nil {
		t.Fatalf("result polling must not require a token: %v", err)
	}
}

func TestBackendGeometry(t *testing.T) {
	srv, _, client := newBackend(t, Config{})
	srv.Hub().Create(RunInfo{Token: "t1", Keys: []schema.StreamKey{"all"}})
	if err := client.ReportGeometry(context.Background(), "t1", schema.Geometry{Cols: 132, Rows: 43}); err != nil {
		t.Fatalf("report geometry: %v", err)
	}
	geom, ok := srv.Hub().Geometry("t1")
	if !ok || geom.Cols != 132 || geom.Rows != 43 {
		t.Fatalf("unexpected geometry %+v", geom)
	}
	var apiErr *jobapi.APIError
	if err := client.ReportGeometry(context.Background(), "nope", schema.Geometry{Cols: 1, Rows: 1}); !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestBackendDispatchFailure(t *testing.T) {
	_, _, client := newBackend(t, Config{})
	req := sampleRequest()
	req.Playbook = "just: [unbalanced"
	run, err := client.StartRun(context.Background(), req)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	res := waitResult(t, client, run.Token)
	if res.Status != schema.WireDispatchFailed {
		t.Fatalf("expected dispatch failure, got %d", res.Status)
	}
	if !strings.Contains(res.Output, "dispatch failed") {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestBackendValidationErrorUsesEnvelope(t *testing.T) {
	_, ts, _ := newBackend(t, Config{})
	resp, err := http.Post(ts.URL+"/api/exec/ansible/", "application/json", strings.NewReader(`{"playbook":"x","host_list":[]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Data  any    `json:"data"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body.Error == "" || body.Data != nil {
		t.Fatalf("expected envelope error, got %d %+v", resp.StatusCode, body)
	}
}

func TestBackendBasePath(t *testing.T) {
	_, ts, client := newBackend(t, Config{BasePath: "/ops"})
	if _, err := client.History(context.Background()); err != nil {
		t.Fatalf("history under base path: %v", err)
	}
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := noRedirect.Get(ts.URL + "/ops")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
}

func TestTokenFromPath(t *testing.T) {
	cases := []struct {
		path string
		want schema.ExecutionToken
	}{
		{"/ws/subscribe/abc/", "abc"},
		{"/api/exec/ansible/result/def/", "def"},
		{"/ops/api/exec/ansible/size/ghi/", "ghi"},
		{"/api/exec/ansible/", ""},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if got := tokenFromPath(r); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.path, got, tc.want)
		}
	}
}
