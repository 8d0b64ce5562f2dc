// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
	"github.com/NyaDerator/DiscordBridgeMC/internal/stats"
	"github.com/NyaDerator/DiscordBridgeMC/internal/validation"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Handle(_ context.Context, req gateway.Request) gateway.Verdict {
	args := m.Called(req)
	return args.Get(0).(gateway.Verdict)
}

func (m *mockGateway) ResetCooldown(name string) error {
	return m.Called(name).Error(0)
}

func (m *mockGateway) ResetGlobalCooldown() {
	m.Called()
}

type reloaderFunc func(ctx context.Context) (*config.Snapshot, error)

func (f reloaderFunc) Reload(ctx context.Context) (*config.Snapshot, error) {
	return f(ctx)
}

type playerList []gateway.Actor

func (p playerList) Online() []gateway.Actor { return p }

type fixedCooldowns struct {
	actors map[string]time.Duration
	global time.Duration
}

func (c fixedCooldowns) Snapshot() map[string]time.Duration { return c.actors }
func (c fixedCooldowns) GlobalRemaining() time.Duration     { return c.global }

type serverState struct{ running, ready bool }

func (s serverState) Running() bool { return s.running }
func (s serverState) Ready() bool   { return s.ready }

func newHolder(t *testing.T) *config.Holder {
	t.Helper()
	snap, err := config.Compile(config.Default(), nil)
	require.NoError(t, err)
	return config.NewHolder(snap)
}

func newTestServer(t *testing.T, gw Gateway, opts ...Option) *Server {
	t.Helper()
	s, err := NewServer("127.0.0.1:0", Deps{Gateway: gw, Config: newHolder(t)}, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

const executeBody = `{"requester":"123","target":"Steve","command":"say hi"}`

func TestNewServer_NilDeps(t *testing.T) {
	_, err := NewServer(":0", Deps{Config: newHolder(t)})
	assert.ErrorIs(t, err, ErrNilGateway)

	_, err = NewServer(":0", Deps{Gateway: &mockGateway{}})
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestExecute_Success(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Handle", gateway.Request{Requester: "123", Target: "Steve", Command: "say hi"}).
		Return(gateway.Verdict{
			RequestID:    ulid.Make(),
			Stage:        gateway.StateVerdict,
			Command:      "say hi",
			FinalCommand: "execute as Steve at @s run say hi",
			Target:       "Steve",
			ActorID:      "069a79f4-44e9-4726-a5be-fca90e38aaf5",
			Duration:     120 * time.Millisecond,
		})

	rec := do(t, newTestServer(t, gw).Handler(), http.MethodPost, "/v1/execute", executeBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ExecuteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Code)
	assert.Equal(t, "execute as Steve at @s run say hi", resp.FinalCommand)
	assert.Equal(t, int64(120), resp.DurationMS)
	gw.AssertExpectations(t)
}

func TestExecute_Cooldown(t *testing.T) {
	gw := &mockGateway{}
	gw.On("Handle", mock.Anything).Return(gateway.Verdict{
		RequestID: ulid.Make(),
		Stage:     gateway.StateRateLimitCheck,
		Err:       gateway.ErrOnCooldown("Steve", 4500*time.Millisecond),
	})

	rec := do(t, newTestServer(t, gw).Handler(), http.MethodPost, "/v1/execute", executeBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	resp := decodeError(t, rec)
	assert.Equal(t, gateway.CodeOnCooldown, resp.Code)
	assert.Equal(t, int64(4500), resp.RemainingMS)
	assert.Equal(t, "rate_limit_check", resp.Stage)
	assert.Contains(t, resp.Reason, "4.5")
}

func TestExecute_ExecutionFailed(t *testing.T) {
	gw := &mockGateway{}
	out := "**Usage: /give <targets> <item> [<count>]**"
	gw.On("Handle", mock.Anything).Return(gateway.Verdict{
		RequestID: ulid.Make(),
		Stage:     gateway.StateAwaitingOutcome,
		Output:    out,
		Err:       gateway.ErrExecutionFailed("give", out),
	})

	rec := do(t, newTestServer(t, gw).Handler(), http.MethodPost, "/v1/execute", executeBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, gateway.CodeExecutionFailed, resp.Code)
	assert.Equal(t, out, resp.Output)
}

func TestExecute_InvalidBody(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		code  string
		field string
	}{
		{name: "malformed json", body: `{"requester":`, code: CodeBadRequest},
		{name: "unknown field", body: `{"requester":"1","command":"say","extra":1}`, code: CodeBadRequest},
		{name: "missing command", body: `{"requester":"1"}`, code: validation.CodeValidationFailed, field: "command"},
		{name: "target too long", body: `{"requester":"1","command":"say","target":"abcdefghijklmnopq"}`, code: validation.CodeValidationFailed, field: "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{}
			rec := do(t, newTestServer(t, gw).Handler(), http.MethodPost, "/v1/execute", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			if tt.field != "" {
				assert.Contains(t, resp.Fields, tt.field)
			}
			gw.AssertNotCalled(t, "Handle", mock.Anything)
		})
	}
}

func TestAuthentication(t *testing.T) {
	gw := &mockGateway{}
	h := newTestServer(t, gw, WithToken("s3cret")).Handler()

	rec := do(t, h, http.MethodGet, "/v1/players", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeUnauthorized, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/v1/players", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/players", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExecute_RateLimited(t *testing.T) {
	limiter := NewRequesterLimiter(LimiterConfig{Rate: 0.1, Burst: 1}, nil)
	defer limiter.Close()

	gw := &mockGateway{}
	gw.On("Handle", mock.Anything).Return(gateway.Verdict{RequestID: ulid.Make(), Stage: gateway.StateVerdict})
	h := newTestServer(t, gw, WithLimiter(limiter)).Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/execute", executeBody).Code)

	rec := do(t, h, http.MethodPost, "/v1/execute", executeBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	other := `{"requester":"456","command":"say hi"}`
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/execute", other).Code,
		"limits are per requester")
	gw.AssertNumberOfCalls(t, "Handle", 2)
}

func TestStatus(t *testing.T) {
	holder := newHolder(t)
	mem := stats.NewMemory()
	mem.Record(context.Background(), gateway.Verdict{Stage: gateway.StateVerdict})

	s, err := NewServer("127.0.0.1:0", Deps{
		Gateway:   &mockGateway{},
		Config:    holder,
		Players:   playerList{{Name: "Steve", ID: "a"}, {Name: "Alex", ID: "b"}},
		Cooldowns: fixedCooldowns{actors: map[string]time.Duration{"a": 3 * time.Second}, global: time.Second},
		Server:    serverState{running: true, ready: true},
		Stats:     mem,
	}, WithVersion("1.2.3"))
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, uint64(1), resp.Config.Generation)
	assert.Equal(t, 3, resp.Config.Rules)
	assert.Equal(t, 2, resp.Players)
	require.NotNil(t, resp.Server)
	assert.True(t, resp.Server.Ready)
	assert.Equal(t, int64(1000), resp.Cooldowns.GlobalMS)
	assert.Equal(t, map[string]int64{"a": 3000}, resp.Cooldowns.Actors)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, int64(1), resp.Stats.Executed)
}

func TestPlayers_Sorted(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", Deps{
		Gateway: &mockGateway{},
		Config:  newHolder(t),
		Players: playerList{{Name: "Steve", ID: "a"}, {Name: "Alex", ID: "b"}},
	})
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodGet, "/v1/players", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PlayersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, []PlayerResponse{{Name: "Alex", ID: "b"}, {Name: "Steve", ID: "a"}}, resp.Players)
}

func TestResetCooldowns(t *testing.T) {
	gw := &mockGateway{}
	gw.On("ResetCooldown", "Steve").Return(nil)
	gw.On("ResetCooldown", "Ghost").Return(gateway.ErrActorNotFound("Ghost"))
	gw.On("ResetGlobalCooldown").Return()
	h := newTestServer(t, gw).Handler()

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/cooldowns/Steve", "").Code)

	rec := do(t, h, http.MethodDelete, "/v1/cooldowns/Ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, gateway.CodeActorNotFound, decodeError(t, rec).Code)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/v1/cooldowns", "").Code)
	gw.AssertExpectations(t)
}

func TestReload(t *testing.T) {
	holder := newHolder(t)

	t.Run("not configured", func(t *testing.T) {
		rec := do(t, newTestServer(t, &mockGateway{}).Handler(), http.MethodPost, "/v1/admin/reload", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("success", func(t *testing.T) {
		s, err := NewServer(":0", Deps{
			Gateway: &mockGateway{},
			Config:  holder,
			Reloader: reloaderFunc(func(context.Context) (*config.Snapshot, error) {
				snap, err := config.Compile(config.Default(), nil)
				if err != nil {
					return nil, err
				}
				holder.Swap(snap)
				return snap, nil
			}),
		})
		require.NoError(t, err)

		rec := do(t, s.Handler(), http.MethodPost, "/v1/admin/reload", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ReloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint64(2), resp.Generation)
	})

	t.Run("failure", func(t *testing.T) {
		s, err := NewServer(":0", Deps{
			Gateway: &mockGateway{},
			Config:  holder,
			Reloader: reloaderFunc(func(context.Context) (*config.Snapshot, error) {
				return nil, oops.Code(config.CodeUnsupportedVersion).Errorf("config version 9.0.0 is not supported")
			}),
		})
		require.NoError(t, err)

		rec := do(t, s.Handler(), http.MethodPost, "/v1/admin/reload", "")
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, config.CodeUnsupportedVersion, decodeError(t, rec).Code)
	})
}

func TestRequestCounter(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_requests_total"}, []string{"route", "status"})
	h := newTestServer(t, &mockGateway{}, WithRequestCounter(counter)).Handler()

	do(t, h, http.MethodGet, "/v1/players", "")
	do(t, h, http.MethodPost, "/v1/execute", `{}`)

	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("/v1/players", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(counter.WithLabelValues("/v1/execute", "400")), 0)
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		"":                           http.StatusOK,
		CodeUnauthorized:             http.StatusUnauthorized,
		gateway.CodeForbidden:        http.StatusForbidden,
		gateway.CodeFilteredCommand:  http.StatusForbidden,
		gateway.CodeFilteredActor:    http.StatusForbidden,
		gateway.CodeOutOfRange:       http.StatusUnprocessableEntity,
		gateway.CodeOnCooldown:       http.StatusTooManyRequests,
		gateway.CodeGlobalOnCooldown: http.StatusTooManyRequests,
		gateway.CodeActorNotFound:    http.StatusNotFound,
		gateway.CodeExecutionFailed:  http.StatusBadGateway,
		gateway.CodeInternalError:    http.StatusInternalServerError,
		"SOMETHING_ELSE":             http.StatusInternalServerError,
	}
	for code, status := range tests {
		assert.Equal(t, status, StatusFor(code), code)
	}
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, "1", retryAfter(0))
	assert.Equal(t, "1", retryAfter(200*time.Millisecond))
	assert.Equal(t, "15", retryAfter(14*time.Second+time.Millisecond))
}

func TestServer_StartStop(t *testing.T) {
	gw := &mockGateway{}
	s := newTestServer(t, gw, WithToken("s3cret"))

	errCh, err := s.Start()
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
		_, open := <-errCh
		assert.False(t, open)
	}()

	_, err = s.Start()
	require.Error(t, err)

	req, err := http.NewRequest(http.MethodGet, "http://"+s.Addr()+"/v1/players", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count":0,"players":[]}`, string(body))
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, &mockGateway{}, WithToken("s3cret"), WithCORSOrigins([]string{"https://*.example.com"}))

	rec := do(t, s.Handler(), http.MethodOptions, "/v1/status", "",
		"Origin", "https://panel.example.com",
		"Access-Control-Request-Method", http.MethodGet)
	assert.Equal(t, "https://panel.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s.Handler(), http.MethodOptions, "/v1/status", "",
		"Origin", "https://evil.test",
		"Access-Control-Request-Method", http.MethodGet)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
