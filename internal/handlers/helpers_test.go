package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/repository/postgres"
	"github.com/nkiryanov/skillswap/internal/service/auth"
	"github.com/nkiryanov/skillswap/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
	"github.com/nkiryanov/skillswap/internal/service/swap"
	"github.com/nkiryanov/skillswap/internal/service/user"
	"github.com/nkiryanov/skillswap/internal/testutil"
)

const testSignupGrant = 100

// Run http server with production services inside db transaction
// Transaction is rolled back when test stops
func withServer(dbpool *pgxpool.Pool, t *testing.T, fn func(url string, auth *auth.AuthService)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		l := logger.NewNoOpLogger()
		storage := postgres.NewStorage(tx)
		engine := ledger.NewEngine(storage, l, ledger.Options{})

		tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage.Refresh())
		require.NoError(t, err, "token manager should be created without errors")

		users := user.NewService(user.Config{SignupGrant: testSignupGrant}, storage, engine, l)
		s, err := auth.NewService(auth.Config{}, tokenManager, users)
		require.NoError(t, err, "auth service starting error", err)

		swaps := swap.NewService(storage, engine, nil, l)

		srv := httptest.NewServer(NewRouter(s, engine, swaps, l))
		defer srv.Close()

		fn(srv.URL, s)
	})
}

type client struct {
	t      *testing.T
	url    string
	access string // Authorization header value
}

// Register user and return client authenticated as it
func register(t *testing.T, url string, login string) *client {
	t.Helper()

	c := &client{t: t, url: url}
	resp, body := c.do(http.MethodPost, "/api/user/register", `{"login": "`+login+`", "password": "StrongEnoughPassword"}`)
	require.Equalf(t, http.StatusOK, resp.StatusCode, "register failed. Body: %s", body)

	c.access = resp.Header.Get("Authorization")
	require.NotEmpty(t, c.access)
	return c
}

func (c *client) do(method string, path string, data string) (*http.Response, string) {
	c.t.Helper()

	var reqBody io.Reader
	if data != "" {
		reqBody = strings.NewReader(data)
	}
	req, err := http.NewRequest(method, c.url+path, reqBody)
	require.NoError(c.t, err)
	if c.access != "" {
		req.Header.Set("Authorization", c.access)
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	_ = resp.Body.Close()

	return resp, string(body)
}

// Do request, require status and decode response body to T
func doJSON[T any](c *client, method string, path string, data string, status int) T {
	c.t.Helper()

	resp, body := c.do(method, path, data)
	require.Equalf(c.t, status, resp.StatusCode, "not expected code. Body: %s", body)

	var v T
	require.NoError(c.t, json.Unmarshal([]byte(body), &v), "body: %s", body)
	return v
}
