package handler

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/runclub-portal/internal/middleware"
	"github.com/iliyamo/runclub-portal/internal/validate"
)

type call struct {
	method string
	target string
	body   string
	member uint64
	params map[string]string
	header map[string]string
}

func newCall(method, target, body string) *call {
	return &call{method: method, target: target, body: body}
}

func (c *call) as(id uint64) *call { c.member = id; return c }

func (c *call) param(name, value string) *call {
	if c.params == nil {
		c.params = map[string]string{}
	}
	c.params[name] = value
	return c
}

func (c *call) with(name, value string) *call {
	if c.header == nil {
		c.header = map[string]string{}
	}
	c.header[name] = value
	return c
}

// run invokes h the way the router would and returns the recorder.  An
// error returned by h goes through echo's error handler.
func (c *call) run(t *testing.T, h echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Validator = validate.New()
	req := httptest.NewRequest(c.method, c.target, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	if len(c.params) > 0 {
		var names, values []string
		for k, v := range c.params {
			names = append(names, k)
			values = append(values, v)
		}
		ctx.SetParamNames(names...)
		ctx.SetParamValues(values...)
	}
	if c.member != 0 {
		ctx.Set(middleware.KeyMemberID, c.member)
	}
	if err := h(ctx); err != nil {
		e.HTTPErrorHandler(err, ctx)
	}
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	require.Equal(t, code, decodeBody(t, rec)["code"])
}
