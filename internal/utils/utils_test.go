package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSONResponse(rec, http.StatusCreated, map[string]int{"n": 1}))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	assert.Error(t, WriteJSONResponse(rec, http.StatusOK, make(chan int)))
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"acme"}`, ""},
		{"empty", ``, "empty"},
		{"broken", `{"name":`, "invalid JSON"},
		{"trailing", `{"name":"a"}{"name":"b"}`, "single JSON object"},
		{"too large", `{"name":"` + strings.Repeat("x", MaxJSONBodyBytes) + `"}`, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst struct {
				Name string `json:"name"`
			}
			err := DecodeJSONBody(httptest.NewRecorder(), req, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "acme", dst.Name)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?n=7&bad=x", nil)
	n, err := QueryInt(req, "n", 5)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = QueryInt(req, "missing", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = QueryInt(req, "bad", 5)
	assert.EqualError(t, err, "bad must be an integer")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", " YES ", "on"} {
		assert.True(t, ParseBool(v), v)
	}
	for _, v := range []string{"", "0", "off", "nope"} {
		assert.False(t, ParseBool(v), v)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := map[string]bool{
		"10.1.2.3":        true,
		"192.168.1.1:443": true,
		"[::1]:8000":      true,
		"172.20.0.1":      true,
		"8.8.8.8":         false,
		"not-an-ip":       false,
	}
	for ip, want := range tests {
		assert.Equal(t, want, IsPrivateIP(ip), ip)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct public peer ignores headers", "203.0.113.9:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.9"},
		{"proxy forwarded for", "10.0.0.2:5555", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.2"}, "1.2.3.4"},
		{"proxy real ip", "10.0.0.2:5555", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"proxy without headers", "127.0.0.1:5555", nil, "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestWriteJSONResponseEncodesNested(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSONResponse(rec, http.StatusOK, map[string]interface{}{"items": []string{"a"}}))
	var out map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"a"}, out["items"])
}
