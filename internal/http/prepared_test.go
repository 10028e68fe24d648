package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareDefaults(t *testing.T) {
	pr, err := (&Request{URL: "http://example.com/a?b=c"}).Prepare()
	require.NoError(t, err)
	assert.Equal(t, "GET", pr.Method)
	assert.Equal(t, "example.com", pr.HeaderHost)
	assert.Equal(t, int64(0), pr.ContentLength)
	assert.False(t, pr.Chunked())
	assert.False(t, pr.SendContentLength())
	assert.True(t, pr.Rewindable)

	body, err := pr.GetBody()
	require.NoError(t, err)
	assert.Equal(t, NoBody, body)
}

func TestPrepareHeaders(t *testing.T) {
	r := &Request{
		URL: "http://example.com",
		Header: http.Header{
			"Host":           {"other.example"},
			"Content-Length": {"3"},
			"X-Kept":         {"1"},
		},
		Body: "abc",
	}
	pr, err := r.Prepare()
	require.NoError(t, err)
	assert.Equal(t, "other.example", pr.HeaderHost)
	assert.Equal(t, http.Header{"X-Kept": {"1"}}, pr.Header)
	assert.Len(t, r.Header, 3, "the request's own header is not touched")

	r.Header["Content-Length"] = []string{"4"}
	_, err = r.Prepare()
	assert.Error(t, err, "conflicting content length")
}

func TestPrepareRejects(t *testing.T) {
	for name, r := range map[string]*Request{
		"method":      {Method: "GE T", URL: "http://example.com"},
		"headerName":  {URL: "http://example.com", Header: http.Header{"X:Y": {"1"}}},
		"headerValue": {URL: "http://example.com", Header: http.Header{"X": {"a\r\nb"}}},
		"emptyHost":   {URL: "/relative"},
		"badHost":     {URL: "http://example.com", Header: http.Header{"Host": {"a b"}}},
		"badURL":      {URL: "http://[::1"},
		"bodyType":    {URL: "http://example.com", Body: 42},
	} {
		_, err := r.Prepare()
		assert.Error(t, err, name)
	}
}

func TestPrepareBodies(t *testing.T) {
	cases := map[string]struct {
		body       interface{}
		length     int64
		rewindable bool
	}{
		"string":        {"hello", 5, true},
		"bytes":         {[]byte("hello"), 5, true},
		"buffer":        {bytes.NewBufferString("hello"), 5, true},
		"bytesReader":   {bytes.NewReader([]byte("hello")), 5, true},
		"stringsReader": {strings.NewReader("hello"), 5, true},
		"reader":        {io.MultiReader(strings.NewReader("hello")), -1, false},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			pr, err := (&Request{Method: "POST", URL: "http://example.com", Body: c.body}).Prepare()
			require.NoError(t, err)
			assert.Equal(t, c.length, pr.ContentLength)
			assert.Equal(t, c.rewindable, pr.Rewindable)
			assert.Equal(t, c.length == -1, pr.Chunked())

			for i := 0; i < 2; i++ {
				b, err := pr.GetBody()
				if !c.rewindable && i == 1 {
					assert.ErrorIs(t, err, http.ErrBodyReadAfterClose)
					break
				}
				require.NoError(t, err)
				data, err := io.ReadAll(b)
				require.NoError(t, err)
				assert.Equal(t, "hello", string(data))
			}
		})
	}
}

func TestSendContentLength(t *testing.T) {
	for method, want := range map[string]bool{"GET": false, "POST": true, "PUT": true, "PATCH": true, "DELETE": false} {
		pr, err := (&Request{Method: method, URL: "http://example.com"}).Prepare()
		require.NoError(t, err)
		assert.Equal(t, want, pr.SendContentLength(), method)
	}
}
