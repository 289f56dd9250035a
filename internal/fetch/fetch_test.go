package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>24 Karat Gold : ₹13,014 per gram</body></html>"))
	}))
	defer ts.Close()

	f := New(WithClient(ts.Client()))
	doc, err := f.Fetch(context.Background(), Request{
		URL:     ts.URL,
		Headers: http.Header{"X-Test": []string{"yes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doc.StatusCode)
	assert.Equal(t, "text/html", doc.ContentType)
	assert.Contains(t, doc.String(), "13,014")
	assert.False(t, doc.FetchedAt.IsZero())
}

func TestHTTPFetcher_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 3000)))
	}))
	defer ts.Close()

	_, err := New(WithClient(ts.Client())).Fetch(context.Background(), Request{URL: ts.URL})
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindHTTP, fe.Kind)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.False(t, IsBlocked(err))
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	_, err := New(WithClient(ts.Client())).Fetch(context.Background(), Request{
		URL:     ts.URL,
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestHTTPFetcher_ConnectionError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New().Fetch(context.Background(), Request{URL: url})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindConnection, fe.Kind)
}

func TestHTTPFetcher_InvalidURL(t *testing.T) {
	_, err := New().Fetch(context.Background(), Request{URL: "://nope"})
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindConnection, fe.Kind)
}

func TestHTTPFetcher_Blocked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Attention Required"))
	}))
	defer ts.Close()

	_, err := New(WithClient(ts.Client())).Fetch(context.Background(), Request{URL: ts.URL})
	require.Error(t, err)

	var be *BlockedError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, BlockCloudflare, be.Reason)
}

func TestHTTPFetcher_MaxBodyBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 5000)))
	}))
	defer ts.Close()

	doc, err := New(WithClient(ts.Client()), WithMaxBodyBytes(3000)).
		Fetch(context.Background(), Request{URL: ts.URL})
	require.NoError(t, err)
	assert.Len(t, doc.Body, 3000)
}

func TestHTTPFetcher_HostRate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("ok ", 1000)))
	}))
	defer ts.Close()

	f := New(WithClient(ts.Client()), WithHostRate(10, 1))
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), Request{URL: ts.URL})
		require.NoError(t, err)
	}
	// Burst of one at 10/s: the second and third requests each wait ~100ms.
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDetectBlock(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		want   BlockType
	}{
		{"clean page", 200, nil, strings.Repeat("<p>Sensex 81,000</p>", 200), BlockNone},
		{"cloudflare header", 403, http.Header{"Server": []string{"cloudflare"}}, "", BlockCloudflare},
		{"cloudflare challenge", 200, nil, "Checking your browser before accessing", BlockCloudflare},
		{"captcha", 200, nil, `<div class="g-recaptcha"></div>`, BlockCaptcha},
		{"access denied", 403, nil, "<h1>Access Denied</h1>", BlockAccess},
		{"js shell", 200, nil, `<noscript>Please enable JavaScript</noscript>`, BlockJSShell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			blocked, reason := DetectBlock(&http.Response{StatusCode: tt.status, Header: h}, []byte(tt.body))
			assert.Equal(t, tt.want != BlockNone, blocked)
			assert.Equal(t, tt.want, reason)
		})
	}
}

type stubFetcher struct {
	calls int
	doc   *Document
	err   error
}

func (s *stubFetcher) Fetch(_ context.Context, _ Request) (*Document, error) {
	s.calls++
	return s.doc, s.err
}

func TestWithBlockFallback(t *testing.T) {
	t.Run("blocked uses alternate once", func(t *testing.T) {
		primary := &stubFetcher{err: &BlockedError{URL: "u", Reason: BlockCaptcha}}
		alt := &stubFetcher{doc: &Document{Body: []byte("rendered")}}

		doc, err := WithBlockFallback(primary, alt).Fetch(context.Background(), Request{URL: "u"})
		require.NoError(t, err)
		assert.Equal(t, "rendered", doc.String())
		assert.Equal(t, 1, primary.calls)
		assert.Equal(t, 1, alt.calls)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		primary := &stubFetcher{err: &FetchError{Kind: KindHTTP, URL: "u", StatusCode: 500}}
		alt := &stubFetcher{}

		_, err := WithBlockFallback(primary, alt).Fetch(context.Background(), Request{URL: "u"})
		require.Error(t, err)
		assert.Equal(t, 0, alt.calls)
	})

	t.Run("nil alternate returns primary", func(t *testing.T) {
		primary := &stubFetcher{}
		assert.Same(t, primary, WithBlockFallback(primary, nil))
	})
}
