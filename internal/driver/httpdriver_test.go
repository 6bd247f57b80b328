// SPDX-License-Identifier: MIT

package driver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poisson-noise/poisson/internal/persona"
)

func newHTTPDriver(t *testing.T) PageDriver {
	t.Helper()
	f := &HTTPFactory{}
	d, err := f.New(context.Background(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpenCountsBytesAndSendsPersonaHeaders(t *testing.T) {
	var gotUA, gotLang atomic.Value
	body := "<html><body>hello decoy</body></html>"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotLang.Store(r.Header.Get("Accept-Language"))
		fmt.Fprint(w, body)
	}))
	defer ts.Close()

	d := newHTTPDriver(t)
	p := persona.Persona{
		UserAgent: "TestAgent/1.0",
		Languages: []string{"de-DE", "de"},
	}
	res := d.Open(context.Background(), ts.URL, p, 5*time.Second)

	require.True(t, res.OK, "err: %v", res.Err)
	assert.Equal(t, int64(len(body)), res.BytesRead)
	assert.Equal(t, "TestAgent/1.0", gotUA.Load())
	assert.Equal(t, "de-DE,de", gotLang.Load())
}

func TestFollowUsesScrapedLinks(t *testing.T) {
	var linkHits atomic.Int64
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="%s/article">read more</a>`, ts.URL)
	})
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		linkHits.Add(1)
		fmt.Fprint(w, "<html>the article</html>")
	})

	d := newHTTPDriver(t)
	res := d.Open(context.Background(), ts.URL, persona.Persona{}, 5*time.Second)
	require.True(t, res.OK)

	res = d.Follow(context.Background(), 7, 5*time.Second)
	require.True(t, res.OK, "err: %v", res.Err)
	assert.Greater(t, res.BytesRead, int64(0))
	assert.Equal(t, int64(1), linkHits.Load(), "index must wrap onto the single link")
}

func TestFollowWithoutLinksFails(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>no links here</html>")
	}))
	defer ts.Close()

	d := newHTTPDriver(t)
	require.True(t, d.Open(context.Background(), ts.URL, persona.Persona{}, 5*time.Second).OK)

	res := d.Follow(context.Background(), 0, 5*time.Second)
	assert.False(t, res.OK)
	require.Error(t, res.Err)
}

func TestClickAdFindsMarkedLink(t *testing.T) {
	var adHits atomic.Int64
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="%s/plain">x</a> <a href="%s/ads/banner42">buy now</a>`, ts.URL, ts.URL)
	})
	mux.HandleFunc("/ads/banner42", func(w http.ResponseWriter, r *http.Request) {
		adHits.Add(1)
		fmt.Fprint(w, "<html>an ad</html>")
	})

	d := newHTTPDriver(t)
	require.True(t, d.Open(context.Background(), ts.URL, persona.Persona{}, 5*time.Second).OK)

	res := d.ClickAd(context.Background(), 5*time.Second)
	require.True(t, res.OK, "err: %v", res.Err)
	assert.Equal(t, int64(1), adHits.Load())
}

func TestClickAdWithoutAdLink(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<a href="http://%s/plain">x</a>`, r.Host)
	}))
	defer ts.Close()

	d := newHTTPDriver(t)
	require.True(t, d.Open(context.Background(), ts.URL, persona.Persona{}, 5*time.Second).OK)

	res := d.ClickAd(context.Background(), 5*time.Second)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrNoAd)
}

func TestOpenStatusErrorStillCountsBytes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	defer ts.Close()

	d := newHTTPDriver(t)
	res := d.Open(context.Background(), ts.URL, persona.Persona{}, 5*time.Second)
	assert.False(t, res.OK)
	require.Error(t, res.Err)
	assert.Equal(t, int64(len("overloaded")), res.BytesRead)
}

func TestOpenHonorsTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	d := newHTTPDriver(t)
	start := time.Now()
	res := d.Open(context.Background(), ts.URL, persona.Persona{}, 100*time.Millisecond)
	assert.False(t, res.OK)
	require.Error(t, res.Err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSOCKSRequiresAddress(t *testing.T) {
	f := &HTTPFactory{}
	_, err := f.New(context.Background(), true)
	require.Error(t, err)
}

func TestStubDriverFailEvery(t *testing.T) {
	s := &Stub{BytesPerCall: 10, FailEvery: 2}
	r1 := s.Open(context.Background(), "u", persona.Persona{}, time.Second)
	r2 := s.Open(context.Background(), "u", persona.Persona{}, time.Second)
	assert.True(t, r1.OK)
	assert.False(t, r2.OK)
	assert.ErrorIs(t, r2.Err, ErrStubFailure)
	assert.Equal(t, int64(2), s.Calls())
}
