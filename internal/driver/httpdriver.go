// SPDX-License-Identifier: MIT

package driver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/poisson-noise/poisson/internal/persona"
)

// HTTP is a headless-browser stand-in built on net/http. It fetches pages,
// counts wire bytes, and scrapes same-origin links so Follow has something
// to click. No scripts run, which is fine for noise purposes.
type HTTP struct {
	client  *http.Client
	persona persona.Persona

	mu    sync.Mutex
	base  string
	links []string
}

// Response bodies are read up to this limit so one heavy page cannot eat
// the bandwidth budget alone.
const maxBodyBytes = 4 << 20

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// ErrNoAd is returned by ClickAd when the page had no qualifying link.
var ErrNoAd = errors.New("no ad link on page")

// Ad-ish URL fragments; a click is only simulated against these.
var adMarkers = []string{"/ads/", "doubleclick", "adclick", "sponsored", "utm_campaign"}

// HTTPFactory builds HTTP drivers, optionally through a SOCKS5 proxy.
type HTTPFactory struct {
	// SOCKSAddr is dialed for drivers created with viaSOCKS.
	SOCKSAddr string
}

// New implements Factory.
func (f *HTTPFactory) New(_ context.Context, viaSOCKS bool) (PageDriver, error) {
	transport := &http.Transport{
		MaxIdleConns:        4,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	if viaSOCKS {
		if f.SOCKSAddr == "" {
			return nil, errors.New("socks proxy not configured")
		}
		dialer, err := proxy.SOCKS5("tcp", f.SOCKSAddr, nil, &net.Dialer{Timeout: 15 * time.Second})
		if err != nil {
			return nil, err
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, errors.New("socks dialer lacks context support")
		}
		transport.DialContext = cd.DialContext
	}
	return &HTTP{client: &http.Client{Transport: transport}}, nil
}

// Open implements PageDriver.
func (d *HTTP) Open(ctx context.Context, url string, p persona.Persona, timeout time.Duration) Result {
	d.mu.Lock()
	d.persona = p
	d.mu.Unlock()
	return d.fetch(ctx, url, timeout, true)
}

// Follow implements PageDriver. The link index wraps around the scraped
// link list.
func (d *HTTP) Follow(ctx context.Context, linkIndex int, timeout time.Duration) Result {
	d.mu.Lock()
	links := d.links
	d.mu.Unlock()
	if len(links) == 0 {
		return Result{OK: false, Err: errors.New("no links on page")}
	}
	if linkIndex < 0 {
		linkIndex = -linkIndex
	}
	return d.fetch(ctx, links[linkIndex%len(links)], timeout, true)
}

// ClickAd implements PageDriver.
func (d *HTTP) ClickAd(ctx context.Context, timeout time.Duration) Result {
	d.mu.Lock()
	links := d.links
	d.mu.Unlock()
	for _, link := range links {
		lower := strings.ToLower(link)
		for _, marker := range adMarkers {
			if strings.Contains(lower, marker) {
				return d.fetch(ctx, link, timeout, false)
			}
		}
	}
	return Result{OK: false, Err: ErrNoAd}
}

// Close implements PageDriver.
func (d *HTTP) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

func (d *HTTP) fetch(ctx context.Context, url string, timeout time.Duration, scrape bool) Result {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{OK: false, Err: err}
	}
	d.mu.Lock()
	p := d.persona
	d.mu.Unlock()
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	if len(p.Languages) > 0 {
		req.Header.Set("Accept-Language", strings.Join(p.Languages, ","))
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{OK: false, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	n := int64(len(body))
	if err != nil {
		return Result{BytesRead: n, OK: false, Err: err}
	}
	if resp.StatusCode >= 400 {
		return Result{BytesRead: n, FinalURL: resp.Request.URL.String(), OK: false,
			Err: errors.New(resp.Status)}
	}

	if scrape {
		d.scrapeLinks(resp.Request.URL.String(), body)
	}
	return Result{BytesRead: n, FinalURL: resp.Request.URL.String(), OK: true}
}

// scrapeLinks keeps up to 25 absolute links for Follow/ClickAd.
func (d *HTTP) scrapeLinks(base string, body []byte) {
	matches := hrefPattern.FindAllSubmatch(body, 25)
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, string(m[1]))
	}
	d.mu.Lock()
	d.base = base
	d.links = links
	d.mu.Unlock()
}
