// SPDX-License-Identifier: MIT

package datafiles

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadMissingFilesFallsBackToBuiltins(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Load())

	snap := s.Snapshot()
	require.NotNil(t, snap)
	assert.NotEmpty(t, snap.Sites, "built-in site tables expected")
	assert.Contains(t, snap.Sites, "technology")
	assert.NotEmpty(t, snap.Personas, "built-in personas expected")
	assert.NotEmpty(t, snap.OnionSites)
	assert.Empty(t, snap.DisabledEngines)
}

func TestLoadSitesAndPersonas(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sites.yaml", `
categories:
  news:
    - url: https://news.example
      weight: 2
  technology:
    - url: https://tech.example
      weight: 1
`)
	writeFile(t, dir, "personas.yaml", `
personas:
  - name: test_browser
    user_agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
    viewport:
      width: 1280
      height: 720
    languages: [en-GB]
    weight: 1
`)

	s := NewStore(dir)
	require.NoError(t, s.Load())
	snap := s.Snapshot()

	want := map[string][]WeightedURL{
		"news":       {{URL: "https://news.example", Weight: 2}},
		"technology": {{URL: "https://tech.example", Weight: 1}},
	}
	if diff := cmp.Diff(want, snap.Sites); diff != "" {
		t.Errorf("sites mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, snap.Personas, 1)
	p := snap.Personas[0]
	assert.Equal(t, "test_browser", p.Name)
	assert.Equal(t, 1280, p.ViewportWidth)
	assert.Equal(t, []string{"en-GB"}, p.Languages)
	assert.Equal(t, "Win32", p.Platform, "platform derived from user agent when omitted")
}

func TestPersonaEntryDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "personas.yaml", `
personas:
  - name: bare
    user_agent: "unknown agent"
`)
	s := NewStore(dir)
	require.NoError(t, s.Load())

	p := s.Snapshot().Personas[0]
	assert.Equal(t, 1920, p.ViewportWidth)
	assert.Equal(t, 1080, p.ViewportHeight)
	assert.Equal(t, []string{"en-US", "en"}, p.Languages)
}

func TestMalformedSitesIsDataError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sites.yaml", "categories: [not: a: map")

	s := NewStore(dir)
	err := s.Load()
	var derr *DataError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "sites.yaml", derr.File)
}

func TestMalformedSearchTermsIsDataError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "search_terms.yaml", "general: [unclosed")

	s := NewStore(dir)
	err := s.Load()
	var derr *DataError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "search_terms.yaml", derr.File)
}

func TestTermFilesMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "search_terms.yaml", `
general:
  - weather tomorrow
`)
	writeFile(t, dir, "academic_terms.yaml", `
education:
  - spaced repetition
general:
  - peer review process
`)

	s := NewStore(dir)
	require.NoError(t, s.Load())
	terms := s.Snapshot().Terms
	assert.ElementsMatch(t, []string{"weather tomorrow", "peer review process"}, terms["general"])
	assert.Equal(t, []string{"spaced repetition"}, terms["education"])
}

func TestMalformedOnionDirectoryDisablesTor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "onion_sites.yaml", "sites: {broken")

	s := NewStore(dir)
	require.NoError(t, s.Load(), "opt-in engine failures must not be fatal")
	snap := s.Snapshot()
	assert.Contains(t, snap.DisabledEngines, "tor")
	assert.Empty(t, snap.OnionSites)
}

func TestDNSHostnamesLoaded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dns_hostnames.yaml", `
hostnames:
  - cdn.internal.example
  - metrics.internal.example
`)

	s := NewStore(dir)
	require.NoError(t, s.Load())
	assert.Equal(t, []string{"cdn.internal.example", "metrics.internal.example"}, s.Snapshot().DNSNames)

	// Missing and malformed lists are both non-fatal.
	s = NewStore(t.TempDir())
	require.NoError(t, s.Load())
	assert.Empty(t, s.Snapshot().DNSNames)

	dir = t.TempDir()
	writeFile(t, dir, "dns_hostnames.yaml", "hostnames: [unclosed")
	s = NewStore(dir)
	require.NoError(t, s.Load())
	assert.Empty(t, s.Snapshot().DNSNames)
}

func TestReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sites.yaml", `
categories:
  news:
    - url: https://first.example
      weight: 1
`)
	s := NewStore(dir)
	require.NoError(t, s.Load())
	first := s.Snapshot()

	writeFile(t, dir, "sites.yaml", `
categories:
  news:
    - url: https://second.example
      weight: 1
`)
	require.NoError(t, s.Load())
	second := s.Snapshot()

	assert.NotSame(t, first, second)
	assert.Equal(t, "https://first.example", first.Sites["news"][0].URL, "old snapshot stays intact")
	assert.Equal(t, "https://second.example", second.Sites["news"][0].URL)
}

func TestWatchReloadsOnSignal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sites.yaml", `
categories:
  news:
    - url: https://before.example
      weight: 1
`)
	s := NewStore(dir)
	require.NoError(t, s.Load())

	reloadCh := make(chan struct{}, 1)
	swapped := make(chan *Snapshot, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, reloadCh, func(snap *Snapshot) { swapped <- snap })
	}()

	writeFile(t, dir, "sites.yaml", `
categories:
  news:
    - url: https://after.example
      weight: 1
`)
	reloadCh <- struct{}{}

	select {
	case snap := <-swapped:
		assert.Equal(t, "https://after.example", snap.Sites["news"][0].URL)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return on cancel")
	}
}

func TestWatchKeepsPreviousSnapshotOnBadEdit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sites.yaml", `
categories:
  news:
    - url: https://good.example
      weight: 1
`)
	s := NewStore(dir)
	require.NoError(t, s.Load())

	reloadCh := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, reloadCh, nil)
	}()

	writeFile(t, dir, "sites.yaml", "categories: [broken")
	reloadCh <- struct{}{}

	// The reload fails; the previous snapshot must stay in effect.
	assert.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap != nil && snap.Sites["news"][0].URL == "https://good.example"
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
