package aur

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/openfroyo/froyo-aur/pkg/aurweb"
)

// Mock implementations for testing

type fakeExecutor struct {
	mu     sync.Mutex
	calls  []Command
	handle func(cmd Command) (*ExecutionResult, error)
}

func (f *fakeExecutor) Run(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.handle == nil {
		return &ExecutionResult{}, nil
	}
	return f.handle(cmd)
}

func (f *fakeExecutor) argvs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Argv
	}
	return out
}

// commandsFor returns the recorded commands whose argv starts with tool.
func (f *fakeExecutor) commandsFor(tool string) []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.calls {
		if len(c.Argv) > 0 && c.Argv[0] == tool {
			out = append(out, c)
		}
	}
	return out
}

type fakePaths struct {
	mu      sync.Mutex
	found   map[string]string
	lookups []string
}

func newFakePaths(tools ...string) *fakePaths {
	p := &fakePaths{found: make(map[string]string)}
	for _, t := range tools {
		p.found[t] = "/usr/bin/" + t
	}
	return p
}

func (p *fakePaths) LookPath(name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookups = append(p.lookups, name)
	if path, ok := p.found[name]; ok {
		return path, nil
	}
	return "", errors.New("executable file not found in $PATH")
}

type fakeOracle struct {
	mu        sync.Mutex
	installed map[string]bool
	err       error
	queries   []string
}

func newFakeOracle(installed ...string) *fakeOracle {
	o := &fakeOracle{installed: make(map[string]bool)}
	for _, p := range installed {
		o.installed[p] = true
	}
	return o
}

func (o *fakeOracle) IsInstalled(ctx context.Context, pkg string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queries = append(o.queries, pkg)
	if o.err != nil {
		return false, o.err
	}
	return o.installed[pkg], nil
}

type fakeIndex struct {
	packages  map[string][]aurweb.Package
	snapshots map[string][]byte
	infoErr   error
	infoCalls int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		packages:  make(map[string][]aurweb.Package),
		snapshots: make(map[string][]byte),
	}
}

// add registers a package whose snapshot contains a PKGBUILD under Name/.
func (f *fakeIndex) add(t *testing.T, name string) {
	t.Helper()
	urlPath := "/cgit/aur.git/snapshot/" + name + ".tar.gz"
	f.packages[name] = []aurweb.Package{{Name: name, PackageBase: name, URLPath: urlPath}}
	f.snapshots[urlPath] = makeSnapshot(t, name)
}

func (f *fakeIndex) Info(ctx context.Context, name string) (*aurweb.InfoResponse, error) {
	f.infoCalls++
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	results := f.packages[name]
	return &aurweb.InfoResponse{ResultCount: len(results), Results: results, Type: "multiinfo"}, nil
}

func (f *fakeIndex) Download(ctx context.Context, urlPath string) (io.ReadCloser, error) {
	data, ok := f.snapshots[urlPath]
	if !ok {
		return nil, errors.New("404 Not Found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type denyAll struct {
	reason string
}

func (d denyAll) Admit(ctx context.Context, req InstallRequest, helper string) error {
	return errors.New(d.reason)
}

type captureRecorder struct {
	invocations []*Invocation
}

func (r *captureRecorder) RecordInvocation(ctx context.Context, inv *Invocation) error {
	r.invocations = append(r.invocations, inv)
	return nil
}

// makeSnapshot builds a gzipped tarball laid out like an AUR snapshot.
func makeSnapshot(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	pkgbuild := "pkgname=" + name + "\npkgver=1.0\npkgrel=1\n"
	entries := []struct {
		hdr  tar.Header
		body string
	}{
		{hdr: tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: 0o755}},
		{hdr: tar.Header{Name: name + "/PKGBUILD", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(pkgbuild))}, body: pkgbuild},
	}
	for _, e := range entries {
		hdr := e.hdr
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatalf("Failed to write header: %v", err)
		}
		if e.body != "" {
			if _, err := io.Copy(tw, strings.NewReader(e.body)); err != nil {
				t.Fatalf("Failed to write body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("Failed to close gzip: %v", err)
	}
	return buf.Bytes()
}

type testRig struct {
	exec     *fakeExecutor
	paths    *fakePaths
	oracle   *fakeOracle
	index    *fakeIndex
	fs       afero.Fs
	sourceFs afero.Fs
	recorder *captureRecorder
}

func newTestRig(tools ...string) *testRig {
	return &testRig{
		exec:     &fakeExecutor{},
		paths:    newFakePaths(tools...),
		oracle:   newFakeOracle(),
		index:    newFakeIndex(),
		fs:       afero.NewMemMapFs(),
		sourceFs: afero.NewMemMapFs(),
		recorder: &captureRecorder{},
	}
}

func (r *testRig) host() Host {
	return Host{Executor: r.exec, Paths: r.paths, Fs: r.fs, TempDir: "/tmp/build"}
}

func (r *testRig) engine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithOracle(r.oracle),
		WithSourceFs(r.sourceFs),
		WithRecorder(r.recorder),
	}
	e, err := NewEngine(r.host(), r.index, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

// workspaces lists directories left under the rig's temp dir.
func (r *testRig) workspaces(t *testing.T) []string {
	t.Helper()
	entries, err := afero.ReadDir(r.fs, "/tmp/build")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
