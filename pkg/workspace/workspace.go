// Package workspace manages the ephemeral build directories used to stage
// package sources on a host filesystem.
package workspace

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	// DefaultPrefix names workspace directories.
	DefaultPrefix = "froyo-aur-"

	// maxFileBytes bounds a single extracted file.
	maxFileBytes = 512 << 20
)

// ErrUnsafePath is returned when an archive entry would land outside the workspace.
var ErrUnsafePath = errors.New("archive entry escapes workspace")

// ErrReleased is returned by operations on a released workspace.
var ErrReleased = errors.New("workspace already released")

// Workspace is a temporary directory owned by exactly one build.
type Workspace struct {
	fs       afero.Fs
	root     string
	released bool
}

// New creates an empty workspace under parent. An empty parent uses the
// platform temporary directory.
func New(fs afero.Fs, parent, prefix string) (*Workspace, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := fs.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", parent, err)
	}

	root, err := afero.TempDir(fs, parent, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{fs: fs, root: root}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Path joins elem onto the workspace root.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.root}, elem...)...)
}

// Fs returns the filesystem the workspace lives on.
func (w *Workspace) Fs() afero.Fs {
	return w.fs
}

// Released reports whether Release has completed.
func (w *Workspace) Released() bool {
	return w.released
}

// Release removes the workspace and everything in it. It is safe to call
// more than once.
func (w *Workspace) Release() error {
	if w.released {
		return nil
	}
	if err := w.fs.RemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.root, err)
	}
	w.released = true
	return nil
}

// CopyFrom copies the tree at srcDir on src into the workspace root.
// Symlinks to regular files are copied as files; other special files are skipped.
func (w *Workspace) CopyFrom(src afero.Fs, srcDir string) error {
	if w.released {
		return ErrReleased
	}

	return afero.Walk(src, srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := w.Path(rel)

		mode := info.Mode()
		if mode&os.ModeSymlink != 0 {
			resolved, statErr := src.Stat(path)
			if statErr != nil || !resolved.Mode().IsRegular() {
				return nil
			}
			mode = resolved.Mode()
		}

		switch {
		case mode.IsDir():
			return w.fs.MkdirAll(target, mode.Perm()|0o700)
		case mode.IsRegular():
			return w.copyFile(src, path, target, mode.Perm())
		default:
			return nil
		}
	})
}

func (w *Workspace) copyFile(src afero.Fs, from, to string, perm os.FileMode) (err error) {
	in, err := src.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := w.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return err
	}

	out, err := w.fs.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

// Extract unpacks a tar archive, optionally gzip-compressed, into the
// workspace root. Entries that would escape the root are rejected.
func (w *Workspace) Extract(r io.Reader) (err error) {
	if w.released {
		return ErrReleased
	}

	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, peekErr := br.Peek(2); peekErr == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, gzErr := gzip.NewReader(br)
		if gzErr != nil {
			return fmt.Errorf("failed to open gzip stream: %w", gzErr)
		}
		defer func() {
			if closeErr := gz.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		src = gz
	}

	// links holds the symlink entries extracted so far. No later entry may
	// be written through one of them, and no link may point through one.
	links := make(map[string]bool)

	tr := tar.NewReader(src)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			return nil
		}
		if nextErr != nil {
			return fmt.Errorf("failed to read archive: %w", nextErr)
		}

		name, cleanErr := cleanEntryName(hdr.Name)
		if cleanErr != nil {
			return cleanErr
		}
		if name == "" {
			continue
		}
		if throughLink(links, name) {
			return fmt.Errorf("%w: %s passes through a symlink", ErrUnsafePath, name)
		}
		target := w.Path(name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := w.fs.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return fmt.Errorf("failed to create %s: %w", name, err)
			}
		case tar.TypeReg:
			if err := w.writeEntry(target, os.FileMode(hdr.Mode).Perm(), tr); err != nil {
				return fmt.Errorf("failed to extract %s: %w", name, err)
			}
		case tar.TypeSymlink:
			if err := w.symlinkEntry(links, name, hdr.Linkname); err != nil {
				return err
			}
			links[name] = true
		default:
			// pax headers and special files carry nothing a build needs
		}
	}
}

func (w *Workspace) writeEntry(target string, perm os.FileMode, r io.Reader) (err error) {
	if err := w.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}

	out, err := w.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.Copy(out, io.LimitReader(r, maxFileBytes+1))
	if err != nil {
		return err
	}
	if n > maxFileBytes {
		return fmt.Errorf("file exceeds %d bytes", maxFileBytes)
	}
	return nil
}

func (w *Workspace) symlinkEntry(links map[string]bool, name, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, name, linkname)
	}
	resolved, err := cleanEntryName(filepath.Join(filepath.Dir(name), linkname))
	if err != nil || linkedPrefix(links, filepath.Dir(name), linkname) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, name, linkname)
	}
	if resolved != "" && throughLink(links, resolved) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsafePath, name, linkname)
	}

	linker, ok := w.fs.(afero.Linker)
	if !ok {
		return nil
	}
	target := w.Path(name)
	if err := w.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := linker.SymlinkIfPossible(linkname, target); err != nil {
		return fmt.Errorf("failed to link %s: %w", name, err)
	}
	return nil
}

// throughLink reports whether name or one of its parents is an extracted
// symlink.
func throughLink(links map[string]bool, name string) bool {
	for p := name; p != "." && p != string(filepath.Separator); p = filepath.Dir(p) {
		if links[p] {
			return true
		}
	}
	return false
}

// linkedPrefix reports whether any intermediate path walked while
// resolving linkname from dir is an extracted symlink. Textual cleaning
// would otherwise fold "link/.." away even though the kernel follows link
// first.
func linkedPrefix(links map[string]bool, dir, linkname string) bool {
	cur := dir
	for _, part := range strings.Split(filepath.ToSlash(linkname), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, part)
			if links[cur] {
				return true
			}
		}
	}
	return false
}

// cleanEntryName normalizes an archive entry name relative to the root.
func cleanEntryName(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// With creates a workspace, runs fn in it and releases it on every path.
// A release failure is reported only when fn succeeded.
func With(fs afero.Fs, parent, prefix string, fn func(*Workspace) error) (err error) {
	ws, err := New(fs, parent, prefix)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := ws.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(ws)
}
