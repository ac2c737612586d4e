// Package repository implements the file repository behind the document
// folders: directory resolution, sorted listings partitioned by pin state,
// content reads and the note operations the phone UI performs.
package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/storage"
)

var (
	ErrUnavailable = errors.New("directory unavailable")
	ErrNotFound    = storage.ErrNotFound
	ErrExists      = storage.ErrExists
	ErrInvalidName = errors.New("invalid file name")
	ErrNotText     = errors.New("file is not UTF-8 text")
)

// FileRef is one file of a document root.
type FileRef struct {
	Dir     DocumentDir
	Name    string
	Size    int64
	ModTime time.Time
}

// ID is stable within one listing; it changes when the file is renamed.
func (f FileRef) ID() string {
	return string(f.Dir) + "/" + f.Name
}

// Options configures a Repository.
type Options struct {
	OnDevice    storage.Backend
	Cloud       storage.Backend // nil when no cloud root is configured
	Preferences *Preferences
	NameFormat  string
	Now         func() time.Time
}

// Repository resolves document roots and the files inside them.
type Repository struct {
	roots  map[DocumentDir]storage.Backend
	prefs  *Preferences
	layout string
	now    func() time.Time

	// serializes name allocation and renames
	mu sync.Mutex
}

// New creates a repository over the given backends.
func New(opts Options) (*Repository, error) {
	if opts.OnDevice == nil {
		return nil, fmt.Errorf("on-device backend is required")
	}
	prefs := opts.Preferences
	if prefs == nil {
		prefs, _ = LoadPreferences("")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	roots := map[DocumentDir]storage.Backend{OnDevice: opts.OnDevice}
	if opts.Cloud != nil {
		roots[ICloud] = opts.Cloud
	}
	return &Repository{
		roots:  roots,
		prefs:  prefs,
		layout: timeLayout(opts.NameFormat),
		now:    now,
	}, nil
}

// Close releases every backend.
func (r *Repository) Close() error {
	var errs []error
	for _, b := range r.roots {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}

// Directories returns the roots that are currently reachable, in
// presentation order.
func (r *Repository) Directories(ctx context.Context) []DocumentDir {
	var dirs []DocumentDir
	for _, d := range allDirs {
		if _, err := r.backend(ctx, d); err == nil {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Configured returns every configured root, reachable or not.
func (r *Repository) Configured() []DocumentDir {
	var dirs []DocumentDir
	for _, d := range allDirs {
		if _, ok := r.roots[d]; ok {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Resolve maps a wire identifier to a reachable root.
func (r *Repository) Resolve(ctx context.Context, id string) (DocumentDir, error) {
	d, ok := ParseDir(id)
	if !ok {
		return "", fmt.Errorf("resolve %q: %w", id, ErrUnavailable)
	}
	if _, err := r.backend(ctx, d); err != nil {
		return "", err
	}
	return d, nil
}

// DefaultDir prefers the cloud root when it is reachable.
func (r *Repository) DefaultDir(ctx context.Context) DocumentDir {
	if _, err := r.backend(ctx, ICloud); err == nil {
		return ICloud
	}
	return OnDevice
}

// Root returns the backend of dir without checking reachability.
func (r *Repository) Root(dir DocumentDir) (storage.Backend, bool) {
	b, ok := r.roots[dir]
	return b, ok
}

func (r *Repository) backend(ctx context.Context, dir DocumentDir) (storage.Backend, error) {
	b, ok := r.roots[dir]
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrUnavailable)
	}
	if err := b.Ping(ctx); err != nil {
		logging.Debug("document root unreachable", zap.String("directory", string(dir)), zap.Error(err))
		return nil, fmt.Errorf("%s: %w", dir, ErrUnavailable)
	}
	return b, nil
}

// ListFiles returns the files of dir in the current sort order, split into
// pinned and unpinned. No file appears in both.
func (r *Repository) ListFiles(ctx context.Context, dir DocumentDir) (pinned, unpinned []FileRef, err error) {
	b, err := r.backend(ctx, dir)
	if err != nil {
		return nil, nil, err
	}
	objects, err := b.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", dir, err)
	}

	files := make([]FileRef, 0, len(objects))
	for _, o := range objects {
		files = append(files, FileRef{Dir: dir, Name: o.Key, Size: o.Size, ModTime: o.ModTime})
	}
	key, direction := r.prefs.Sort()
	sortFiles(files, key, direction)

	pins := r.prefs.PinnedSet(dir)
	pinned, unpinned = []FileRef{}, []FileRef{}
	for _, f := range files {
		if pins[f.Name] {
			pinned = append(pinned, f)
		} else {
			unpinned = append(unpinned, f)
		}
	}
	return pinned, unpinned, nil
}

// ReadBytes returns the full content of a file.
func (r *Repository) ReadBytes(ctx context.Context, dir DocumentDir, name string) ([]byte, error) {
	if !validKey(name) {
		return nil, fmt.Errorf("read %q: %w", name, ErrNotFound)
	}
	b, err := r.backend(ctx, dir)
	if err != nil {
		return nil, err
	}
	rc, err := b.GetObject(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// ReadText returns the content of a file decoded as UTF-8. Empty files are
// valid text.
func (r *Repository) ReadText(ctx context.Context, dir DocumentDir, name string) (string, error) {
	data, err := r.ReadBytes(ctx, dir, name)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("read %s: %w", name, ErrNotText)
	}
	return string(data), nil
}

// TogglePin flips the pin state of name and returns the new state.
func (r *Repository) TogglePin(dir DocumentDir, name string) (bool, error) {
	pinned := !r.prefs.Pinned(dir, name)
	if err := r.prefs.SetPinned(dir, name, pinned); err != nil {
		return false, err
	}
	return pinned, nil
}

// Sort returns the current listing order.
func (r *Repository) Sort() (SortKey, SortDirection) {
	return r.prefs.Sort()
}

// SetSort changes the listing order.
func (r *Repository) SetSort(key SortKey, direction SortDirection) error {
	return r.prefs.SetSort(key, direction)
}

// CreateNote writes text into a new date-named .txt file.
func (r *Repository) CreateNote(ctx context.Context, dir DocumentDir, text string) (FileRef, error) {
	return r.create(ctx, dir, "txt", []byte(text))
}

// SaveImage writes JPEG bytes into a new date-named .jpeg file.
func (r *Repository) SaveImage(ctx context.Context, dir DocumentDir, data []byte) (FileRef, error) {
	return r.create(ctx, dir, "jpeg", data)
}

func (r *Repository) create(ctx context.Context, dir DocumentDir, ext string, data []byte) (FileRef, error) {
	b, err := r.backend(ctx, dir)
	if err != nil {
		return FileRef{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	base := now.Format(r.layout)
	var name string
	for counter := 1; ; counter++ {
		name = base
		if counter > 1 {
			name = fmt.Sprintf("%s-%d", base, counter)
		}
		name += "." + ext

		exists, err := b.ObjectExists(ctx, name)
		if err != nil {
			return FileRef{}, err
		}
		if !exists {
			break
		}
	}

	if err := b.PutObject(ctx, name, bytes.NewReader(data), int64(len(data))); err != nil {
		return FileRef{}, err
	}
	logging.Info("file created", zap.String("directory", string(dir)), zap.String("name", name))
	return FileRef{Dir: dir, Name: name, Size: int64(len(data)), ModTime: now}, nil
}

// WriteText replaces the content of an existing or new file.
func (r *Repository) WriteText(ctx context.Context, dir DocumentDir, name, text string) error {
	if !validKey(name) {
		return fmt.Errorf("write %q: %w", name, ErrInvalidName)
	}
	b, err := r.backend(ctx, dir)
	if err != nil {
		return err
	}
	return b.PutObject(ctx, name, bytes.NewReader([]byte(text)), int64(len(text)))
}

// Rename moves a file to newName, keeping its pin.
func (r *Repository) Rename(ctx context.Context, dir DocumentDir, oldName, newName string) error {
	if !validKey(oldName) {
		return fmt.Errorf("rename %q: %w", oldName, ErrNotFound)
	}
	if !ValidName(newName) || !validKey(newName) {
		return fmt.Errorf("rename to %q: %w", newName, ErrInvalidName)
	}
	b, err := r.backend(ctx, dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := b.RenameObject(ctx, oldName, newName); err != nil {
		return err
	}
	if err := r.prefs.RenamePinned(dir, oldName, newName); err != nil {
		return err
	}
	logging.Info("file renamed", zap.String("directory", string(dir)),
		zap.String("from", oldName), zap.String("to", newName))
	return nil
}

// Delete removes a file and drops its pin.
func (r *Repository) Delete(ctx context.Context, dir DocumentDir, name string) error {
	if !validKey(name) {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	b, err := r.backend(ctx, dir)
	if err != nil {
		return err
	}
	if err := b.DeleteObject(ctx, name); err != nil {
		return err
	}
	if r.prefs.Pinned(dir, name) {
		if err := r.prefs.SetPinned(dir, name, false); err != nil {
			return err
		}
	}
	logging.Info("file deleted", zap.String("directory", string(dir)), zap.String("name", name))
	return nil
}
