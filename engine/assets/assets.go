package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/systems"
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

// ChangeListener is told the slash separated, root relative path of every
// asset that changed on disk.
type ChangeListener func(path string)

// AssetDatabase loads assets below a root directory and caches them until
// the file changes.
type AssetDatabase struct {
	root string

	mutex     sync.RWMutex
	materials map[string]*MaterialAsset
	textures  map[string]*TextureAsset
	shaders   map[string]string
	listeners []ChangeListener

	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewAssetDatabase(root string) (*AssetDatabase, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("asset root `%s`: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset root `%s` is not a directory", root)
	}
	return &AssetDatabase{
		root:      abs,
		materials: make(map[string]*MaterialAsset),
		textures:  make(map[string]*TextureAsset),
		shaders:   make(map[string]string),
	}, nil
}

func (db *AssetDatabase) Root() string {
	return db.root
}

// key turns a root relative path into the form used by the caches.
func (db *AssetDatabase) key(path string) string {
	return filepath.ToSlash(filepath.Clean(path))
}

func (db *AssetDatabase) read(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(db.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("could not read asset `%s`: %w", key, err)
	}
	return data, nil
}

// LoadMaterial reads materials/<name>.toml.
func (db *AssetDatabase) LoadMaterial(name string) (*MaterialAsset, error) {
	key := db.key(fmt.Sprintf("materials/%s.toml", name))
	db.mutex.RLock()
	m, ok := db.materials[key]
	db.mutex.RUnlock()
	if ok {
		return m, nil
	}
	data, err := db.read(key)
	if err != nil {
		return nil, err
	}
	if m, err = ParseMaterial(data); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	db.mutex.Lock()
	db.materials[key] = m
	db.mutex.Unlock()
	core.LogDebug("material `%s` loaded from %s", m.Name, key)
	return m, nil
}

// LoadTexture decodes an image into RGBA8. Flipped and unflipped loads of
// the same file are cached separately.
func (db *AssetDatabase) LoadTexture(path string, flipY bool) (*TextureAsset, error) {
	key := db.key(path)
	cacheKey := key
	if flipY {
		cacheKey += "#flip"
	}
	db.mutex.RLock()
	t, ok := db.textures[cacheKey]
	db.mutex.RUnlock()
	if ok {
		return t, nil
	}
	data, err := db.read(key)
	if err != nil {
		return nil, err
	}
	if t, err = DecodeTexture(key, data, flipY); err != nil {
		return nil, err
	}
	db.mutex.Lock()
	db.textures[cacheKey] = t
	db.mutex.Unlock()
	core.LogDebug("texture %s decoded (%s, %dx%d)", key, t.Format, t.Width, t.Height)
	return t, nil
}

// ReadShader returns the contents of a shader file, text or SPIR-V.
func (db *AssetDatabase) ReadShader(path string) (string, error) {
	key := db.key(path)
	db.mutex.RLock()
	s, ok := db.shaders[key]
	db.mutex.RUnlock()
	if ok {
		return s, nil
	}
	data, err := db.read(key)
	if err != nil {
		return "", err
	}
	s = string(data)
	db.mutex.Lock()
	db.shaders[key] = s
	db.mutex.Unlock()
	return s, nil
}

// MaterialNames lists the materials found under materials/, sorted.
func (db *AssetDatabase) MaterialNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(db.root, "materials"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
	}
	return names, nil
}

// Preload parses the named materials and decodes their textures on the job
// system, one job per material, so later loads hit the caches.
func (db *AssetDatabase) Preload(js *systems.JobSystem, names ...string) error {
	jobs := make([]systems.Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, systems.Job{
			Name: "preload material " + name,
			Run: func() error {
				m, err := db.LoadMaterial(name)
				if err != nil {
					return err
				}
				for _, ti := range m.TextureInputs {
					if _, err := db.LoadTexture(ti.Path, ti.FlipY); err != nil {
						return err
					}
				}
				return nil
			},
		})
	}
	return js.RunAll(jobs...)
}

// Invalidate drops every cached asset loaded from path.
func (db *AssetDatabase) Invalidate(path string) {
	key := db.key(path)
	db.mutex.Lock()
	defer db.mutex.Unlock()
	delete(db.materials, key)
	delete(db.textures, key)
	delete(db.textures, key+"#flip")
	delete(db.shaders, key)
}

func (db *AssetDatabase) OnChange(listener ChangeListener) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.listeners = append(db.listeners, listener)
}

func (db *AssetDatabase) notify(path string) {
	db.mutex.RLock()
	listeners := append([]ChangeListener(nil), db.listeners...)
	db.mutex.RUnlock()
	for _, l := range listeners {
		l(path)
	}
}

// Watch starts watching the root and its sub-directories until ctx is done
// or Close is called. Listeners run on the watcher goroutine.
func (db *AssetDatabase) Watch(ctx context.Context) error {
	db.mutex.Lock()
	if db.isClosed {
		db.mutex.Unlock()
		return ErrWatcherClosed
	}
	if db.watcher != nil {
		db.mutex.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		db.mutex.Unlock()
		return err
	}
	db.watcher = w
	db.done = make(chan struct{})
	db.mutex.Unlock()

	if err := db.watchRecursive(db.root); err != nil {
		_ = db.Close()
		return err
	}
	db.wg.Add(1)
	go db.run(ctx)
	core.LogInfo("watching assets under %s", db.root)
	return nil
}

func (db *AssetDatabase) run(ctx context.Context) {
	defer db.wg.Done()
	for {
		select {
		case e, ok := <-db.watcher.Events:
			if !ok {
				return
			}
			db.handleEvent(e)
		case err, ok := <-db.watcher.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)
		case <-ctx.Done():
			return
		case <-db.done:
			return
		}
	}
}

func (db *AssetDatabase) handleEvent(e fsnotify.Event) {
	if e.Op&fsnotify.Create != 0 {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			if err := db.watchRecursive(e.Name); err != nil {
				core.LogWarn("could not watch %s: %s", e.Name, err)
			}
			return
		}
	}
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, err := filepath.Rel(db.root, e.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	key := db.key(rel)
	db.Invalidate(key)
	core.LogDebug("asset %s changed (%s)", key, e.Op)
	db.notify(key)
}

// watchRecursive adds path and every directory below it.
func (db *AssetDatabase) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return db.watcher.Add(walkPath)
		}
		return nil
	})
}

// Close stops the watcher. It is safe to call more than once.
func (db *AssetDatabase) Close() error {
	db.mutex.Lock()
	if db.isClosed {
		db.mutex.Unlock()
		return nil
	}
	db.isClosed = true
	w, done := db.watcher, db.done
	db.mutex.Unlock()
	if w == nil {
		return nil
	}
	close(done)
	err := w.Close()
	db.wg.Wait()
	return err
}
