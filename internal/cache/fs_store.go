package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	bodySuffix = ".body"
	metaSuffix = ".meta"
)

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 Locator 并发写入，同时复用 basePath。
type fileStore struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// entryMeta 是 .meta 旁路文件的内容。
type entryMeta struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	StoredAt time.Time   `json:"stored_at"`
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	base, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	bodyPath := base + bodySuffix

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	meta := entryMeta{Status: http.StatusOK}
	if raw, err := os.ReadFile(base + metaSuffix); err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode cache meta: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		FilePath:  bodyPath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
		Status:    meta.Status,
		Header:    meta.Header,
	}

	return &ReadResult{
		Entry:  entry,
		Reader: f,
	}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return nil, err
	}
	defer unlock()

	base, err := s.entryPath(locator)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	written, err := writeAtomic(dir, base+bodySuffix, func(w io.Writer) (int64, error) {
		return copyWithContext(ctx, w, body)
	})
	if err != nil {
		return nil, err
	}

	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	status := opts.Status
	if status == 0 {
		status = http.StatusOK
	}
	meta, err := json.Marshal(entryMeta{
		URL:      locator.URL,
		Status:   status,
		Header:   opts.Header,
		StoredAt: modTime,
	})
	if err != nil {
		return nil, err
	}
	if _, err := writeAtomic(dir, base+metaSuffix, func(w io.Writer) (int64, error) {
		n, err := w.Write(meta)
		return int64(n), err
	}); err != nil {
		return nil, err
	}

	if err := os.Chtimes(base+bodySuffix, modTime, modTime); err != nil {
		return nil, err
	}

	entry := Entry{
		Locator:   locator,
		FilePath:  base + bodySuffix,
		SizeBytes: written,
		ModTime:   modTime,
		Status:    status,
		Header:    opts.Header,
	}
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, locator Locator) error {
	unlock, err := s.lockEntry(locator)
	if err != nil {
		return err
	}
	defer unlock()

	base, err := s.entryPath(locator)
	if err != nil {
		return err
	}
	for _, suffix := range []string{bodySuffix, metaSuffix} {
		if err := os.Remove(base + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *fileStore) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && namespacePattern.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStore) DropNamespace(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, name)
	}
	return os.RemoveAll(filepath.Join(s.basePath, name))
}

func (s *fileStore) lockEntry(locator Locator) (func(), error) {
	key := locatorKey(locator)
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}, nil
}

// entryPath 返回条目的公共前缀路径（不含 .body/.meta 后缀）。
func (s *fileStore) entryPath(locator Locator) (string, error) {
	if !namespacePattern.MatchString(locator.Namespace) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, locator.Namespace)
	}
	u, err := url.Parse(locator.URL)
	if err != nil {
		return "", fmt.Errorf("invalid cache url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("cache url must be absolute")
	}

	host := strings.ToLower(strings.ReplaceAll(u.Host, ":", "_"))
	rel := path.Clean("/" + u.Path)
	if rel == "/" {
		rel = "/index"
	}
	if u.RawQuery != "" {
		sum := sha1.Sum([]byte(u.RawQuery))
		rel = fmt.Sprintf("%s/__qs/%s", rel, hex.EncodeToString(sum[:]))
	}

	root := filepath.Join(s.basePath, locator.Namespace, host)
	filePath := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(rel, "/")))
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		return "", errors.New("invalid cache path")
	}
	return filePath, nil
}

// writeAtomic 先写入同目录临时文件再 rename，失败时清理临时文件。
func writeAtomic(dir, target string, write func(io.Writer) (int64, error)) (int64, error) {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := write(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func locatorKey(locator Locator) string {
	return locator.Namespace + "::" + locator.URL
}
