package downloader

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"wayback-fetcher/internal/domain"
)

// Location is where a task's file goes before collision handling.
type Location struct {
	Dir   string
	Stem  string
	Label string
	Ext   string
}

// Name is the preferred file name.
func (l Location) Name() string {
	return l.Stem + "-" + l.Label + l.Ext
}

// Placement maps tasks to paths under the files root and hands out each final
// path at most once per run.
type Placement struct {
	root       string
	structured bool

	mu       sync.Mutex
	claimed  map[string]struct{}
	owners   map[string]int64
	reserved map[string]struct{}
}

func NewPlacement(root string, structured bool) *Placement {
	return &Placement{
		root:       root,
		structured: structured,
		claimed:    make(map[string]struct{}),
		owners:     make(map[string]int64),
		reserved:   make(map[string]struct{}),
	}
}

// Locate derives the destination of a task from its original URL path.
// Structured mode mirrors the directories; flat mode joins them with "_".
func (p *Placement) Locate(task domain.DownloadTask) (Location, error) {
	u, err := url.Parse(task.OriginalURL)
	if err != nil {
		return Location{}, invalidURL(fmt.Errorf("parse original url: %w", err))
	}

	var dirs []string
	file := ""
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if i == len(segments)-1 {
			file = seg
			break
		}
		dirs = append(dirs, seg)
	}

	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	if stem == "" {
		stem, ext = file, ""
	}
	if stem == "" {
		stem = "index"
	}

	loc := Location{Dir: p.root, Stem: stem, Label: task.Label(), Ext: ext}
	if p.structured {
		loc.Dir = filepath.Join(append([]string{p.root}, dirs...)...)
	} else if len(dirs) > 0 {
		loc.Stem = strings.Join(append(dirs, stem), "_")
	}
	return loc, nil
}

// Reserve plans every task before anything is downloaded. Each preferred
// path belongs to the lowest task ID that wants it, and no file may take a
// path that some task needs as a directory. Tasks whose URL cannot be placed
// are skipped; they fail in Locate later.
func (p *Placement) Reserve(tasks []domain.DownloadTask) {
	p.mu.Lock()
	defer p.mu.Unlock()

	root := filepath.Clean(p.root)
	for _, task := range tasks {
		loc, err := p.Locate(task)
		if err != nil {
			continue
		}
		name := filepath.Join(loc.Dir, loc.Name())
		if owner, ok := p.owners[name]; !ok || task.ID < owner {
			p.owners[name] = task.ID
		}
		for dir := filepath.Clean(loc.Dir); dir != root && dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
			p.reserved[dir] = struct{}{}
		}
	}
}

// Claim picks the final path for a task's content with the given hash. The
// preferred name goes to its reserved owner; everyone else gets "~<hash8>"
// before the extension, then a numeric suffix.
func (p *Placement) Claim(loc Location, taskID int64, sum string) string {
	short := sum
	if len(short) > 8 {
		short = short[:8]
	}
	base := loc.Stem + "-" + loc.Label

	p.mu.Lock()
	defer p.mu.Unlock()

	candidate := filepath.Join(loc.Dir, loc.Name())
	for i := 1; ; i++ {
		if p.available(candidate, taskID) {
			p.claimed[candidate] = struct{}{}
			return candidate
		}
		name := base + "~" + short
		if i > 1 {
			name += fmt.Sprintf("-%d", i)
		}
		candidate = filepath.Join(loc.Dir, name+loc.Ext)
	}
}

func (p *Placement) available(path string, taskID int64) bool {
	if _, taken := p.claimed[path]; taken {
		return false
	}
	if _, isDir := p.reserved[path]; isDir {
		return false
	}
	owner, planned := p.owners[path]
	return !planned || owner == taskID
}

// Release gives a claimed path back, for when the move into place fails.
func (p *Placement) Release(path string) {
	p.mu.Lock()
	delete(p.claimed, path)
	p.mu.Unlock()
}
