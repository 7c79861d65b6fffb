// Package tradelog journals dealer decisions and placed orders as one JSON
// object per line, one file per trading day.
package tradelog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"llm-dealer/internal/types"
)

const ext = ".jsonl"

// Trade is one order as routed to the gateway.
type Trade struct {
	Time    time.Time  `json:"time"`
	Symbol  string     `json:"symbol"`
	Side    types.Side `json:"side"`
	Qty     int        `json:"qty"`
	Price   float64    `json:"price"`
	OrderID string     `json:"order_id"`
	Status  string     `json:"status"`
	Reason  string     `json:"reason,omitempty"`
}

type Journal struct {
	mu  sync.Mutex
	dir string
	loc *time.Location
}

// New journals under dir. Day boundaries follow loc.
func New(dir string, loc *time.Location) *Journal {
	if dir == "" {
		dir = "logs"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Journal{dir: dir, loc: loc}
}

func (j *Journal) Dir() string { return j.dir }

func (j *Journal) path(kind string, t time.Time) string {
	return filepath.Join(j.dir, kind, t.In(j.loc).Format(time.DateOnly)+ext)
}

func (j *Journal) append(kind string, t time.Time, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s entry: %w", kind, err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	p := j.path(kind, t)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (j *Journal) AppendDecision(d types.Decision) error {
	return j.append("decisions", d.Time, d)
}

func (j *Journal) AppendTrade(t Trade) error {
	return j.append("trades", t.Time, t)
}

// Trades reads the trade journal of the day containing day. A missing
// journal yields no trades; malformed lines are skipped.
func (j *Journal) Trades(day time.Time) ([]Trade, error) {
	var out []Trade
	err := j.read("trades", day, func(line []byte) {
		var t Trade
		if json.Unmarshal(line, &t) == nil {
			out = append(out, t)
		}
	})
	return out, err
}

func (j *Journal) Decisions(day time.Time) ([]types.Decision, error) {
	var out []types.Decision
	err := j.read("decisions", day, func(line []byte) {
		var d types.Decision
		if json.Unmarshal(line, &d) == nil {
			out = append(out, d)
		}
	})
	return out, err
}

func (j *Journal) read(kind string, day time.Time, fn func([]byte)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	p := j.path(kind, day)
	var r io.Reader
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		f, err = os.Open(p + ".gz")
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open %s.gz: %w", p, err)
		}
		defer gz.Close()
		r = gz
	} else if err != nil {
		return err
	} else {
		defer f.Close()
		r = f
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if line := sc.Bytes(); len(line) > 0 {
			fn(line)
		}
	}
	return sc.Err()
}

// CompressOlder gzips journal files last modified more than retentionDays
// before now and returns how many it compressed.
func (j *Journal) CompressOlder(retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := now.AddDate(0, 0, -retentionDays)
	n := 0
	err := filepath.WalkDir(j.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := gzipFile(p); err != nil {
			return fmt.Errorf("failed to compress %s: %w", p, err)
		}
		n++
		return nil
	})
	return n, err
}

func gzipFile(p string) error {
	gzPath := p + ".gz"
	if _, err := os.Stat(gzPath); err == nil {
		return os.Remove(p)
	}
	in, err := os.Open(p)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(gzPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		os.Remove(gzPath)
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(p)
}
