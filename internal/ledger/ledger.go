// Package ledger tracks which image ids have already been anonymized.
package ledger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrUnreadable is returned when an existing ledger cannot be read. Running
// on without it would re-blur every image.
var ErrUnreadable = errors.New("ledger unreadable")

// Store persists the full id set.
type Store interface {
	Load(ctx context.Context) ([]int, error)
	Save(ctx context.Context, ids []int) error
}

// Ledger is the in-memory processed set for one batch run.
type Ledger struct {
	flush sync.Mutex // serializes Flush so snapshots land in order
	mu    sync.Mutex
	store Store
	ids   map[int]struct{}
	added int
	gen   int // bumped by Mark
	saved int // gen at the last successful Flush
}

// Open loads the ledger from store.
func Open(ctx context.Context, store Store) (*Ledger, error) {
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	l := &Ledger{store: store, ids: make(map[int]struct{}, len(ids))}
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	return l, nil
}

// Has reports whether id was processed in this or a prior run.
func (l *Ledger) Has(id int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// Mark records id as processed.
func (l *Ledger) Mark(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.ids[id]; ok {
		return
	}
	l.ids[id] = struct{}{}
	l.added++
	l.gen++
}

// Added returns how many ids were marked during this run.
func (l *Ledger) Added() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.added
}

// IDs returns the full set in ascending order.
func (l *Ledger) IDs() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sortedLocked()
}

func (l *Ledger) sortedLocked() []int {
	out := make([]int, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Flush writes the full set back when anything changed since the last
// flush. An unchanged ledger is never rewritten.
func (l *Ledger) Flush(ctx context.Context) error {
	l.flush.Lock()
	defer l.flush.Unlock()

	l.mu.Lock()
	if l.gen == l.saved {
		l.mu.Unlock()
		return nil
	}
	gen := l.gen
	ids := l.sortedLocked()
	l.mu.Unlock()

	if err := l.store.Save(ctx, ids); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}

	l.mu.Lock()
	l.saved = gen
	l.mu.Unlock()
	return nil
}

// Parse reads one id per line. Blank lines and lines starting with '#' are
// ignored, as is any line that is not an integer. Lines have no length limit.
func Parse(r io.Reader) ([]int, error) {
	var ids []int
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if line := strings.TrimSpace(raw); line != "" && !strings.HasPrefix(line, "#") {
			if id, convErr := strconv.Atoi(line); convErr == nil {
				ids = append(ids, id)
			}
		}
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return ids, err
		}
	}
}

const header = "# This file tracks which images have been blurred\n" +
	"# Add image numbers here that have been processed\n\n"

// Write renders ids in the text format Parse reads.
func Write(w io.Writer, ids []int) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(header); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := fmt.Fprintf(bw, "%d\n", id); err != nil {
			return err
		}
	}
	return bw.Flush()
}
