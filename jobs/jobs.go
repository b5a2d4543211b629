// Package jobs runs administrative batch operations over many users: the
// one-time migration of existing users onto quota documents and the
// scheduled monthly reset.
package jobs

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// DefaultConcurrency bounds parallel per-user work when none is given.
const DefaultConcurrency = 8

// ReadUserIDs reads one user id per line. Blank lines and lines starting
// with '#' are skipped.
func ReadUserIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jobs: read user ids: %w", err)
	}
	return ids, nil
}

// uniqueSorted drops empty and duplicate ids.
func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func limit(n int) int {
	if n <= 0 {
		return DefaultConcurrency
	}
	return n
}

// collector gathers per-user outcomes from concurrent workers.
type collector struct {
	mu     sync.Mutex
	lists  map[string][]string
	failed map[string]error
}

func newCollector() *collector {
	return &collector{lists: make(map[string][]string), failed: make(map[string]error)}
}

func (c *collector) add(list, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[list] = append(c.lists[list], userID)
}

func (c *collector) fail(userID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[userID] = err
}

func (c *collector) list(name string) []string {
	out := c.lists[name]
	sort.Strings(out)
	return out
}
