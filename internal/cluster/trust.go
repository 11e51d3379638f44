package cluster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TrustChecker decides whether a peer address may mutate the catalog
// without approval
type TrustChecker interface {
	IsAddressTrusted(ctx context.Context, address string) (bool, error)
}

// TrustList is a TrustChecker backed by a list of hosts and CIDR prefixes.
// Safe for concurrent use.
type TrustList struct {
	mu       sync.RWMutex
	hosts    map[string]struct{}
	prefixes []netip.Prefix
}

// NewTrustList builds a list from entries; see ParseTrustList for syntax
func NewTrustList(entries ...string) *TrustList {
	l := &TrustList{}
	l.set(entries)
	return l
}

// ParseTrustList reads one entry per line. Entries are hosts, IPs or CIDR
// prefixes; blank lines and '#' comments are skipped.
func ParseTrustList(r io.Reader) ([]string, error) {
	var entries []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		if line = strings.TrimSpace(line); line != "" {
			entries = append(entries, line)
		}
	}
	return entries, sc.Err()
}

func (l *TrustList) set(entries []string) {
	hosts := make(map[string]struct{}, len(entries))
	var prefixes []netip.Prefix
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		hosts[Host(e)] = struct{}{}
	}

	l.mu.Lock()
	l.hosts = hosts
	l.prefixes = prefixes
	l.mu.Unlock()
}

// IsAddressTrusted matches the host part of address against the list
func (l *TrustList) IsAddressTrusted(_ context.Context, address string) (bool, error) {
	host := Host(address)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.hosts[host]; ok {
		return true, nil
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false, nil
	}
	ip = ip.Unmap()
	if _, ok := l.hosts[ip.String()]; ok {
		return true, nil
	}
	for _, p := range l.prefixes {
		if p.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of entries
func (l *TrustList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.hosts) + len(l.prefixes)
}

// LoadFile replaces the list with the contents of path
func (l *TrustList) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening trust file: %w", err)
	}
	defer f.Close()

	entries, err := ParseTrustList(f)
	if err != nil {
		return fmt.Errorf("reading trust file: %w", err)
	}
	l.set(entries)
	return nil
}

// Watch reloads path whenever it changes until ctx is done. The parent
// directory is watched since editors usually replace files rather than
// write them in place. A missing file empties the list.
func (l *TrustList) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				l.set(nil)
				logger.Warn("trust file removed, trusting nobody", "path", path)
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := l.LoadFile(path); err != nil {
					if errors.Is(err, os.ErrNotExist) {
						continue
					}
					logger.Error("trust file reload failed", "path", path, "error", err)
					continue
				}
				logger.Info("trust file reloaded", "path", path, "entries", l.Len())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("trust file watcher error", "error", err)
		}
	}
}
