// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/cardinalhq/privacysse/internal/datasource"
)

// localFiles returns the cleaned paths of the sources that are local files.
func (s Sources) localFiles() []string {
	var out []string
	for _, uri := range s.distinct() {
		loc, err := datasource.Parse(uri)
		if err != nil || loc.Scheme != "file" {
			continue
		}
		out = append(out, filepath.Clean(loc.Key))
	}
	return out
}

// Watch invalidates the cache whenever a local source file changes, so edits
// are picked up on the next lookup regardless of the refresh policy. It
// watches parent directories because editors and config management usually
// replace files rather than write them in place. Watch blocks until ctx is
// done; it returns immediately when no source is a local file.
func (c *Cache) Watch(ctx context.Context) error {
	files := c.sources.localFiles()
	if len(files) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := make(map[string]struct{}, len(files))
	dirs := map[string]struct{}{}
	for _, f := range files {
		watched[f] = struct{}{}
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	slog.Info("Watching reference dataset files", slog.Any("files", files))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := watched[filepath.Clean(ev.Name)]; !ok {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				slog.Info("Reference dataset file changed", slog.String("file", ev.Name), slog.String("op", ev.Op.String()))
				c.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Reference dataset watcher error", slog.Any("error", err))
		}
	}
}

// RunScheduler refreshes in the background on the policy interval so the
// reload cost is not paid by the first request after expiry. It blocks
// until ctx is done and does nothing for policies without an interval.
func (c *Cache) RunScheduler(ctx context.Context) error {
	if c.policy.Kind == PolicyNever || c.policy.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	sched := cron.New()
	_, err := sched.AddFunc(fmt.Sprintf("@every %s", c.policy.Interval), func() {
		if err := c.EnsureFresh(ctx); err != nil {
			slog.Warn("Scheduled reference dataset refresh failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule dataset refresh: %w", err)
	}

	sched.Start()
	slog.Info("Reference dataset refresh scheduled", slog.String("policy", c.policy.String()))
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}
