package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/agentgovernor/kernel/pkg/policy"
)

// PolicyWatcher hot-reloads a single policy document on write, replacing
// the teacher's deprecated, Kubernetes-only watchPolicies stub
// (pkg/router/policy.go in the original) with a plain filesystem watch
// for deployments that have no cluster control plane to reconcile
// GovernancePolicy CRDs from.
type PolicyWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
}

// WatchPolicyFile starts watching path's parent directory (fsnotify
// watches directories, not files, so the watch survives editors that
// replace the file via rename-into-place) and invokes onReload with the
// freshly compiled policy set whenever path itself is written or
// recreated. onError receives read/parse failures; a bad write never
// tears down the watch, it just skips that reload.
func WatchPolicyFile(path string, onReload func(map[string]*policy.CompiledPolicy), onError func(error)) (*PolicyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}

	pw := &PolicyWatcher{watcher: w, path: filepath.Clean(path), done: make(chan struct{})}
	go pw.loop(onReload, onError)
	return pw, nil
}

func (pw *PolicyWatcher) loop(onReload func(map[string]*policy.CompiledPolicy), onError func(error)) {
	defer close(pw.done)
	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != pw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			data, err := os.ReadFile(pw.path)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			compiled, err := Load(data)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(compiled)
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}

// Close stops the watch and releases the underlying fsnotify.Watcher.
func (pw *PolicyWatcher) Close() error {
	err := pw.watcher.Close()
	<-pw.done
	return err
}
