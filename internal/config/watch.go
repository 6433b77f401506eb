package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/vinit-chauhan/chlb/logger"
)

// Watch follows the teacher's watchConfig goroutine: a fsnotify watcher on
// the tunables file that reloads and hot-swaps the Store on Write/Create
// events. Unlike the teacher it targets a single tunables struct instead
// of a service map, so there is no LoadBalancer to notify — the Store's
// atomic pointer is the only thing that changes.
func Watch(store *Store, path string, done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(path); err != nil {
		// The tunables file may not exist yet; that's fine, defaults apply
		// and there is nothing to watch until it's created at this path's
		// parent directory, which fsnotify can't express without the file
		// existing on most platforms. Just stop watching.
		logger.Debug("Config", "not watching tunables file", "path", path, "error", err.Error())
		watcher.Close()
		return nil
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					logger.Info("Config", "tunables file changed, reloading", "path", event.Name)
					if err := store.LoadFile(path); err != nil {
						logger.Error("Config", "reload failed", "error", err.Error())
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Config", "watcher error", "error", werr.Error())
			}
		}
	}()
	return nil
}
