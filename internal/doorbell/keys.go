package doorbell

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/doorlink/internal/crypto/aescbc"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

var ErrMissingKeys = errors.New("doorbell: missing key material")

// KeySource names where the session key and IV come from. File wins over
// the inline values when both are set.
type KeySource struct {
	Key  string
	IV   string
	File string
}

func (k KeySource) IsZero() bool {
	return strings.TrimSpace(k.File) == "" && strings.TrimSpace(k.Key) == "" && strings.TrimSpace(k.IV) == ""
}

func (k KeySource) Resolve() (aescbc.KeyMaterial, error) {
	if path := strings.TrimSpace(k.File); path != "" {
		return LoadKeyFile(path)
	}
	if strings.TrimSpace(k.Key) == "" || strings.TrimSpace(k.IV) == "" {
		return aescbc.KeyMaterial{}, ErrMissingKeys
	}
	return aescbc.ParseKeyMaterial(k.Key, k.IV)
}

// keyFile is the on-disk layout written by the binding step:
//
//	key = "VQikblIrZXQ42Hng"
//	iv  = "hex:32466656..."
type keyFile struct {
	Key string `toml:"key"`
	IV  string `toml:"iv"`
}

func LoadKeyFile(path string) (aescbc.KeyMaterial, error) {
	var kf keyFile
	if _, err := toml.DecodeFile(path, &kf); err != nil {
		return aescbc.KeyMaterial{}, fmt.Errorf("key file parse failed (%s): %w", path, err)
	}
	if strings.TrimSpace(kf.Key) == "" || strings.TrimSpace(kf.IV) == "" {
		return aescbc.KeyMaterial{}, fmt.Errorf("%w: %s needs key and iv", ErrMissingKeys, path)
	}
	km, err := aescbc.ParseKeyMaterial(kf.Key, kf.IV)
	if err != nil {
		return aescbc.KeyMaterial{}, fmt.Errorf("key file %s: %w", path, err)
	}
	return km, nil
}

// WatchKeyFile signals on the returned channel whenever path is written or
// re-created. The parent directory is watched so editors that replace the
// file by rename are seen too. Signals coalesce while unread.
func WatchKeyFile(ctx context.Context, path string) (<-chan struct{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("key watch: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("key watch %s: %w", filepath.Dir(abs), err)
	}

	changed := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				log.Debug().Str("path", abs).Str("op", event.Op.String()).Msg("doorbell.WatchKeyFile change")
				select {
				case changed <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Str("path", abs).Msg("doorbell.WatchKeyFile watcher error")
			}
		}
	}()
	return changed, nil
}
