// Package importer loads legacy per-account JSON files into the store.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"activator/internal/models"

	"go.uber.org/zap"
)

// Saver is the store surface an import writes through.
type Saver interface {
	CreateSession(ctx context.Context, id string) error
	SaveAccount(ctx context.Context, sessionID string, p models.AccountPayload) (*models.Account, error)
}

// Importer copies every *.json account file in a directory into one session.
type Importer struct {
	store     Saver
	dir       string
	sessionID string
	log       *zap.SugaredLogger
}

// New imports dir into sessionID.
func New(st Saver, dir, sessionID string, lg *zap.SugaredLogger) *Importer {
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	return &Importer{store: st, dir: dir, sessionID: sessionID, log: lg}
}

// Run imports the directory and returns how many accounts were saved. A
// missing directory imports nothing. Files that are unreadable, not a JSON
// object, or without an email are logged and skipped.
func (im *Importer) Run(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(im.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read import dir: %w", err)
	}
	if err := im.store.CreateSession(ctx, im.sessionID); err != nil {
		return 0, fmt.Errorf("create import session: %w", err)
	}

	var migrated int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return migrated, err
		}
		if err := im.importFile(ctx, filepath.Join(im.dir, e.Name())); err != nil {
			im.log.Warnw("import file skipped", "file", e.Name(), "err", err)
			continue
		}
		migrated++
		im.log.Debugw("account file imported", "file", e.Name())
	}
	im.log.Infow("import finished", "dir", im.dir, "session_id", im.sessionID, "migrated", migrated)
	return migrated, nil
}

func (im *Importer) importFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p models.AccountPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("not an account object: %w", err)
	}
	if p.Email == "" {
		return fmt.Errorf("no email")
	}
	_, err = im.store.SaveAccount(ctx, im.sessionID, p)
	return err
}
