// Package chain stores and retrieves KMS-protected credentials keyed by
// service and username.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/superset-studio/cloudchain/internal/chainerr"
	"github.com/superset-studio/cloudchain/internal/config"
	"github.com/superset-studio/cloudchain/internal/envelope"
	"github.com/superset-studio/cloudchain/internal/models"
	"github.com/superset-studio/cloudchain/internal/storage"
)

// Backend supplies the record store and key service a Chain talks to.
// Implementations may build them lazily; a Chain asks for them only after
// its configuration has been validated.
type Backend interface {
	RecordStore(ctx context.Context) (storage.RecordStore, error)
	KeyService(ctx context.Context) (envelope.KeyService, error)
}

type Chain struct {
	cfg     config.Config
	backend Backend
	logger  *slog.Logger
}

type Option func(*Chain)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// New returns a Chain for a copy of cfg. A nil cfg yields a Chain whose
// operations fail configuration checks unless bypass is set later through a
// Provider.
func New(cfg *config.Config, backend Backend, opts ...Option) *Chain {
	c := &Chain{backend: backend, logger: slog.Default()}
	if cfg != nil {
		c.cfg = *cfg
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns a copy of the configuration the Chain was built with.
func (c *Chain) Config() config.Config {
	return c.cfg
}

func (c *Chain) Bypass() bool {
	return c.cfg.Bypass
}

// CheckConfiguration reports the first missing required setting.
func (c *Chain) CheckConfiguration() error {
	return config.Validate(&c.cfg)
}

// Save seals secret and writes it under (service, username), replacing any
// existing record. With bypass set it only logs.
func (c *Chain) Save(ctx context.Context, service, username string, secret []byte) error {
	if c.cfg.Bypass {
		c.logger.Warn("no credentials were saved as bypass is enabled", "service", service, "username", username)
		return nil
	}
	if err := c.CheckConfiguration(); err != nil {
		return err
	}

	keys, err := c.backend.KeyService(ctx)
	if err != nil {
		return err
	}
	sealed, err := envelope.Seal(ctx, keys, c.cfg.KMS.KeyAlias, secret)
	if err != nil {
		return err
	}

	store, err := c.backend.RecordStore(ctx)
	if err != nil {
		return err
	}
	rec := &models.Record{Service: service, Username: username, Secret: sealed}
	if err := store.PutRecord(ctx, rec); err != nil {
		return err
	}

	c.logger.Debug("saved credential", "service", service, "username", username, "table", c.cfg.Dynamo.TableName)
	return nil
}

// Read returns the plaintext stored under (service, username). The bool is
// false only in bypass mode, where nothing is read. A missing record is a
// *chainerr.NotFoundError.
func (c *Chain) Read(ctx context.Context, service, username string) ([]byte, bool, error) {
	if c.cfg.Bypass {
		c.logger.Warn("no credentials were read as bypass is enabled", "service", service, "username", username)
		return nil, false, nil
	}
	if err := c.CheckConfiguration(); err != nil {
		return nil, false, err
	}

	store, err := c.backend.RecordStore(ctx)
	if err != nil {
		return nil, false, err
	}
	rec, err := store.GetRecord(ctx, service, username)
	if err != nil {
		return nil, false, err
	}
	if rec == nil {
		return nil, false, &chainerr.NotFoundError{Service: service, Username: username}
	}

	keys, err := c.backend.KeyService(ctx)
	if err != nil {
		return nil, false, err
	}
	plaintext, err := envelope.Open(ctx, keys, rec.Secret)
	if err != nil {
		return nil, false, err
	}

	c.logger.Debug("read credential", "service", service, "username", username)
	return plaintext, true, nil
}

// Export decrypts every stored record and returns them sorted by service
// and username. Records with an empty secret are skipped. Any other
// failure aborts the whole export.
func (c *Chain) Export(ctx context.Context) ([]models.Credential, error) {
	if c.cfg.Bypass {
		c.logger.Warn("no credentials were exported as bypass is enabled")
		return []models.Credential{}, nil
	}
	if err := c.CheckConfiguration(); err != nil {
		return nil, err
	}

	store, err := c.backend.RecordStore(ctx)
	if err != nil {
		return nil, err
	}
	records, err := store.ScanRecords(ctx)
	if err != nil {
		return nil, err
	}

	creds := make([]models.Credential, 0, len(records))
	if len(records) == 0 {
		return creds, nil
	}

	keys, err := c.backend.KeyService(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Secret == "" {
			c.logger.Warn("skipping record with empty secret", "service", rec.Service, "username", rec.Username)
			continue
		}
		plaintext, err := envelope.Open(ctx, keys, rec.Secret)
		if err != nil {
			return nil, fmt.Errorf("export %s/%s: %w", rec.Service, rec.Username, err)
		}
		creds = append(creds, models.Credential{
			Service:  rec.Service,
			Username: rec.Username,
			Secret:   string(plaintext),
		})
	}

	models.SortCredentials(creds)
	c.logger.Debug("exported credentials", "count", len(creds), "skipped", len(records)-len(creds))
	return creds, nil
}

// Snapshot copies the sealed records, without decrypting them, to every
// writer and returns how many were copied. Writers are tried in order and
// the first failure stops the run.
func (c *Chain) Snapshot(ctx context.Context, writers ...storage.SnapshotWriter) (int, error) {
	if c.cfg.Bypass {
		c.logger.Warn("no snapshot was taken as bypass is enabled")
		return 0, nil
	}
	if len(writers) == 0 {
		return 0, errors.New("no snapshot targets configured")
	}
	if err := c.CheckConfiguration(); err != nil {
		return 0, err
	}

	store, err := c.backend.RecordStore(ctx)
	if err != nil {
		return 0, err
	}
	records, err := store.ScanRecords(ctx)
	if err != nil {
		return 0, err
	}
	models.SortRecords(records)

	for i, w := range writers {
		if err := w.WriteSnapshot(ctx, records); err != nil {
			return 0, fmt.Errorf("snapshot target %d: %w", i+1, err)
		}
	}

	c.logger.Info("snapshot complete", "records", len(records), "targets", len(writers))
	return len(records), nil
}
