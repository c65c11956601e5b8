package chain

import (
	"log/slog"
	"sync"

	"github.com/superset-studio/cloudchain/internal/config"
	"github.com/superset-studio/cloudchain/internal/connector"
)

// BackendFactory builds the Backend for a configuration snapshot.
type BackendFactory func(cfg *config.Config) Backend

func defaultBackend(cfg *config.Config) Backend {
	return connector.New(cfg)
}

// Provider holds one configuration snapshot and the Chain built from it.
// Changing the configuration discards the cached Chain; the next Default
// call builds a new one. All methods are safe for concurrent use.
type Provider struct {
	mu         sync.Mutex
	cfg        config.Config
	chain      *Chain
	newBackend BackendFactory
	logger     *slog.Logger
}

type ProviderOption func(*Provider)

// WithBackend replaces how the Provider connects to AWS.
func WithBackend(factory BackendFactory) ProviderOption {
	return func(p *Provider) {
		p.newBackend = factory
	}
}

func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewProvider starts with an empty configuration.
func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{newBackend: defaultBackend, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Default returns the Chain for the current configuration, building it on
// first use. The configuration may be incomplete; operations on the Chain
// then fail validation.
func (p *Provider) Default() *Chain {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultLocked()
}

func (p *Provider) defaultLocked() *Chain {
	if p.chain == nil {
		cfg := p.cfg
		p.chain = New(&cfg, p.newBackend(&cfg), WithLogger(p.logger))
	}
	return p.chain
}

// Config returns a copy of the current configuration.
func (p *Provider) Config() config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Configure replaces the configuration.
func (p *Provider) Configure(cfg config.Config) {
	p.update(func(c *config.Config) { *c = cfg })
}

// ReadConfigFile resolves and loads a config file and makes it the current
// configuration. A bypass flag already set on the Provider is kept.
func (p *Provider) ReadConfigFile(explicit string) (*config.Config, error) {
	cfg, err := config.Resolve(explicit)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.Bypass = cfg.Bypass || p.cfg.Bypass
	p.cfg = *cfg
	p.chain = nil

	out := *cfg
	return &out, nil
}

func (p *Provider) SetRegion(region string) {
	p.update(func(c *config.Config) { c.Dynamo.Region = region })
}

func (p *Provider) SetEndpoint(endpoint string) {
	p.update(func(c *config.Config) { c.Dynamo.Endpoint = endpoint })
}

func (p *Provider) SetTableName(table string) {
	p.update(func(c *config.Config) { c.Dynamo.TableName = table })
}

func (p *Provider) SetKeyAlias(alias string) {
	p.update(func(c *config.Config) { c.KMS.KeyAlias = alias })
}

func (p *Provider) SetBypass(bypass bool) {
	p.update(func(c *config.Config) { c.Bypass = bypass })
}

func (p *Provider) update(fn func(*config.Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.cfg)
	p.chain = nil
}

// EnsureConfigured reads the config file when none of the four required
// settings is present, then validates and returns the Chain.
func (p *Provider) EnsureConfigured(explicit string) (*Chain, error) {
	p.mu.Lock()
	empty := p.cfg.IsEmpty()
	p.mu.Unlock()

	if empty {
		if _, err := p.ReadConfigFile(explicit); err != nil {
			return nil, err
		}
	}

	c := p.Default()
	if err := c.CheckConfiguration(); err != nil {
		return nil, err
	}
	return c, nil
}
