package authgate

import (
	"errors"

	"github.com/phuslu/log"
	"github.com/redis/go-redis/v9"

	"github.com/ecamli/authgate/geo"
	internalaudit "github.com/ecamli/authgate/internal/audit"
	"github.com/ecamli/authgate/internal/captcha"
	"github.com/ecamli/authgate/internal/lockout"
	internalmetrics "github.com/ecamli/authgate/internal/metrics"
	"github.com/ecamli/authgate/internal/stores"
	"github.com/ecamli/authgate/jwt"
	"github.com/ecamli/authgate/password"
)

// Builder assembles an [Engine]. Redis, a [CredentialStore], and an
// [EmailSender] are required; everything else has working defaults.
type Builder struct {
	config Config

	redis redis.UniversalClient
	creds CredentialStore
	perms PermissionSource
	email EmailSender
	geo   geo.Resolver
	sink  AuditSink

	logger *log.Logger
	built  bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. Zero-value sections keep their
// defaults only if set before this call; pass a Config derived from
// DefaultConfig when partially overriding.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// DefaultConfig exposes the builder defaults for partial overriding.
func DefaultConfig() Config {
	return defaultConfig()
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

func (b *Builder) WithPermissionSource(source PermissionSource) *Builder {
	b.perms = source
	return b
}

func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.email = sender
	return b
}

func (b *Builder) WithGeoResolver(resolver geo.Resolver) *Builder {
	b.geo = resolver
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

func (b *Builder) WithLogger(logger *log.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the engine. A Builder builds
// at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.creds == nil {
		return nil, errors.New("credential store is required")
	}
	if b.email == nil {
		return nil, errors.New("email sender is required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		Secret:    b.config.JWT.Secret,
		AccessTTL: b.config.JWT.AccessTTL,
		Issuer:    b.config.JWT.Issuer,
		Leeway:    b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(b.config.Password.Cost)
	if err != nil {
		return nil, err
	}

	captchaService := captcha.New(captcha.Config{
		Length:     b.config.Captcha.Length,
		NoiseCount: b.config.Captcha.NoiseCount,
	})

	steps := make([]lockout.Step, 0, len(b.config.Lockout.Steps))
	for _, step := range b.config.Lockout.Steps {
		steps = append(steps, lockout.Step{Count: step.Count, Duration: step.Duration})
	}
	tracker := lockout.NewTracker(b.redis, lockout.Config{
		CaptchaAfter: b.config.Lockout.CaptchaAfter,
		Steps:        steps,
		RetentionTTL: b.config.Lockout.RetentionTTL,
		Prefix:       b.config.Lockout.RedisPrefix,
	}, captchaService.NewText)

	geoResolver := b.geo
	if geoResolver == nil {
		geoResolver = geo.StaticResolver{}
	}

	logger := b.logger
	if logger == nil {
		logger = &log.DefaultLogger
	}

	engine := &Engine{
		config:       b.config,
		creds:        b.creds,
		perms:        b.perms,
		email:        b.email,
		geo:          geoResolver,
		lockout:      tracker,
		captcha:      captchaService,
		refreshStore: stores.NewRefreshStore(b.redis, b.config.Tokens.RedisPrefix),
		confirmStore: stores.NewOneTimeStore(b.redis, b.config.Tokens.RedisPrefix+":ec"),
		resetStore:   stores.NewOneTimeStore(b.redis, b.config.Tokens.RedisPrefix+":pr"),
		jwtManager:   jwtManager,
		hasher:       hasher,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    b.config.Audit.Enabled,
			BufferSize: b.config.Audit.BufferSize,
			DropIfFull: b.config.Audit.DropIfFull,
		}, b.sink),
		metrics: internalmetrics.New(internalmetrics.Config{
			Enabled: b.config.Metrics.Enabled,
		}),
		logger: logger,
	}

	b.built = true
	return engine, nil
}
