package renamebot

import (
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
)

const (
	// MaxTextLenInLogs is the maximum length of the message text in update logs.
	MaxTextLenInLogs = 64

	startCommand = "/start"
	clearCommand = "/clear"
)

type (
	// Logger is an interface for logging messages.
	Logger interface {
		Debug(string, ...any)
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	// Options contains bot additional options.
	Options struct {
		// Config contains bot configuration. Every field except token has a default value.
		Config Config

		// UserDB is a storage for user records. It uses in-memory storage by default.
		// Use [NewMongoUsersStorage] to persist counters between restarts.
		UserDB UsersStorage

		// Msgs is a message provider. It uses default messages by default.
		Msgs MessageProvider

		// Logger is a logger. It uses slog JSON logger by default.
		Logger Logger

		// Metrics contains prometheus configuration. Metrics are disabled if Registry is nil.
		Metrics MetricsConfig

		// Transport replaces telebot calls for downloading and sending files.
		// It is useful for testing, the bot uses telebot by default.
		Transport Transport

		// Thumbnailer generates thumbnails for staged files.
		// It uses ffmpeg with parameters from Config by default.
		Thumbnailer Thumbnailer

		metrics *metrics
	}
)

// Config contains bot configuration.
type Config struct {
	// Token is the Telegram bot token.
	// Environment variable: BOT_TOKEN.
	Token string `yaml:"token" env:"BOT_TOKEN"`

	// APIID and APIHash are the Telegram application credentials.
	// They are read for compatibility with MTProto deployments and not used by Bot API transport.
	// Environment variables: API_ID, API_HASH.
	APIID   string `yaml:"api_id" env:"API_ID"`
	APIHash string `yaml:"api_hash" env:"API_HASH"`

	// OwnerID is the Telegram ID of the bot owner.
	// Environment variable: OWNER_ID.
	OwnerID int64 `yaml:"owner_id" env:"OWNER_ID"`

	// LogGroup is the chat for bot logs.
	// Environment variable: LOG_GROUP.
	LogGroup string `yaml:"log_group" env:"LOG_GROUP"`

	// ChannelID is the broadcast channel.
	// Environment variable: CHANNEL_ID.
	ChannelID string `yaml:"channel_id" env:"CHANNEL_ID"`

	// FreemiumLimit is a number of files for free users. It is not enforced yet.
	// Default: 0.
	// Environment variable: FREEMIUM_LIMIT.
	FreemiumLimit int `yaml:"freemium_limit" env:"FREEMIUM_LIMIT"`

	// Database contains MongoDB configuration. In-memory storage is used if URI is empty.
	Database DatabaseConfig `yaml:"database"`

	// TempDir is a directory for staged files.
	// Default: os.TempDir().
	// Environment variable: TEMP_DIR.
	TempDir string `yaml:"temp_dir" env:"TEMP_DIR"`

	// FFmpegPath is a path to ffmpeg binary.
	// Default: "ffmpeg".
	// Environment variable: FFMPEG_PATH.
	FFmpegPath string `yaml:"ffmpeg_path" env:"FFMPEG_PATH"`

	// ThumbnailSize is a side of the bounding box for thumbnails.
	// Default: 320.
	// Environment variable: THUMBNAIL_SIZE.
	ThumbnailSize int `yaml:"thumbnail_size" env:"THUMBNAIL_SIZE"`

	// FrameOffset is a timestamp of the video frame used for thumbnail.
	// Default: 1 second.
	// Environment variable: THUMBNAIL_FRAME_OFFSET.
	FrameOffset time.Duration `yaml:"thumbnail_frame_offset" env:"THUMBNAIL_FRAME_OFFSET"`

	// LPTimeout is the long polling timeout.
	// Default: 15 seconds.
	// Environment variable: LP_TIMEOUT.
	LPTimeout time.Duration `yaml:"lp_timeout" env:"LP_TIMEOUT"`

	// RequestTimeout is the timeout of HTTP requests to Telegram, it covers file downloads and uploads.
	// It should be greater than LPTimeout.
	// Default: 5 minutes.
	// Environment variable: REQUEST_TIMEOUT.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	// HandlerTimeout limits a single update handling.
	// Default: 10 minutes.
	// Environment variable: HANDLER_TIMEOUT.
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`

	// APIURL is an URL of self-hosted Bot API server. Default Telegram API is used if empty.
	// Environment variable: BOT_API_URL.
	APIURL string `yaml:"api_url" env:"BOT_API_URL"`

	// Concurrent enables concurrent update handling. By default every update is handled to completion
	// before the next one, so events of a single user are processed in arrival order.
	// Environment variable: CONCURRENT.
	Concurrent bool `yaml:"concurrent" env:"CONCURRENT"`

	// MetricsAddress is an address for metrics and health endpoints. They are disabled if empty.
	// Environment variable: METRICS_ADDRESS.
	MetricsAddress string `yaml:"metrics_address" env:"METRICS_ADDRESS"`

	// DisableLogging disables bot activity logs.
	// Environment variable: DISABLE_LOGGING.
	DisableLogging bool `yaml:"disable_logging" env:"DISABLE_LOGGING"`

	// Debug enables debug logs and verbose telebot mode.
	// Environment variable: DEBUG.
	Debug bool `yaml:"debug" env:"DEBUG"`

	// TestMode sets the bot offline, it doesn't make requests on creation.
	// Environment variable: TEST_MODE.
	TestMode bool `yaml:"test_mode" env:"TEST_MODE"`
}

// Read fills config from the provided YAML file and environment and sets database defaults.
// Environment variables override values from the file.
func (cfg *Config) Read(fileName ...string) error {
	var err error
	if name := lang.First(fileName); name != "" {
		err = cleanenv.ReadConfig(name, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return err
	}
	cfg.Database.prepare()

	return nil
}

// WithConfig returns an option that sets the bot configuration.
func WithConfig(cfg Config) func(opts *Options) {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

// WithUserDB returns an option that sets the user storage.
func WithUserDB(db UsersStorage) func(opts *Options) {
	return func(opts *Options) {
		opts.UserDB = db
	}
}

// WithMsgs returns an option that sets the message provider.
func WithMsgs(msgs MessageProvider) func(opts *Options) {
	return func(opts *Options) {
		opts.Msgs = msgs
	}
}

// WithLogger returns an option that sets the logger.
func WithLogger(logger Logger) func(opts *Options) {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics returns an option that enables prometheus metrics.
func WithMetrics(cfg MetricsConfig) func(opts *Options) {
	return func(opts *Options) {
		opts.Metrics = cfg
	}
}

// WithTransport returns an option that replaces telebot file transport.
func WithTransport(tr Transport) func(opts *Options) {
	return func(opts *Options) {
		opts.Transport = tr
	}
}

// WithThumbnailer returns an option that sets the thumbnail generator.
func WithThumbnailer(th Thumbnailer) func(opts *Options) {
	return func(opts *Options) {
		opts.Thumbnailer = th
	}
}

// WithTestMode returns an option that sets the test mode.
func WithTestMode() func(opts *Options) {
	return func(opts *Options) {
		opts.Config.TestMode = true
	}
}

func (cfg *Config) prepareAndValidate() error {
	cfg.TempDir = lang.Check(cfg.TempDir, os.TempDir())
	cfg.FFmpegPath = lang.Check(cfg.FFmpegPath, "ffmpeg")
	cfg.ThumbnailSize = lang.Check(cfg.ThumbnailSize, 320)
	cfg.FrameOffset = lang.Check(cfg.FrameOffset, time.Second)
	cfg.LPTimeout = lang.Check(cfg.LPTimeout, 15*time.Second)
	cfg.RequestTimeout = lang.Check(cfg.RequestTimeout, 5*time.Minute)
	cfg.HandlerTimeout = lang.Check(cfg.HandlerTimeout, 10*time.Minute)
	cfg.Debug = lang.Check(cfg.Debug, cfg.TestMode)
	cfg.Database.prepare()

	err := validation.ValidateStruct(cfg,
		validation.Field(&cfg.FreemiumLimit, validation.Min(0)),
		validation.Field(&cfg.ThumbnailSize, validation.Min(16)),
		validation.Field(&cfg.FrameOffset, validation.Min(time.Duration(0))),
		validation.Field(&cfg.LPTimeout, validation.Min(time.Second)),
		validation.Field(&cfg.HandlerTimeout, validation.Min(time.Second)),
	)
	if err != nil {
		return err
	}

	if cfg.RequestTimeout <= cfg.LPTimeout {
		return errm.New("request timeout must be greater than long polling timeout",
			"request_timeout", cfg.RequestTimeout, "lp_timeout", cfg.LPTimeout)
	}

	return nil
}

func prepareOpts(opts Options) (Options, error) {
	err := opts.Config.prepareAndValidate()
	if err != nil {
		return opts, errm.Wrap(err, "prepare and validate config")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: lang.If(opts.Config.Debug, slog.LevelDebug, slog.LevelInfo),
		}))
	}
	if opts.Config.DisableLogging {
		opts.Logger = noopLogger{}
	}
	if opts.UserDB == nil {
		opts.UserDB, err = NewInMemoryUsersStorage(defaultInMemoryCapacity)
		if err != nil {
			return opts, errm.Wrap(err, "new user storage")
		}
	}
	if opts.Msgs == nil {
		opts.Msgs = newDefaultMessageProvider()
	}
	if opts.Thumbnailer == nil {
		opts.Thumbnailer = NewFFmpegThumbnailer(opts.Config.FFmpegPath, opts.Config.FrameOffset, opts.Config.ThumbnailSize)
	}
	opts.metrics = newMetrics(opts.Metrics)

	return opts, nil
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...any) {}
func (noopLogger) Info(msg string, fields ...any)  {}
func (noopLogger) Warn(msg string, fields ...any)  {}
func (noopLogger) Error(msg string, fields ...any) {}
