package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/adrg/xdg"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" description:"SQLite database file (defaults to the XDG data directory)"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	BundlesDir        string `long:"bundles-dir" env:"BUNDLES_DIR" default:"./bundles" description:"Directory containing bundle definition files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl           string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://bundles.example.com)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for feed processing"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"30" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Client-local cache tier
	RedisAddr       string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for the client-local cache tier (empty disables the tier)"`
	RedisPassword   string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB         int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	LocalQuotaBytes int64  `long:"local-quota-bytes" env:"LOCAL_QUOTA_BYTES" default:"5242880" description:"Byte budget of the client-local cache tier"`

	// Optional remote cache tier
	MongoURI      string `long:"mongo-uri" env:"MONGO_URI" description:"MongoDB URI for the remote cache tier (defaults to SQLite when unset)"`
	MongoDatabase string `long:"mongo-database" env:"MONGO_DATABASE" default:"rss_bundles" description:"MongoDB database name"`

	// Cache behaviour
	CacheMaxAgeHours int           `long:"cache-max-age-hours" env:"CACHE_MAX_AGE_HOURS" default:"168" description:"Age after which a cached bundle is reported stale"`
	MemoryCacheTTL   time.Duration `long:"memory-cache-ttl" env:"MEMORY_CACHE_TTL" default:"30m" description:"Lifetime of process-memory cache entries"`

	// Ingestion
	IngestBatchSize   int           `long:"ingest-batch-size" env:"INGEST_BATCH_SIZE" default:"5" description:"Items written per ingestion chunk"`
	IngestBatchDelay  time.Duration `long:"ingest-batch-delay" env:"INGEST_BATCH_DELAY" default:"100ms" description:"Pause between ingestion chunks"`
	SearchWindowDays  int           `long:"search-window-days" env:"SEARCH_WINDOW_DAYS" default:"30" description:"Age window for the ad-hoc lexical search on cache refill"`
	RetentionDays     int           `long:"retention-days" env:"RETENTION_DAYS" default:"90" description:"Stories not seen for this many days are swept"`
	LowSignalFeedType string        `long:"low-signal-feed-type" env:"LOW_SIGNAL_FEED_TYPE" default:"reddit" description:"Feed type that does not receive the source diversity bonus"`

	// Health recorder
	HealthFlushWindow time.Duration `long:"health-flush-window" env:"HEALTH_FLUSH_WINDOW" default:"5s" description:"Window for coalescing feed health writes"`
	HealthMaxPending  int           `long:"health-max-pending" env:"HEALTH_MAX_PENDING" default:"100" description:"Pending health updates that force an early flush"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Bundles/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses flags and environment variables. It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs is Load with an explicit argument list; nil means os.Args.
func LoadArgs(args []string) (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Warning: failed to load .env file: %v\n", err)
	}

	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	dbPath := raw.DBPath
	if dbPath == "" {
		dbPath, err = xdg.DataFile("rss-bundles/bundles.db")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve default database path: %w", err)
		}
	}

	cfg := &Cfg{
		DBPath:            dbPath,
		FeedsDir:          raw.FeedsDir,
		BundlesDir:        raw.BundlesDir,
		Port:              raw.Port,
		BaseUrl:           raw.BaseUrl,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		APIAccessKey:      raw.APIAccessKey,
		RedisAddr:         raw.RedisAddr,
		RedisPassword:     raw.RedisPassword,
		RedisDB:           raw.RedisDB,
		LocalQuotaBytes:   raw.LocalQuotaBytes,
		MongoURI:          raw.MongoURI,
		MongoDatabase:     raw.MongoDatabase,
		CacheMaxAgeHours:  raw.CacheMaxAgeHours,
		MemoryCacheTTL:    raw.MemoryCacheTTL,
		IngestBatchSize:   raw.IngestBatchSize,
		IngestBatchDelay:  raw.IngestBatchDelay,
		SearchWindowDays:  raw.SearchWindowDays,
		RetentionDays:     raw.RetentionDays,
		LowSignalFeedType: raw.LowSignalFeedType,
		HealthFlushWindow: raw.HealthFlushWindow,
		HealthMaxPending:  raw.HealthMaxPending,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	positive := map[string]int{
		"worker count":        c.WorkerCount,
		"scheduler interval":  c.SchedulerInterval,
		"cache max age hours": c.CacheMaxAgeHours,
		"ingest batch size":   c.IngestBatchSize,
		"search window days":  c.SearchWindowDays,
		"health max pending":  c.HealthMaxPending,
	}

	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.HealthFlushWindow <= 0 {
		return fmt.Errorf("health flush window must be positive")
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
