package cfg

import "time"

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	FeedsDir          string
	BundlesDir        string
	Port              string
	BaseUrl           string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Client-local cache tier
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LocalQuotaBytes int64

	// Optional remote cache tier (defaults to the SQLite store)
	MongoURI      string
	MongoDatabase string

	// Cache behaviour
	CacheMaxAgeHours int
	MemoryCacheTTL   time.Duration

	// Ingestion
	IngestBatchSize   int
	IngestBatchDelay  time.Duration
	SearchWindowDays  int
	RetentionDays     int
	LowSignalFeedType string

	// Health recorder
	HealthFlushWindow time.Duration
	HealthMaxPending  int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
