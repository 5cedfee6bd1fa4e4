package config

const (
	defaultDataDir             = "~/.local/share/sfcfetch"
	defaultLogDir              = "~/.local/share/sfcfetch/logs"
	defaultAPIBind             = "127.0.0.1:7493"
	defaultBusyTimeoutMS       = 5000
	defaultRetryBaseDelayMS    = 1000
	defaultRetryMaxDelayMS     = 30000
	defaultMaxRetries          = 3
	defaultDocumentDelayMS     = 500
	defaultPageSize            = 50
	defaultRequestsPerSecond   = 2
	defaultDiscoveryLang       = "EN"
	defaultDocumentConcurrency = 1
	defaultNotifyTimeoutS      = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Database: Database{
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		Retry: Retry{
			BaseDelayMS:       defaultRetryBaseDelayMS,
			MaxDelayMS:        defaultRetryMaxDelayMS,
			DefaultMaxRetries: defaultMaxRetries,
		},
		RateLimit: RateLimit{
			DelayMS: defaultDocumentDelayMS,
		},
		Discovery: Discovery{
			PageSize:          defaultPageSize,
			RequestsPerSecond: defaultRequestsPerSecond,
			Lang:              defaultDiscoveryLang,
		},
		Workflow: Workflow{
			DocumentConcurrency: defaultDocumentConcurrency,
		},
		Notifications: Notifications{
			RequestTimeoutS:  defaultNotifyTimeoutS,
			DocumentFailures: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
