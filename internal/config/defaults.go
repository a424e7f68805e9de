package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/choubo/data/db/choubo.db"
	}
	if cfg.Storage.BlobRoot == "" {
		cfg.Storage.BlobRoot = "/usr/local/var/choubo/data/blobs"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/choubo/data/indices/retrieval.bleve"
	}
	if cfg.Auth.TokenTTLMinutes == 0 {
		cfg.Auth.TokenTTLMinutes = 24 * 60
	}
	if cfg.Auth.DownloadTTLMinutes == 0 {
		cfg.Auth.DownloadTTLMinutes = 7 * 24 * 60
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-5"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 2048
	}
	if cfg.Retrieval.SimilarMessages == 0 {
		cfg.Retrieval.SimilarMessages = 3
	}
	if cfg.Retrieval.LedgerCodes == 0 {
		cfg.Retrieval.LedgerCodes = 5
	}
	if cfg.Retrieval.RecentTransactions == 0 {
		cfg.Retrieval.RecentTransactions = 10
	}
}
