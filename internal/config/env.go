package config

import "os"

// ApplyEnv overrides secrets and endpoints from the environment:
// CRATESTATUS_GITHUB_TOKEN (or GITHUB_TOKEN), CRATESTATUS_GITLAB_TOKEN,
// CRATESTATUS_REDIS_ADDR, CRATESTATUS_MONGO_URI and CRATESTATUS_LISTEN.
func ApplyEnv(cfg *Config) {
	setEnv(&cfg.Forge.GitHubToken, "GITHUB_TOKEN")
	setEnv(&cfg.Forge.GitHubToken, "CRATESTATUS_GITHUB_TOKEN")
	setEnv(&cfg.Forge.GitLabToken, "CRATESTATUS_GITLAB_TOKEN")
	setEnv(&cfg.Cache.RedisAddr, "CRATESTATUS_REDIS_ADDR")
	setEnv(&cfg.Archive.MongoURI, "CRATESTATUS_MONGO_URI")
	setEnv(&cfg.Listen, "CRATESTATUS_LISTEN")
}

func setEnv(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		*target = val
	}
}
