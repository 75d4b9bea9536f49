package config

type Store struct{}

var _ StoreConfig = Store{}

// GetKVBackend selects "redis" (default) or "memory"
func (Store) GetKVBackend() string {
	return GetEnv("KV_BACKEND", "redis")
}

func (Store) GetRedisURL() string {
	return GetEnv("REDIS_URL", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return GetEnvAsInt("REDIS_DB", 0)
}

func (Store) GetKeyPrefix() string {
	return GetEnv("KV_KEY_PREFIX", "")
}
