package config

type RedisConfig struct {
	URL      string
	Password string
}

// Enabled reports whether a redis address was configured
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      GetEnvOrDefault("REDIS_URL", ""),
		Password: GetEnvOrDefault("REDIS_PASSWORD", ""),
	}
}
