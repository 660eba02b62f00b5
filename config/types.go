package config

import "time"

type AppConfig struct {
	DBDriver   string           `yaml:"db_driver" env:"KESTREL_DB_DRIVER" env-default:"sqlite"`
	DBURL      string           `yaml:"db_url" env:"KESTREL_DB_URL" env-default:""`
	DBPath     string           `yaml:"db_path" env:"KESTREL_DB_PATH" env-default:"data/kestrel.db"`
	ListenAddr string           `yaml:"listen_addr" env:"KESTREL_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	SessionTTL time.Duration    `yaml:"session_ttl" env:"KESTREL_SESSION_TTL" env-default:"3h"`
	AppEnv     string           `yaml:"app_env" env:"KESTREL_APP_ENV"`
	Events     EventsConfig     `yaml:"events"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	Escalation EscalationConfig `yaml:"escalation"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
}

type EventsConfig struct {
	RegNoFormat string `yaml:"reg_no_format" env:"KESTREL_EVENTS_REG_NO_FORMAT" env-default:"QE-{year}-{seq:05}"`
}

type IncidentsConfig struct {
	RegNoFormat string `yaml:"reg_no_format" env:"KESTREL_INCIDENTS_REG_NO_FORMAT" env-default:"INC-{year}-{seq:05}"`
}

// EscalationConfig controls when a quality event must be promoted to an
// incident without an explicit operator request.
type EscalationConfig struct {
	RiskThreshold int      `yaml:"risk_threshold" env:"KESTREL_ESCALATION_RISK_THRESHOLD" env-default:"70"`
	Categories    []string `yaml:"categories" env:"KESTREL_ESCALATION_CATEGORIES" env-separator:"," env-default:"patient-safety,regulatory,product-recall"`
}

type SweeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"KESTREL_SWEEPER_ENABLED" env-default:"true"`
	Schedule string `yaml:"schedule" env:"KESTREL_SWEEPER_SCHEDULE" env-default:"@every 5m"`
}

const maxUserSessionTTL = 3 * time.Hour

func (c *AppConfig) EffectiveSessionTTL() time.Duration {
	ttl := maxUserSessionTTL
	if c != nil && c.SessionTTL > 0 {
		ttl = c.SessionTTL
	}
	if ttl > maxUserSessionTTL {
		return maxUserSessionTTL
	}
	return ttl
}
