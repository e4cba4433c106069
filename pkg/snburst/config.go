package snburst

type Config struct {
	DBPath     string
	InstallDir string // SNOwGLoBES-style toolkit installation
	TempDir    string // fluence artifacts land here
	Workers    int
	Logger     Logger
	Storage    Storage
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithInstallDir(dir string) Option {
	return func(c *Config) {
		c.InstallDir = dir
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:  "snburst.sqlite3",
		TempDir: ".",
		Workers: 4,
	}
}
