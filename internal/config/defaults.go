package config

const (
	defaultStateDir         = "~/.local/share/skilld"
	defaultBind             = "127.0.0.1:0"
	defaultIdleTimeout      = 0
	defaultCallTimeout      = 60
	defaultHandshakeTimeout = 30
	defaultStartupTimeout   = 15
	defaultShutdownGrace    = 5
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			Bind:             defaultBind,
			IdleTimeout:      defaultIdleTimeout,
			CallTimeout:      defaultCallTimeout,
			HandshakeTimeout: defaultHandshakeTimeout,
			StartupTimeout:   defaultStartupTimeout,
			ShutdownGrace:    defaultShutdownGrace,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Paths: Paths{
			StateDir: defaultStateDir,
		},
	}
}
