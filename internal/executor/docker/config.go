package docker

// Config controls the containers the Python tracer runs in.
type Config struct {
	Image       string  // must provide a python interpreter on PATH
	MemoryLimit int64   // bytes
	CPULimit    float64 // fractional CPUs
	PoolSize    int     // idle containers kept warm
	ScratchSize string  // tmpfs size for /tmp, e.g. "16m"
}

// DefaultConfig matches the config package defaults.
func DefaultConfig() Config {
	return Config{
		Image:       "python:3.12-alpine",
		MemoryLimit: 128 << 20,
		CPULimit:    0.5,
		PoolSize:    3,
		ScratchSize: "16m",
	}
}
