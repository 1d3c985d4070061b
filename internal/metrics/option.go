package metrics

// Config holds metric provider configuration.
type Config struct {
	ServiceName string
}

// OptionFn configures the metric provider.
type OptionFn func(config Config) Config

// WithServiceName sets the service name attached to all metrics.
func WithServiceName(serviceName string) OptionFn {
	return func(config Config) Config {
		config.ServiceName = serviceName
		return config
	}
}

// PromServerConfig holds Prometheus HTTP server configuration.
type PromServerConfig struct {
	port string
}

// PromOptionFn configures the Prometheus metrics server.
type PromOptionFn func(config PromServerConfig) PromServerConfig

// WithPort sets the metrics server port.
func WithPort(port string) PromOptionFn {
	return func(config PromServerConfig) PromServerConfig {
		config.port = port
		return config
	}
}
