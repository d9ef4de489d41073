package logging

import "go.uber.org/zap"

type Cfg struct {
	Level string
	JSON  bool
}

// New builds a production zap logger writing to stderr, so stdout stays free
// for the stdio transport.
func New(c Cfg) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if !c.JSON {
		cfg.Encoding = "console"
	}
	if c.Level != "" {
		if err := cfg.Level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, err
		}
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
