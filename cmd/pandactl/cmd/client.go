package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/pandactl/internal/config"
	"github.com/jmylchreest/pandactl/internal/observability"
	"github.com/jmylchreest/pandactl/internal/panda"
	"github.com/jmylchreest/pandactl/internal/version"
	"github.com/jmylchreest/pandactl/pkg/httpclient"
)

// newPandaClient builds the API client described by cfg. API calls and file
// uploads use separate transports so uploads are not bound by http.timeout.
// Uploads are never retried: a replayed POST to an upload location can
// create the video twice.
func newPandaClient(cfg *config.Config, logger *slog.Logger) (*panda.Client, error) {
	if err := cfg.API.RequireCredentials(); err != nil {
		return nil, err
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.HTTP.Timeout
	httpCfg.RetryAttempts = cfg.HTTP.RetryAttempts
	httpCfg.RetryDelay = cfg.HTTP.RetryDelay
	httpCfg.RetryMaxDelay = cfg.HTTP.RetryMaxDelay
	httpCfg.CircuitThreshold = cfg.HTTP.CircuitThreshold
	httpCfg.CircuitTimeout = cfg.HTTP.CircuitTimeout
	httpCfg.UserAgent = version.UserAgent()
	httpCfg.Logger = observability.WithComponent(logger, "httpclient")

	uploadCfg := httpCfg
	uploadCfg.Timeout = 0
	uploadCfg.RetryAttempts = 0

	client, err := panda.New(panda.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Version:   cfg.API.Version,
		AccessKey: cfg.API.AccessKey,
		SecretKey: cfg.API.SecretKey,
		CloudID:   cfg.API.CloudID,
		RateLimit: cfg.API.RateLimit,
	},
		panda.WithHTTPClient(httpclient.New(httpCfg)),
		panda.WithUploadClient(httpclient.New(uploadCfg)),
		panda.WithLogger(observability.WithComponent(logger, "panda")),
	)
	if err != nil {
		return nil, fmt.Errorf("creating API client: %w", err)
	}
	return client, nil
}
