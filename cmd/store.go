package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/engine"
	"github.com/sells-group/enrich-cli/internal/provider"
	"github.com/sells-group/enrich-cli/internal/store"
	sfpkg "github.com/sells-group/enrich-cli/pkg/salesforce"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "enrich.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initProvider() provider.Client {
	return provider.NewClient(
		cfg.Provider.BaseURL,
		cfg.Provider.Key,
		provider.WithRateLimit(cfg.Provider.RateLimit),
	)
}

func initEngine(st store.Store) *engine.Engine {
	return engine.New(st, initProvider(),
		engine.WithDispatchPolicy(cfg.Provider.RetryPolicy()),
		engine.WithDispatchTimeout(time.Duration(cfg.Provider.DispatchTimeout)*time.Second),
		engine.WithCallbackWait(time.Duration(cfg.Provider.CallbackWaitSecs)*time.Second),
	)
}

func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (ENRICH_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit)), nil
}
