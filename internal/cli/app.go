package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jacentio/canopy/config"
	"github.com/jacentio/canopy/crud"
	"github.com/jacentio/canopy/files"
	"github.com/jacentio/canopy/org"
	"github.com/jacentio/canopy/schema"
	"github.com/jacentio/canopy/store"
	"github.com/jacentio/canopy/store/memstore"
)

// app is a configured engine with every schema table mounted.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closer  io.Closer
	dynamo  *dynamodb.Client
	engine  *crud.Engine
	orgs    *org.Service
	mounted *crud.Mounted
	schema  *schema.File
}

func (a *app) Close() error { return a.closer.Close() }

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if opts.Schema != "" {
		cfg.SchemaFile = opts.Schema
	}
	return cfg, nil
}

// newApp builds the engine described by the configuration. logs receives
// log output unless a log file is configured.
func newApp(ctx context.Context, cfg *config.Config, logs io.Writer) (*app, error) {
	logger, closer, err := cfg.NewLogger(logs)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closer: closer}

	a.schema, err = schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		closer.Close()
		return nil, err
	}

	var awsCfg aws.Config
	_, useS3 := cfg.S3()
	if cfg.Store == config.StoreDynamo || useS3 {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			closer.Close()
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}

	var st store.Store
	switch cfg.Store {
	case config.StoreMemory:
		st = memstore.New()
	default:
		a.dynamo = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		st = store.NewDynamo(a.dynamo, cfg.Dynamo())
	}

	opts := []crud.Option{
		crud.WithLogger(logger),
		crud.WithMiddleware(crud.SlowQueryWarn(logger, cfg.SlowMutation)),
	}
	if cfg.AuditLog {
		opts = append(opts, crud.WithMiddleware(crud.AuditLog(logger, crud.AuditOptions{Diff: true})))
	}
	if s3cfg, ok := cfg.S3(); ok {
		opts = append(opts, crud.WithFiles(files.NewS3(s3.NewFromConfig(awsCfg), s3cfg)))
	}
	a.engine = crud.New(st, cfg.Engine(), opts...)

	urls, err := cfg.FetcherURLs()
	if err != nil {
		closer.Close()
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	fetchers := map[string]crud.Fetcher{}
	for name, url := range urls {
		fetchers[name] = httpFetcher(client, url)
	}
	a.mounted, err = crud.Mount(a.engine, a.schema, crud.MountOptions{Fetchers: fetchers})
	if err != nil {
		closer.Close()
		return nil, err
	}
	a.orgs = org.New(a.engine, org.Config{})
	return a, nil
}

// tableSpecs lists every table the app needs provisioned.
func (a *app) tableSpecs() []store.TableSpec {
	return store.MergeSpecs(append(a.engine.TableSpecs(), a.orgs.TableSpecs()...)...)
}
