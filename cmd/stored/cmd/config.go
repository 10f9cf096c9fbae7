package cmd

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/canvas-ai/canvas-stored/pkg/dlogger"
	"github.com/canvas-ai/canvas-stored/pkg/engine"
	"github.com/canvas-ai/canvas-stored/pkg/storage"
	"github.com/canvas-ai/canvas-stored/pkg/storage/localfs"
	"github.com/canvas-ai/canvas-stored/pkg/storage/sthree"
)

// backendConfig describes one entry of the "backends" list in the
// config file:
//
//	backends:
//	  - name: local
//	    kind: localfs
//	    path: /srv/stored/objects
//	  - name: archive
//	    kind: s3
//	    bucket: my-bucket
//	    region: us-west-2
type backendConfig struct {
	Name     string
	Kind     string
	Path     string
	Bucket   string
	Region   string
	Endpoint string
}

func backendConfigs() []backendConfig {
	raw := cast.ToSlice(viper.Get("backends"))
	configs := make([]backendConfig, 0, len(raw))
	for _, entry := range raw {
		m := cast.ToStringMapString(entry)
		configs = append(configs, backendConfig{
			Name:     m["name"],
			Kind:     m["kind"],
			Path:     m["path"],
			Bucket:   m["bucket"],
			Region:   m["region"],
			Endpoint: m["endpoint"],
		})
	}
	if len(configs) == 0 {
		configs = append(configs, backendConfig{
			Name: "local",
			Kind: "localfs",
			Path: ".stored/objects",
		})
	}
	return configs
}

func makeBackend(cfg backendConfig, logs *zap.Logger) (storage.Store, error) {
	switch cfg.Kind {
	case "s3":
		awsConfig := aws.NewConfig()
		if cfg.Region != "" {
			awsConfig = awsConfig.WithRegion(cfg.Region)
		}
		if cfg.Endpoint != "" {
			awsConfig = awsConfig.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
		}
		return sthree.New(sthree.Bucket(cfg.Bucket), sthree.AWSConfig(awsConfig)), nil
	default:
		return localfs.NewWatchable(cfg.Name, cfg.Path, nil, logs)
	}
}

// newStoredEngine builds the engine from the effective configuration
// and registers every configured backend.
func newStoredEngine() (*engine.Engine, *zap.Logger, error) {
	logs, err := dlogger.GetLogger(viper.GetString("loglevel"))
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(
		engine.MetaDir(viper.GetString("meta")),
		engine.Logger(logs),
	)
	if err != nil {
		return nil, nil, err
	}

	for _, cfg := range backendConfigs() {
		bs, err := makeBackend(cfg, logs)
		if err != nil {
			eng.Close()
			return nil, nil, err
		}
		if err := eng.RegisterBackend(cfg.Name, bs); err != nil {
			eng.Close()
			return nil, nil, err
		}
	}
	return eng, logs, nil
}
