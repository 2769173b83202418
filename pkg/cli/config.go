package cli

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vorteil/vhdmount/pkg/container"
	"github.com/vorteil/vhdmount/pkg/elog"
	"github.com/vorteil/vhdmount/pkg/vhd"
)

const (
	configFileName = ".vhdmount"
	envPrefix      = "VHDMOUNT"
)

// Config is the merged result of the config file, the environment and the
// command line.
type Config struct {
	Verbose bool `mapstructure:"verbose"`

	Mount struct {
		AllowOther  bool `mapstructure:"allow-other"`
		Partitions  bool `mapstructure:"partitions"`
		MaxInFlight int  `mapstructure:"max-inflight"`
	} `mapstructure:"mount"`

	Checksum struct {
		Strict bool `mapstructure:"strict"`
	} `mapstructure:"checksum"`

	S3 struct {
		Region   string `mapstructure:"region"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"s3"`

	GCS struct {
		Credentials string `mapstructure:"credentials"`
	} `mapstructure:"gcs"`

	Azure struct {
		AccountName string `mapstructure:"account-name"`
		AccountKey  string `mapstructure:"account-key"`
	} `mapstructure:"azure"`
}

// flag name -> config key
var persistentBindings = map[string]string{
	"verbose":            "verbose",
	"strict-checksums":   "checksum.strict",
	"max-inflight":       "mount.max-inflight",
	"s3-region":          "s3.region",
	"s3-endpoint":        "s3.endpoint",
	"gcs-credentials":    "gcs.credentials",
	"azure-account-name": "azure.account-name",
	"azure-account-key":  "azure.account-key",
}

var mountBindings = map[string]string{
	"allow-other": "mount.allow-other",
	"partitions":  "mount.partitions",
}

func addStorageFlags(f *pflag.FlagSet) {
	f.Bool("strict-checksums", false, "treat footer and header checksum mismatches as fatal")
	f.Int("max-inflight", 0, "maximum concurrent reads against the image (0 for unlimited)")
	f.String("s3-region", "", "region of the S3 bucket holding the image")
	f.String("s3-endpoint", "", "custom S3-compatible endpoint")
	f.String("gcs-credentials", "", "path to a Google Cloud service account file")
	f.String("azure-account-name", "", "Azure storage account name")
	f.String("azure-account-key", "", "Azure storage account key")
}

func bindFlags() {
	for name, key := range persistentBindings {
		if err := viper.BindPFlag(key, RootCommand.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	for name, key := range mountBindings {
		if err := viper.BindPFlag(key, RootCommand.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// reads in config file, uses defaults if not found
func initConfig(cfgFile string, log elog.View) error {

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.Debugf("%s", err.Error())
			return nil
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return errors.Wrapf(err, "reading config file '%s'", cfgFile)
		}
		log.Debugf("%s", err.Error())
		log.Debugf("using default configuration")
	}

	return nil
}

func loadConfig() (*Config, error) {
	cfg := new(Config)
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	return cfg, nil
}

func (c *Config) containerOptions() container.Options {
	return container.Options{
		S3: container.S3Config{
			Region:   c.S3.Region,
			Endpoint: c.S3.Endpoint,
		},
		GCSCredentials: c.GCS.Credentials,
		Azure: container.AzureConfig{
			AccountName: c.Azure.AccountName,
			AccountKey:  c.Azure.AccountKey,
		},
		MaxInFlight: c.Mount.MaxInFlight,
	}
}

func (c *Config) diskOptions(log elog.Logger) *vhd.Options {
	return &vhd.Options{
		Logger:          log,
		StrictChecksums: c.Checksum.Strict,
	}
}
