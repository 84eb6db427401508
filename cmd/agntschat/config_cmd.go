package main

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"agntschat/internal/infra/config"
)

// ConfigCmd groups the configuration helpers.
type ConfigCmd struct {
	Show    ConfigShowCmd    `cmd:"" default:"1" help:"Print the effective configuration with secrets redacted."`
	Encrypt ConfigEncryptCmd `cmd:"" help:"Encrypt a secret for use in config.yaml."`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.configPath())
	if err != nil {
		return err
	}
	if cfg.Backend.APIKey != "" {
		cfg.Backend.APIKey = "[REDACTED]"
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	printf("# %s\n%s", cli.configPath(), out)
	return nil
}

type ConfigEncryptCmd struct {
	Value string `arg:"" help:"Plaintext secret."`
}

func (c *ConfigEncryptCmd) Run() error {
	passphrase := os.Getenv("AGNTS_CONFIG_KEY")
	if passphrase == "" {
		return errors.New("AGNTS_CONFIG_KEY must be set to the passphrase used to decrypt the config")
	}
	enc, err := config.EncryptValue(c.Value, passphrase)
	if err != nil {
		return err
	}
	printf("enc:%s\n", enc)
	return nil
}
