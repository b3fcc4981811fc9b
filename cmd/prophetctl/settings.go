package main

import (
	"errors"
	"path/filepath"
	"strings"

	"Prophet-Chain/sdk/go/prophet"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings holds the resolved CLI configuration.
type settings struct {
	APIURL       string
	APIKey       string
	DaemonConfig string
	JSON         bool
	Verbose      bool
}

// initSettings layers flags over env (PROPHET_*) over .prophetctl.yaml.
func initSettings(v *viper.Viper, cmd *cobra.Command) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".prophetctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	v.SetDefault("api_url", "http://localhost:8080")
	v.SetDefault("daemon_config", filepath.Join("configs", "prophet.json"))

	v.SetEnvPrefix("PROPHET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"api_url":       "api-url",
		"api_key":       "api-key",
		"daemon_config": "daemon-config",
		"json":          "json",
		"verbose":       "verbose",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return err
		}
	}
	return nil
}

func loadSettings(v *viper.Viper) settings {
	return settings{
		APIURL:       v.GetString("api_url"),
		APIKey:       v.GetString("api_key"),
		DaemonConfig: v.GetString("daemon_config"),
		JSON:         v.GetBool("json"),
		Verbose:      v.GetBool("verbose"),
	}
}

func (s settings) apiClient() (*prophet.Client, error) {
	client, err := prophet.NewClient(s.APIURL, nil)
	if err != nil {
		return nil, err
	}
	if s.APIKey != "" {
		client.SetAPIKey(s.APIKey)
	}
	return client, nil
}
