package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"skilld/internal/config"
	"skilld/internal/daemonctl"
	"skilld/internal/logging"
)

type commandContext struct {
	configFlag   *string
	stateDirFlag *string
	jsonFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag, stateDirFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		stateDirFlag: stateDirFlag,
		jsonFlag:     jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.stateDirFlag != nil && strings.TrimSpace(*c.stateDirFlag) != "" {
			stateDir, err := config.ExpandPath(*c.stateDirFlag)
			if err != nil {
				c.configErr = err
				return
			}
			cfg.Paths.StateDir = stateDir
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolvedPath
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// facade builds the daemon control façade for client commands.
func (c *commandContext) facade() (*daemonctl.Facade, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	flagPath := ""
	if c.configFlag != nil {
		flagPath = strings.TrimSpace(*c.configFlag)
	}
	return daemonctl.New(cfg, flagPath, logging.NewNop()), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
