// Command formbot runs the registration bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/m3rciful/formbot/core/buildinfo"
	corecmd "github.com/m3rciful/formbot/core/cmd"
	"github.com/m3rciful/formbot/internal/app"
	"github.com/m3rciful/formbot/internal/config"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(buildinfo.UserAgent())
		return
	}

	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(ctx context.Context, path string) (corecmd.ConfigCarrier, error) {
			cfg, err := config.Load(ctx, path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: func(ctx context.Context, c corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg, ok := c.(*config.Config)
			if !ok {
				return nil, fmt.Errorf("unexpected config type %T", c)
			}
			return app.Bootstrap(ctx, cfg)
		},
	})
	if err != nil {
		log.Printf("formbot: %v", err)
		os.Exit(1)
	}
}
