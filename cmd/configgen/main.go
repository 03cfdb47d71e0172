package main

import (
	"fmt"
	"os"

	"github.com/danmuck/clusterctl/internal/config"
	"github.com/danmuck/clusterctl/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	logging.ConfigureRuntime()
	kind := pflag.String("kind", "device", "config kind: device|controller")
	output := pflag.String("output", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing device config file")
	input := pflag.String("input", "", "config path for validation (defaults to cmd/devicesim/config.toml)")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	if *validate {
		if *kind != "device" {
			fail(fmt.Errorf("validation is only supported for kind=device; use `clusterctl devices` for controller configs"))
		}
		path := *input
		if path == "" {
			path = "cmd/devicesim/config.toml"
		}
		if _, err := config.LoadDeviceConfig(path); err != nil {
			fail(err)
		}
		log.Info().Str("path", path).Msg("validated device config")
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "device":
			target = "cmd/devicesim/config.toml"
		case "controller":
			target = "cmd/clusterctl/config.toml"
		default:
			fail(fmt.Errorf("unknown kind: %s", *kind))
		}
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		fail(err)
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}

func fail(err error) {
	log.Error().Err(err).Msg("configgen failed")
	os.Exit(1)
}
