package main

import (
	"flag"
	"os"

	"github.com/danmuck/longpoll/internal/config"
	"github.com/danmuck/longpoll/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("configgen failed")
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("configgen", flag.ContinueOnError)
	output := fs.String("output", "cmd/longpollctl/config.toml", "output path for the config template (.toml or .yaml)")
	validate := fs.Bool("validate", false, "validate an existing config file")
	input := fs.String("input", "cmd/longpollctl/config.toml", "config path for validation")
	force := fs.Bool("force", false, "overwrite existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			return err
		}
		log.Info().Str("path", *input).Int("bots", len(cfg.Bots)).Msg("config valid")
		return nil
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	log.Info().Str("path", *output).Msg("wrote config template")
	return nil
}
