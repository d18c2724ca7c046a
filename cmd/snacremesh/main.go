// Command snacremesh decomposes a hexahedral mesh over an in-process world
// of ranks, checks the shadow exchange, then remeshes the configured field
// presets onto a perturbed copy of the mesh and reports how far the result
// strays from the fields it started from.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/notargets/snacdecomp/comm"
	"github.com/notargets/snacdecomp/config"
	"github.com/notargets/snacdecomp/journal"
)

var (
	configFile = flag.String("config", "", "YAML run configuration; defaults apply when empty")
	np         = flag.Int("np", 0, "number of ranks, overrides worldSize")
	logLevel   = flag.String("log", "", "debug, info, warn or error, overrides logLevel")
	decompKind = flag.String("decomp", "", "hexamd or irregular, overrides mesh.decomposition")
	meshFile   = flag.String("mesh", "", "gocfd mesh file, implies -decomp irregular")
	timestamp  = flag.Bool("t", false, "stamp log lines with the elapsed time")
)

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	if err != nil {
		journal.Exitf("%v", err)
	}
	level, _ := journal.ParseLevel(cfg.LogLevel)
	journal.SetLevel(level)
	if *timestamp {
		journal.SetFlags(journal.ShowTimestamp)
	}

	t0 := time.Now()
	err = comm.Run(context.Background(), cfg.WorldSize, func(ctx context.Context, c comm.Comm) error {
		_, err := run(ctx, c, cfg)
		return err
	})
	if err != nil {
		journal.Exitf("%v", err)
	}
	journal.Infof("%d ranks finished in %s", cfg.WorldSize, time.Since(t0))
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return cfg, err
		}
	}
	if *np > 0 {
		cfg.WorldSize = *np
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *decompKind != "" {
		cfg.Mesh.Decomposition = *decompKind
	}
	if *meshFile != "" {
		cfg.Mesh.File = *meshFile
		cfg.Mesh.Decomposition = config.Irregular
	}
	return cfg, cfg.Validate()
}
