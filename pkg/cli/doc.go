// Package cli holds the shared pieces of the voicecmd command line: the
// context configuration file, the on-disk layout, output formatting and
// terminal styles.
//
// Configuration lives in ~/.voicecmd/<app>/config.yaml and supports several
// named contexts, similar to kubectl:
//
//	cfg, err := cli.LoadConfig("voicecmd")
//	ctx, err := cfg.ResolveContext("")
//	blocks := ctx.BlockDuration()
package cli
