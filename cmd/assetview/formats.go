package main

import (
	"fmt"
	"io"

	"github.com/Faultbox/assetview/internal/config"
	"github.com/Faultbox/assetview/internal/logger"
	"github.com/Faultbox/assetview/internal/viewer"
	"github.com/Faultbox/assetview/pkg/formats"
)

func cmdFormats(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("formats", stderr)
	shared := config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, ok := setup(shared, stderr)
	if !ok {
		return 1
	}
	defer logger.Sync()

	v := viewer.New(viewerConfig(cfg))
	defer v.Unmount()

	enabled := make(map[formats.Format]bool)
	for _, f := range v.Formats() {
		enabled[f] = true
	}
	for _, f := range formats.All() {
		status := "enabled"
		if !enabled[f] {
			status = "disabled"
		}
		fmt.Fprintf(stdout, "  .%-6s %s\n", f, status)
	}
	return 0
}
