package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner. The colour marks whether writes
// reach a real backend (websocket) or stay in process (memory).
func PrintBanner(w io.Writer, cfg *Config) {
	mode := strings.ToUpper(cfg.Remote.Mode)

	color := ColorYellow
	desc := "IN-MEMORY (nothing leaves this process)"
	if cfg.Remote.Mode == RemoteModeWebSocket {
		color = ColorGreen
		desc = cfg.Remote.WSURL
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#               Investment Tracker Core                   #")
	line("#   REMOTE:  %-44s #", mode)
	line("#   TARGET:  %-44s #", truncate(desc, 44))
	line("#   CACHE:   %-44s #", strings.ToUpper(cfg.Cache.Backend))
	line("#   API KEY: %-44s #", apiKeyLabel(cfg.MarketData.APIKey))
	line("#   VERSION: %-44s #", cfg.App.Version)
	line("###########################################################")
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func apiKeyLabel(key string) string {
	if key == "" {
		return "none (public tier)"
	}
	return MaskSecret(key)
}
