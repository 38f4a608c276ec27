package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"filmdex/internal/store"
	"filmdex/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog status",
	Long: `Display the catalog's synchronization status.

Shows the state machine position, when the catalog last updated, the
feed's own freshness timestamp, and the counters of the last pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		logger := newLogger(cfg, "[status] ")
		backend := openBackend(cfg, logger)
		defer backend.Close()

		st, err := backend.GetStatus(context.Background())
		if err != nil {
			errorf("Error reading status: %v", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Catalog Status (%s)\n\n", ui.RenderAccent("▣"), backend.Name())
		fmt.Printf("   State:       %s\n", renderState(st.State))
		fmt.Printf("   Modified:    %s\n", renderTime(st.Modified))
		fmt.Printf("   Last update: %s\n", renderTime(st.LastUpdate))
		fmt.Printf("   Full update: %s\n", renderTime(st.FullUpdate))
		fmt.Printf("   Feed stamp:  %s\n", renderTime(st.FilmUpdate))
		fmt.Printf("   Schema:      v%d\n\n", st.Version)
		fmt.Printf("   Channels:    %d (+%d/-%d)\n", st.TotChannels, st.AddChannels, st.DelChannels)
		fmt.Printf("   Shows:       %d (+%d/-%d)\n", st.TotShows, st.AddShows, st.DelShows)
		fmt.Printf("   Films:       %d (+%d/-%d)\n", st.TotFilms, st.AddFilms, st.DelFilms)
	},
}

func renderState(s store.State) string {
	switch s {
	case store.StateIdle:
		return ui.RenderPass(string(s))
	case store.StateUpdating:
		return ui.RenderAccent(string(s))
	case store.StateAborted, store.StateUninit, store.StateNone:
		return ui.RenderWarn(string(s))
	}
	return string(s)
}

func renderTime(epoch int64) string {
	if epoch == 0 {
		return ui.RenderDim("never")
	}
	return time.Unix(epoch, 0).Format("2006-01-02 15:04:05")
}
