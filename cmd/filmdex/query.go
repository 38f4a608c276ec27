package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"filmdex/internal/cache"
	"filmdex/internal/config"
	"filmdex/internal/store"
	"filmdex/internal/ui"
)

var (
	flagQueryChannel  string
	flagQueryExtended bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the catalog",
}

var queryChannelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List broadcasters",
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		channels, err := q.Channels(context.Background())
		exitOnQueryError(err)
		for _, c := range channels {
			fmt.Printf("%-24s %s\n", c.Name, ui.RenderDim(fmt.Sprintf("%d films", c.Count)))
		}
	},
}

var queryInitialsCmd = &cobra.Command{
	Use:   "initials",
	Short: "List A-Z show buckets",
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		initials, err := q.Initials(context.Background(), flagQueryChannel)
		exitOnQueryError(err)
		for _, i := range initials {
			letter := i.Letter
			if letter == "" {
				letter = "#"
			}
			fmt.Printf("%-4s %s\n", letter, ui.RenderDim(fmt.Sprintf("%d shows", i.Count)))
		}
	},
}

var queryShowsCmd = &cobra.Command{
	Use:   "shows [prefix]",
	Short: "List shows, optionally by prefix",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		q, closeFn := newQuery()
		defer closeFn()
		shows, err := q.Shows(context.Background(), flagQueryChannel, prefix)
		exitOnQueryError(err)
		for _, s := range shows {
			fmt.Printf("%-48s %-16s %s\n", s.Name, s.Channel,
				ui.RenderDim(fmt.Sprintf("%d films", s.Count)))
		}
	},
}

var queryFilmsCmd = &cobra.Command{
	Use:   "films <show-id>[,<show-id>...]",
	Short: "List the films of a show",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		films, truncated, err := q.Films(context.Background(), strings.Split(args[0], ","))
		exitOnQueryError(err)
		printFilms(films, truncated)
	},
}

var queryRecentsCmd = &cobra.Command{
	Use:   "recents",
	Short: "List recently added films",
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		films, truncated, err := q.Recents(context.Background(), flagQueryChannel)
		exitOnQueryError(err)
		printFilms(films, truncated)
	},
}

var querySearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search shows and titles",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		films, truncated, err := q.Search(context.Background(), args[0], flagQueryExtended)
		exitOnQueryError(err)
		printFilms(films, truncated)
	},
}

var queryLiveCmd = &cobra.Command{
	Use:   "livestreams",
	Short: "List live channel streams",
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		films, _, err := q.LiveStreams(context.Background())
		exitOnQueryError(err)
		for _, f := range films {
			fmt.Printf("%-32s %s\n", f.Title, ui.RenderDim(f.URLVideo))
		}
	},
}

var queryInfoCmd = &cobra.Command{
	Use:   "info <film-id>",
	Short: "Show one film in full",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q, closeFn := newQuery()
		defer closeFn()
		f, err := q.FilmInfo(context.Background(), args[0])
		if errors.Is(err, sql.ErrNoRows) {
			errorf("Error: no film with id %s", args[0])
			os.Exit(1)
		}
		exitOnQueryError(err)
		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("▶"), f.Title)
		fmt.Printf("   Channel:  %s\n", f.Channel)
		fmt.Printf("   Show:     %s\n", f.Show)
		fmt.Printf("   Aired:    %s\n", renderTime(f.Aired))
		fmt.Printf("   Duration: %s\n", renderDuration(f.Duration))
		if f.SizeMiB > 0 {
			fmt.Printf("   Size:     %d MiB\n", f.SizeMiB)
		}
		if f.Description != "" {
			fmt.Printf("   About:    %s\n", f.Description)
		}
		fmt.Printf("   Video:    %s\n", f.URLVideo)
		if f.URLVideoSD != "" {
			fmt.Printf("   SD:       %s\n", f.URLVideoSD)
		}
		if f.URLVideoHD != "" {
			fmt.Printf("   HD:       %s\n", f.URLVideoHD)
		}
		if f.URLSub != "" {
			fmt.Printf("   Subs:     %s\n", f.URLSub)
		}
		if f.Website != "" {
			fmt.Printf("   Website:  %s\n", f.Website)
		}
	},
}

func init() {
	queryCmd.PersistentFlags().StringVar(&flagQueryChannel, "channel", "", "restrict to one broadcaster")
	querySearchCmd.Flags().BoolVar(&flagQueryExtended, "extended", false, "also match descriptions")
	queryCmd.AddCommand(queryChannelsCmd)
	queryCmd.AddCommand(queryInitialsCmd)
	queryCmd.AddCommand(queryShowsCmd)
	queryCmd.AddCommand(queryFilmsCmd)
	queryCmd.AddCommand(queryRecentsCmd)
	queryCmd.AddCommand(querySearchCmd)
	queryCmd.AddCommand(queryLiveCmd)
	queryCmd.AddCommand(queryInfoCmd)
}

// newQuery builds the read side from the configuration, including the
// result cache when enabled.
func newQuery() (*store.Query, func()) {
	cfg := loadConfig()
	logger := newLogger(cfg, "[query] ")
	backend := openBackend(cfg, logger)
	q := store.NewQuery(backend, newCache(cfg, logger), queryFilter(cfg), logger)
	return q, func() { backend.Close() }
}

func newCache(cfg config.Config, logger *log.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		return nil
	}
	c, err := cache.NewFileCache(cfg.Cache.Dir)
	if err != nil {
		logger.Printf("cache disabled: %v", err)
		return nil
	}
	return c
}

func queryFilter(cfg config.Config) store.Filter {
	return store.Filter{
		MaxResults: cfg.Filters.MaxResults,
		NoFuture:   cfg.Filters.NoFuture,
		MinLength:  cfg.Filters.MinLength,
		MaxAge:     cfg.Filters.MaxAge,
		RecentMode: store.RecentMode(cfg.Filters.RecentMode),
		GroupShows: cfg.Filters.GroupShows,
	}
}

func printFilms(films []store.Film, truncated bool) {
	for _, f := range films {
		aired := "          "
		if f.Aired > 0 {
			aired = time.Unix(f.Aired, 0).Format("2006-01-02")
		}
		fmt.Printf("%s  %-16s %-56s %s\n", ui.RenderDim(aired), f.Channel, f.Title, f.ID)
	}
	if truncated {
		fmt.Printf("%s Result truncated, refine the query\n", ui.RenderWarn("⚠"))
	}
}

func renderDuration(seconds int) string {
	if seconds <= 0 {
		return ui.RenderDim("unknown")
	}
	return (time.Duration(seconds) * time.Second).String()
}

func exitOnQueryError(err error) {
	if err != nil {
		errorf("Error: %v", err)
		os.Exit(1)
	}
}
