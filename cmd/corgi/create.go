package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/idgen"
	"github.com/elga-io/corgi/internal/models"
	"github.com/elga-io/corgi/internal/service"
)

var createFlags struct {
	url     string
	domain  string
	keyword string
	title   string
	owner   string
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a short link",
	Example: `  corgi create --url https://go.dev/doc
  corgi create --url https://go.dev --keyword golang --domain elga.io`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, app.Options{Redis: true})
		if err != nil {
			return err
		}
		defer a.Close()

		gen, err := idgen.NewRandom(cfg.Links.KeywordLength)
		if err != nil {
			return err
		}
		links := service.NewLinkService(a.Links, gen, a.NewResolver(a.NewCache()), nil, service.LinkConfig{
			Domains:          cfg.Links.Domains,
			DefaultDomain:    cfg.Links.DefaultDomain,
			KeywordMin:       cfg.Links.KeywordMin,
			KeywordMax:       cfg.Links.KeywordMax,
			GenerateAttempts: cfg.Links.GenerateAttempts,
			AllowAnonymous:   true,
			BaseURL:          cfg.Server.BaseURL,
		}, log)

		link, err := links.Create(ctx, createFlags.owner, models.CreateLinkRequest{
			URL:     createFlags.url,
			Domain:  createFlags.domain,
			Keyword: createFlags.keyword,
			Title:   createFlags.title,
		})
		if err != nil {
			var taken *service.KeywordTakenError
			if errors.As(err, &taken) && len(taken.Suggestions) > 0 {
				return fmt.Errorf("%w (try: %v)", err, taken.Suggestions)
			}
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:        %s\n", link.ID)
		fmt.Fprintf(out, "Short URL: %s\n", link.ShortURL)
		fmt.Fprintf(out, "Target:    %s\n", link.URL)
		return nil
	},
}

func init() {
	f := createCmd.Flags()
	f.StringVarP(&createFlags.url, "url", "u", "", "destination URL (required)")
	f.StringVarP(&createFlags.domain, "domain", "d", "", "short domain (defaults to LINK_DEFAULT_DOMAIN)")
	f.StringVarP(&createFlags.keyword, "keyword", "k", "", "custom keyword (generated when empty)")
	f.StringVarP(&createFlags.title, "title", "t", "", "link title")
	f.StringVar(&createFlags.owner, "owner", "", "owner user id (anonymous when empty)")
	_ = createCmd.MarkFlagRequired("url")
}
