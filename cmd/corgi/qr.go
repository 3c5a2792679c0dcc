package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/elga-io/corgi/internal/app"
	"github.com/elga-io/corgi/internal/qrcode"
)

var qrFlags struct {
	size   int
	out    string
	format string
}

var qrCmd = &cobra.Command{
	Use:   "qr <link-id | url>",
	Short: "Render the QR code of a short link",
	Long: `Render the QR code of a short link. The argument is either a link id,
whose short URL is looked up in the store, or an absolute URL used as is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		if !strings.Contains(target, "://") {
			a, err := openApp(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.Store.GetByID(cmd.Context(), target)
			if err != nil {
				return err
			}
			target = strings.TrimRight(cfg.Server.BaseURL, "/") + "/" + l.Domain + "/" + l.Keyword
		}

		out := cmd.OutOrStdout()
		switch qrFlags.format {
		case "ascii":
			s, err := qrcode.ASCII(target)
			if err != nil {
				return err
			}
			fmt.Fprint(out, s)
		case "datauri":
			s, err := qrcode.DataURI(target, qrFlags.size)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, s)
		case "png":
			if qrFlags.out == "" {
				return fmt.Errorf("--out is required for png output")
			}
			png, err := qrcode.PNG(target, qrFlags.size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(qrFlags.out, png, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", qrFlags.out, err)
			}
			fmt.Fprintf(out, "wrote %s for %s\n", qrFlags.out, target)
		default:
			return fmt.Errorf("unknown format %q (ascii, png or datauri)", qrFlags.format)
		}
		return nil
	},
}

func init() {
	f := qrCmd.Flags()
	f.IntVar(&qrFlags.size, "size", qrcode.DefaultSize, "image size in pixels")
	f.StringVarP(&qrFlags.out, "out", "o", "", "output file for png")
	f.StringVarP(&qrFlags.format, "format", "f", "ascii", "ascii, png or datauri")
}
