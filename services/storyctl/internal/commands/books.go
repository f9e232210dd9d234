package commands

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"storybookai/pkg/document"
	"storybookai/pkg/domain"
	"storybookai/services/storyctl/internal/app"
)

func newHomeCmd(env *environment) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "home",
		Short: "Show public books and your library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			view, err := a.Home(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if view.User != nil {
				fmt.Fprintf(out, "Hello, %s!\n\n", displayName(*view.User))
				fmt.Fprintln(out, "Your library")
				printBooks(out, view.Library)
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "Discover")
			printBooks(out, view.Discover)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Skip the local cache")
	return cmd
}

func newDiscoverCmd(env *environment) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List books other readers shared",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			books, err := a.Discover.Load(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			printBooks(cmd.OutOrStdout(), books)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Skip the local cache")
	return cmd
}

func newLibraryCmd(env *environment) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "library",
		Short: "List your books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			books, err := a.Library.Load(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			printBooks(cmd.OutOrStdout(), books)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Skip the local cache")
	return cmd
}

func printBooks(w io.Writer, books []domain.Book) {
	if len(books) == 0 {
		fmt.Fprintln(w, "  (no books yet)")
		return
	}
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tNAME\tTHEME\tVIEWS\tDOWNLOADS\tCREATED")
	for _, b := range books {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%s\n", b.ID, b.Name, b.Theme, b.ViewCount, b.DownloadCount, document.FormatAge(b.CreatedAt, now))
	}
	_ = tw.Flush()
}

func newBookCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Read and manage a single book",
	}
	cmd.AddCommand(
		newBookShowCmd(env),
		newBookVisibilityCmd(env, "publish", "Share the book on Discover", true),
		newBookVisibilityCmd(env, "hide", "Remove the book from Discover", false),
		newBookDeleteCmd(env),
		newBookPDFCmd(env),
		newBookCoverCmd(env),
	)
	return cmd
}

func bookID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid book id %q", arg)
	}
	return id, nil
}

func newBookShowCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bookID(args[0])
			if err != nil {
				return err
			}
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			view, err := a.Detail.Load(cmd.Context(), id)
			if err != nil {
				return err
			}
			printBook(cmd.OutOrStdout(), view)
			return nil
		},
	}
}

func printBook(w io.Writer, view app.BookView) {
	fmt.Fprintf(w, "%s (#%d)\n", view.Name, view.ID)
	author := view.AuthorName
	if view.IsOwner {
		author = "you"
	}
	if author != "" {
		fmt.Fprintf(w, "By %s, %s\n", author, view.Age)
	}
	visibility := "private"
	if view.IsPublic {
		visibility = "public"
	}
	fmt.Fprintf(w, "%s | %s | %d views | %d downloads\n", view.Theme, visibility, view.ViewCount, view.DownloadCount)
	if !view.PDFReady {
		fmt.Fprintln(w, "The PDF is still being prepared.")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, view.Text)
}

func newBookVisibilityCmd(env *environment, use, short string, public bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bookID(args[0])
			if err != nil {
				return err
			}
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			if err := a.Detail.SetVisibility(cmd.Context(), id, public); err != nil {
				return err
			}
			if public {
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d is now public.\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Book %d is now private.\n", id)
			}
			return nil
		},
	}
}

func newBookDeleteCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one of your books",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bookID(args[0])
			if err != nil {
				return err
			}
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			if err := a.Detail.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Book %d deleted.\n", id)
			return nil
		},
	}
}

func newBookPDFCmd(env *environment) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "pdf ID",
		Short: "Download the book as a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bookID(args[0])
			if err != nil {
				return err
			}
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("book-%d.pdf", id)
			}
			info, err := a.Detail.DownloadPDF(cmd.Context(), id, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d pages, %d bytes)\n", out, info.Pages, info.SizeBytes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default book-<id>.pdf)")
	return cmd
}

func newBookCoverCmd(env *environment) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "cover ID",
		Short: "Download the cover image, waiting while it is drawn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := bookID(args[0])
			if err != nil {
				return err
			}
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			data, err := a.Detail.DownloadCover(cmd.Context(), id)
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("cover-%d.png", id)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write cover: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", out, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default cover-<id>.png)")
	return cmd
}
