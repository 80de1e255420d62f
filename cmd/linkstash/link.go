package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkstash/linkstash/internal/metadata"
	"github.com/linkstash/linkstash/internal/schema"
)

var (
	linkCategoryID int64
	linkTitle      string
	linkNoFetch    bool
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manage saved links",
}

var linkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved links, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		var links []schema.Link
		if linkCategoryID > 0 {
			links, err = a.data.LinksByCategory(ctx, linkCategoryID)
		} else {
			links, err = a.data.Links(ctx)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(links)
		}
		for _, l := range links {
			title := l.Title
			if title == "" {
				title = l.URL
			}
			fmt.Printf("%-4d [%s] %s\n", l.ID, l.Type, title)
		}
		return nil
	},
}

var linkAddCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Save a link into a category",
	Long: `Save a link. Unless --no-fetch is given, the page is fetched and its
title, description, preview image, and favicon fill in anything not
set explicitly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		l := &schema.Link{
			URL:        args[0],
			CategoryID: linkCategoryID,
			Title:      linkTitle,
		}

		if !linkNoFetch {
			fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			meta, err := metadata.NewFetcher(nil).Fetch(fetchCtx, args[0])
			cancel()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not fetch page metadata: %v\n", err)
			} else {
				if l.Title == "" {
					l.Title = meta.Title
				}
				l.Description = meta.Description
				l.Thumbnail = meta.Image
				l.Favicon = meta.Favicon
				l.Type = meta.Type
			}
		}

		id, err := a.data.AddLink(ctx, l)
		if err != nil {
			return err
		}
		fmt.Printf("Saved link %d\n", id)
		return nil
	},
}

var linkDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid link id %q", args[0])
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		found, err := a.data.DeleteLink(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("link %d not found", id)
		}
		fmt.Printf("Deleted link %d\n", id)
		return nil
	},
}

func init() {
	linkListCmd.Flags().Int64Var(&linkCategoryID, "category", 0, "filter by category id")

	linkAddCmd.Flags().Int64Var(&linkCategoryID, "category", 0, "category id (required)")
	linkAddCmd.Flags().StringVar(&linkTitle, "title", "", "link title (overrides fetched title)")
	linkAddCmd.Flags().BoolVar(&linkNoFetch, "no-fetch", false, "skip fetching page metadata")
	_ = linkAddCmd.MarkFlagRequired("category")

	linkCmd.AddCommand(linkListCmd)
	linkCmd.AddCommand(linkAddCmd)
	linkCmd.AddCommand(linkDeleteCmd)
}
