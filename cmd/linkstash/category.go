package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/linkstash/linkstash/internal/schema"
)

var (
	categoryIcon  string
	categoryColor string
	categoryDesc  string
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Manage bookmark categories",
}

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		cats, err := a.data.Categories(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cats)
		}
		for _, c := range cats {
			fmt.Printf("%-4d %-20s %s\n", c.ID, c.Name, c.Icon)
		}
		return nil
	},
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		c := &schema.Category{
			Name:        args[0],
			Icon:        categoryIcon,
			Color:       categoryColor,
			Description: categoryDesc,
		}
		id, err := a.data.AddCategory(ctx, c)
		if err != nil {
			return err
		}
		fmt.Printf("Created category %d\n", id)
		return nil
	},
}

var categoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a category and its links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid category id %q", args[0])
		}

		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		found, err := a.data.DeleteCategory(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("category %d not found", id)
		}
		fmt.Printf("Deleted category %d\n", id)
		return nil
	},
}

func init() {
	categoryAddCmd.Flags().StringVar(&categoryIcon, "icon", "", "category icon name")
	categoryAddCmd.Flags().StringVar(&categoryColor, "color", "", "category color")
	categoryAddCmd.Flags().StringVar(&categoryDesc, "description", "", "category description")

	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categoryAddCmd)
	categoryCmd.AddCommand(categoryDeleteCmd)
}
