package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// --- digest ---

var digestCmd = &cobra.Command{
	Use:   "digest [type]",
	Short: "Generate a digest now",
	Long: `Generate a digest now.

Examples:
  digestd digest
  digestd digest morning
  digestd digest on_demand --project 7f3c21aa`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		digestType := "on_demand"
		if len(args) == 1 {
			digestType = args[0]
		}
		projects, _ := cmd.Flags().GetStringSlice("project")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"type": digestType}
		if len(projects) > 0 {
			req["project_ids"] = projects
		}
		resp, err := client.post(cmd.Context(), "/digests", req)
		if err != nil {
			return err
		}

		var result struct {
			ID        string `json:"id"`
			Status    string `json:"status"`
			ItemCount int    `json:"item_count"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Status == "sent" && result.ItemCount == 0 {
			printSuccess("Digest %s generated: nothing new since the last one", result.ID)
			return nil
		}
		printSuccess("Digest %s generated (%d items, status %s)", result.ID, result.ItemCount, result.Status)
		return nil
	},
}

func init() {
	digestCmd.Flags().StringSlice("project", nil, "restrict to project ID (repeatable)")
}

// --- sources ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage configured sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sources")
		if err != nil {
			return err
		}

		var sources []struct {
			ID           string  `json:"id"`
			Type         string  `json:"type"`
			Name         string  `json:"name"`
			Active       bool    `json:"active"`
			LastSyncedAt *string `json:"last_synced_at"`
		}
		if err := decodeJSON(resp, &sources); err != nil {
			return err
		}

		if len(sources) == 0 {
			printWarning("No sources configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tNAME\tACTIVE\tLAST SYNCED")
		for _, src := range sources {
			synced := "never"
			if src.LastSyncedAt != nil {
				synced = *src.LastSyncedAt
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", src.ID, src.Type, src.Name, src.Active, synced)
		}
		return w.Flush()
	},
}

var sourcesValidateCmd = &cobra.Command{
	Use:   "validate <source-id>",
	Short: "Check a source's credentials against its provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sources/"+args[0]+"/validate", nil)
		if err != nil {
			return err
		}

		var result struct {
			Valid bool   `json:"valid"`
			Error string `json:"error"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Valid {
			printSuccess("Credentials are valid")
			return nil
		}
		if result.Error != "" {
			printError("Credentials rejected: %s", result.Error)
		} else {
			printError("Credentials rejected")
		}
		return fmt.Errorf("validation failed for source %s", args[0])
	},
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesValidateCmd)
}

// --- settings ---

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write runtime settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/settings/"+args[0])
		if err != nil {
			return err
		}

		var result struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printStatus(result.Key, "%s", result.Value)
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Update a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/settings/"+args[0], map[string]string{"value": args[1]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

func init() {
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}
