package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var graphsCmd = &cobra.Command{
	Use:   "graphs",
	Short: "Manage remote graphs",
}

var graphsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List graphs visible to the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := apiClient.Graphs.List(context.Background())
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No remote graphs.")
			return nil
		}

		bold := color.New(color.Bold)
		bold.Printf("%-38s %-24s %s\n", "GRAPH UUID", "NAME", "TX")
		for _, g := range list {
			fmt.Printf("%-38s %-24s %d\n", g.GraphUUID, g.GraphName, g.TX)
		}
		return nil
	},
}

var graphsDeleteCmd = &cobra.Command{
	Use:   "delete <graph-uuid>",
	Short: "Delete a remote graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Graphs.Delete(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var graphsUsersCmd = &cobra.Command{
	Use:   "users <graph-uuid>",
	Short: "Show a graph's collaborators",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := apiClient.Graphs.UsersInfo(context.Background(), args[0])
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%-38s %s\n", u.UserUUID, u.UserName)
		}
		return nil
	},
}

var graphsGrantCmd = &cobra.Command{
	Use:   "grant <graph-uuid> <user-uuid>...",
	Short: "Share a graph with other users",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Graphs.GrantAccess(context.Background(), args[0], args[1:]); err != nil {
			return err
		}
		fmt.Printf("Granted access to %d user(s)\n", len(args)-1)
		return nil
	},
}

var graphsVersionsCmd = &cobra.Command{
	Use:   "versions <graph-uuid> <block-uuid>...",
	Short: "Query saved content versions of blocks",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		versions, err := apiClient.Graphs.BlockContentVersions(context.Background(), args[0], args[1:])
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Printf("%-38s v%-6d %s\n", v.BlockUUID, v.Version, v.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphsCmd)
	graphsCmd.AddCommand(graphsListCmd)
	graphsCmd.AddCommand(graphsDeleteCmd)
	graphsCmd.AddCommand(graphsUsersCmd)
	graphsCmd.AddCommand(graphsGrantCmd)
	graphsCmd.AddCommand(graphsVersionsCmd)
}
