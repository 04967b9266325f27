package cmd

import (
	"fmt"
	"strings"

	"github.com/nfrund/peerchat/cmd/peerchat-cli/internal/topics"
	"github.com/nfrund/peerchat/internal/topicmgr"
	"github.com/spf13/cobra"
)

var (
	topicsFormat string
	topicsScope  string
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect the bus topics the server publishes",
	Long: `The topics command lists the events peerchat puts on its message bus,
which is useful when attaching another consumer to a Redis deployment.

Examples:
  peerchat-cli topics list
  peerchat-cli topics list --format json
  peerchat-cli topics get chat.message.created
  peerchat-cli topics validate chat.message.edited`,
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager := topics.Catalog()

		list := manager.List()
		if topicsScope != "" {
			scope, err := parseScope(topicsScope)
			if err != nil {
				return err
			}
			list = manager.ListByScope(scope)
		}

		switch topicsFormat {
		case "json":
			return topics.DisplayTopicsJSON(cmd.OutOrStdout(), list)
		case "table":
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No topics found")
				return nil
			}
			return topics.DisplayTopicsTable(cmd.OutOrStdout(), list)
		default:
			return fmt.Errorf("unsupported output format %q, use table or json", topicsFormat)
		}
	},
}

var topicsGetCmd = &cobra.Command{
	Use:   "get <topic-name>",
	Short: "Show details of one topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, found := topics.Catalog().Get(args[0])
		if !found {
			return fmt.Errorf("topic %q not found, see 'peerchat-cli topics list'", args[0])
		}
		return topics.DisplayTopicDetails(cmd.OutOrStdout(), topic, topicsFormat)
	},
}

var topicsValidateCmd = &cobra.Command{
	Use:   "validate <topic-name>",
	Short: "Check a topic name against the naming rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if err := topicmgr.ValidateName(name); err != nil {
			return fmt.Errorf("topic name %q is invalid: %w", name, err)
		}
		if _, found := topics.Catalog().Get(name); found {
			fmt.Fprintf(cmd.OutOrStdout(), "Topic %q is valid and registered\n", name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Topic %q is valid but not registered\n", name)
		}
		return nil
	},
}

func parseScope(s string) (topicmgr.Scope, error) {
	switch strings.ToLower(s) {
	case "framework":
		return topicmgr.ScopeFramework, nil
	case "module":
		return topicmgr.ScopeModule, nil
	default:
		return "", fmt.Errorf("invalid scope %q, valid scopes: framework, module", s)
	}
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd, topicsGetCmd, topicsValidateCmd)

	topicsCmd.PersistentFlags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsListCmd.Flags().StringVarP(&topicsScope, "scope", "s", "", "Filter topics by scope (framework, module)")
}
