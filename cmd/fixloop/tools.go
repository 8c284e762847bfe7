package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/avi3tal/fixloop/internal/toolclient"
	"github.com/avi3tal/fixloop/internal/tools"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Serve or use the calculator tools",
}

var toolsServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over REST and MCP",
	Long: `Serves the calculator tools on tools.addr:

- GET  /mcp/tools          lists the tool definitions
- POST /mcp/tools/{name}   calls a tool with a JSON object of arguments
- GET  /sse, POST /message Model Context Protocol over Server-Sent Events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		addr := e.cfg.Tools.Addr
		if cmd.Flags().Changed("addr") {
			addr, _ = cmd.Flags().GetString("addr")
		}
		opts := []tools.ServerOption{tools.WithLogger(e.logger), tools.WithVersion(Version)}
		if publicURL, _ := cmd.Flags().GetString("public-url"); publicURL != "" {
			opts = append(opts, tools.WithBaseURL(publicURL))
		}
		return tools.NewServer(addr, tools.Default(), opts...).ListenAndServe(cmd.Context())
	},
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tools of a running tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		defs, err := e.toolClient().Tools(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, def := range defs {
			fmt.Fprintf(w, "%s: %s\n", def.Name, def.Description)
			for _, name := range def.InputSchema.Required {
				fmt.Fprintf(w, "  - %s\n", name)
			}
		}
		return nil
	},
}

var toolsAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question, calling the tools the model picks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		model, err := e.model()
		if err != nil {
			return err
		}
		agent := toolclient.NewAgent(model, e.toolClient())
		ans, err := agent.Ask(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			for _, call := range ans.Calls {
				fmt.Fprintf(w, "[%s] %s\n", call.Tool, call.JSON())
			}
		}
		fmt.Fprintln(w, ans.Text)
		return nil
	},
}

func (e *env) toolClient() *toolclient.Client {
	return toolclient.New(e.cfg.Tools.BaseURL,
		toolclient.WithCacheTTL(e.cfg.Tools.CacheTTL),
		toolclient.WithCallObserver(e.metrics.ToolCalled),
		toolclient.WithLogger(e.logger),
	)
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsServeCmd, toolsListCmd, toolsAskCmd)

	toolsServeCmd.Flags().String("addr", "", "Listen address (defaults to tools.addr)")
	toolsServeCmd.Flags().String("public-url", "", "URL MCP clients reach this server on")
	toolsAskCmd.Flags().BoolP("verbose", "v", false, "Print each tool call and its result")
}
