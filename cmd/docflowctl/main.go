package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	httpadapter "github.com/kirillkom/docflow/internal/adapters/http"
	"github.com/kirillkom/docflow/internal/bootstrap"
	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/infrastructure/importer"
	"github.com/kirillkom/docflow/internal/infrastructure/rules/yamlrules"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(config.Load())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "docflowctl: %v\n", err)
		os.Exit(1)
	}
}

type cli struct {
	cfg config.Config
	// open builds the application graph; tests swap it for an in-memory one.
	open func(ctx context.Context, cfg config.Config) (*bootstrap.App, error)
}

func newRootCommand(cfg config.Config) *cobra.Command {
	return newRootCommandWith(&cli{cfg: cfg, open: openApp})
}

func newRootCommandWith(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docflowctl",
		Short: "Docflow administration CLI",
		Long: `docflowctl works against the same storage as the API: it checks and dumps
rule tables, imports documents, manages roles, drives transitions and mints
operator tokens.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		c.newRulesCmd(),
		c.newImportCmd(),
		c.newRolesCmd(),
		c.newTransitionsCmd(),
		c.newTransitionCmd(),
		c.newTokenCmd(),
	)
	return cmd
}

func openApp(ctx context.Context, cfg config.Config) (*bootstrap.App, error) {
	return bootstrap.New(ctx, cfg, bootstrap.Options{Service: "docflowctl"})
}

func (c *cli) withApp(cmd *cobra.Command, fn func(app *bootstrap.App) error) error {
	app, err := c.open(cmd.Context(), c.cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	err = fn(app)
	app.Workflow.Wait()
	return err
}

func (c *cli) newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect transition rule tables",
	}

	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the active rule table as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := yamlrules.Load(c.cfg.RulesFile)
			if err != nil {
				return err
			}
			raw, err := yamlrules.Marshal(table.Rules())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}

	check := &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a rules file without loading it into a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := yamlrules.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules ok\n", args[0], len(table.Rules()))
			return nil
		},
	}

	cmd.AddCommand(dump, check)
	return cmd
}

func (c *cli) newImportCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create draft documents from a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := importer.ParseFile(f, args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(app *bootstrap.App) error {
				report, err := app.Importer.Import(cmd.Context(), actor, rows)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Actor performing the import")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) newRolesCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage role assignments",
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "Actor performing the change")

	assign := &cobra.Command{
		Use:   "assign USER ROLE",
		Short: "Grant a role to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *bootstrap.App) error {
				if err := app.Roles.Assign(cmd.Context(), actor, args[0], domain.NormalizeRole(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "assigned %s to %s\n", domain.NormalizeRole(args[1]), args[0])
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke USER ROLE",
		Short: "Revoke a role from a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *bootstrap.App) error {
				if err := app.Roles.Revoke(cmd.Context(), actor, args[0], domain.NormalizeRole(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", domain.NormalizeRole(args[1]), args[0])
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show USER",
		Short: "Print a user's effective roles and capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *bootstrap.App) error {
				access, err := app.Roles.Effective(cmd.Context(), actor, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"user_id":      args[0],
					"roles":        access.RoleList(),
					"capabilities": access.CapabilityList(),
				})
			})
		},
	}

	cmd.AddCommand(assign, revoke, show)
	return cmd
}

func (c *cli) newTransitionsCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "transitions DOCUMENT",
		Short: "List the transitions an actor may perform on a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(app *bootstrap.App) error {
				rules, err := app.Workflow.AllowedTransitions(cmd.Context(), actor, args[0])
				if err != nil {
					return err
				}
				for _, rule := range rules {
					fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\t%s\n", rule.From, rule.To, rule.Description)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Actor to evaluate")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) newTransitionCmd() *cobra.Command {
	var (
		actor    string
		comment  string
		expected string
	)
	cmd := &cobra.Command{
		Use:   "transition DOCUMENT STATUS",
		Short: "Move a document to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseDocumentStatus(args[1])
			if err != nil {
				return err
			}
			req := domain.TransitionRequest{
				DocumentID: args[0],
				ToStatus:   to,
				ActorID:    actor,
				Comment:    comment,
			}
			if strings.TrimSpace(expected) != "" {
				if req.ExpectedStatus, err = domain.ParseDocumentStatus(expected); err != nil {
					return err
				}
			}
			return c.withApp(cmd, func(app *bootstrap.App) error {
				doc, err := app.Workflow.Execute(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (version %s)\n", doc.ID, doc.Status, doc.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "Actor performing the transition")
	cmd.Flags().StringVar(&comment, "comment", "", "Transition comment")
	cmd.Flags().StringVar(&expected, "expect", "", "Fail unless the document is currently in this status")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func (c *cli) newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token ACTOR",
		Short: "Mint a bearer token for an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth := httpadapter.NewAuthenticator(c.cfg.JWTSecret, c.cfg.JWTIssuer)
			token, err := auth.IssueToken(args[0], ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
