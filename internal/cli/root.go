// Package cli implements the dseqr-aws command line.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/hms-dbmi/dseqr.aws/internal/application"
	"github.com/hms-dbmi/dseqr.aws/internal/domain"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/keyring"
)

// NewRootCommand returns the dseqr-aws command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(wiring{})
}

func newRootCommand(w wiring) *cobra.Command {
	opts := defaultOptions()
	command := &cobra.Command{
		Use:   "dseqr-aws [command] (flags)",
		Short: "Deploy dseqr to AWS.",
		Long: `Deploy dseqr to AWS as a load-balanced spot fleet or a single spot instance,
with a shared EFS file system and an optional custom domain.

Typical usage:
    dseqr-aws up --stack dev -c ssh_key_name=mykey
        Create or update stack dev as an autoscaling fleet.

    dseqr-aws up --stack demo -c ssh_key_name=mykey -c compute_strategy=spot -c expire_after=6
        Run a single spot instance that terminates itself after six hours.

    dseqr-aws render --config prod.yaml
        Print the resolved deployment graph and bootstrap script without provisioning.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	if w.Stderr == nil {
		w.Stderr = command.ErrOrStderr()
	}

	addPersistentFlags(command.PersistentFlags(), &opts)

	command.AddCommand(makeProvisionCommand(&opts, w, domain.ActionUp, "Create or update the stack."))
	command.AddCommand(makeProvisionCommand(&opts, w, domain.ActionPreview, "Show the changes an update would make."))
	command.AddCommand(makeProvisionCommand(&opts, w, domain.ActionDestroy, "Tear the stack down. A retained file system is kept."))
	command.AddCommand(makeRenderCommand(&opts))
	command.AddCommand(makeHistoryCommand(&opts, w))
	command.AddCommand(makePassphraseCommand(&opts))
	return command
}

func addPersistentFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVar(&opts.Stack, "stack", opts.Stack, "stack name")
	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "YAML file of flat key: value configuration")
	fs.StringArrayVarP(&opts.Overrides, "context", "c", nil, "configuration override key=value (repeatable)")
	fs.StringVar(&opts.Template, "template", opts.Template, "application configuration template")
	fs.StringVar(&opts.StateDB, "state-db", opts.StateDB, "SQLite file holding the deployment history")
	fs.StringVar(&opts.Engine, "engine", opts.Engine, "workflow engine: sync or durable")
	fs.StringVar(&opts.WorkflowDB, "workflow-db", opts.WorkflowDB, "SQLite file of the durable engine (empty keeps it in memory)")
	fs.StringVar(&opts.BackendURL, "backend-url", opts.BackendURL, "Pulumi state backend URL")
	fs.StringVar(&opts.Project, "project", opts.Project, "Pulumi project name")
	fs.BoolVar(&opts.SkipPreflight, "skip-preflight", opts.SkipPreflight, "do not verify referenced AWS resources before updating")
	fs.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level: debug, info, warn or error")
}

func makeProvisionCommand(opts *Options, w wiring, action domain.Action, short string) *cobra.Command {
	runCmdFunc := func(cmd *cobra.Command, _ []string) error {
		raw, err := LoadRaw(opts.ConfigPath, opts.Overrides)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), *opts, w)
		if err != nil {
			return err
		}
		defer a.Close()

		in := application.ProvisionInput{Stack: opts.Stack, Raw: raw, SkipPreflight: opts.SkipPreflight}
		var (
			rec domain.DeploymentRecord
			res domain.ProvisionResult
		)
		switch action {
		case domain.ActionUp:
			rec, res, err = a.deployments.Up(cmd.Context(), in)
		case domain.ActionPreview:
			rec, res, err = a.deployments.Preview(cmd.Context(), in)
		case domain.ActionDestroy:
			rec, res, err = a.deployments.Destroy(cmd.Context(), in)
		}
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), rec, res)
	}
	return &cobra.Command{
		Use:   string(action),
		Short: short,
		Args:  cobra.NoArgs,
		RunE:  runCmdFunc,
	}
}

func makeRenderCommand(opts *Options) *cobra.Command {
	var scriptOnly bool
	runCmdFunc := func(cmd *cobra.Command, _ []string) error {
		raw, err := LoadRaw(opts.ConfigPath, opts.Overrides)
		if err != nil {
			return err
		}
		graph, err := newResolver(*opts).Resolve(cmd.Context(), raw)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		script := graph.Topology.Machine().UserData.Render()
		if scriptOnly {
			_, err := io.WriteString(out, script)
			return err
		}
		data, err := yaml.Marshal(renderView{Graph: graph, Script: script})
		if err != nil {
			return errors.Wrap(err, "encode graph")
		}
		_, err = out.Write(data)
		return err
	}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the resolved deployment graph without provisioning.",
		Args:  cobra.NoArgs,
		RunE:  runCmdFunc,
	}
	cmd.Flags().BoolVar(&scriptOnly, "script", false, "print only the bootstrap script")
	return cmd
}

type renderView struct {
	Graph  domain.DeploymentGraph `yaml:"graph"`
	Script string                 `yaml:"script"`
}

func makeHistoryCommand(opts *Options, w wiring) *cobra.Command {
	runCmdFunc := func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), *opts, w)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.deployments.History(cmd.Context(), opts.Stack)
		if err != nil {
			return err
		}
		return printHistory(cmd.OutOrStdout(), recs)
	}
	return &cobra.Command{
		Use:   "history",
		Short: "List provisioning runs, most recent first. Without --stack, lists every stack.",
		Args:  cobra.NoArgs,
		RunE:  runCmdFunc,
	}
}

func makePassphraseCommand(opts *Options) *cobra.Command {
	command := &cobra.Command{
		Use:   "passphrase",
		Short: "Manage stack passphrases in the OS keyring.",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the secrets passphrase of --stack, read from the first line of stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := application.ValidateStackName(opts.Stack); err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return errors.Wrap(err, "read passphrase")
			}
			store := &keyring.Store{}
			if err := store.Set(opts.Stack, strings.TrimRight(line, "\r\n")); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "passphrase stored for stack %s\n", opts.Stack)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored passphrase of --stack.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := application.ValidateStackName(opts.Stack); err != nil {
				return err
			}
			return (&keyring.Store{}).Delete(opts.Stack)
		},
	}

	command.AddCommand(set, del)
	return command
}

func printResult(w io.Writer, rec domain.DeploymentRecord, res domain.ProvisionResult) error {
	fmt.Fprintf(w, "%s %s: %s", rec.Action, rec.Stack, rec.State)
	if rec.Strategy != "" {
		fmt.Fprintf(w, " (%s)", rec.Strategy)
	}
	fmt.Fprintln(w)
	if res.Summary != "" {
		fmt.Fprintf(w, "summary: %s\n", res.Summary)
	}
	keys := make([]string, 0, len(res.Outputs))
	for k := range res.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, res.Outputs[k])
	}
	return nil
}

func printHistory(w io.Writer, recs []domain.DeploymentRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTACK\tACTION\tSTRATEGY\tSTATE\tSTARTED\tERROR")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Stack, r.Action, r.Strategy, r.State,
			r.StartedAt.Format(time.RFC3339), firstLine(r.Error))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
