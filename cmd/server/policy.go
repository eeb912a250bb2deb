package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/ahmetk3436/autoremedy/internal/policy"
	"github.com/spf13/cobra"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect remediation policy files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a policy file against the embedded defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := policy.Parse(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			printPolicy(cmd, p)
			return nil
		},
	})
	return cmd
}

func printPolicy(cmd *cobra.Command, p *policy.Policy) {
	out := cmd.OutOrStdout()
	envs := make([]string, 0, len(p.Thresholds))
	for env := range p.Thresholds {
		envs = append(envs, env)
	}
	sort.Strings(envs)
	templates := make([]string, 0, len(p.Templates))
	for name := range p.Templates {
		templates = append(templates, name)
	}
	sort.Strings(templates)

	fmt.Fprintln(out, "policy ok")
	fmt.Fprintf(out, "  environments: %v\n", envs)
	fmt.Fprintf(out, "  templates:    %v\n", templates)
	fmt.Fprintf(out, "  rules:        %d\n", len(p.Rules))
	fmt.Fprintf(out, "  approved:     %v\n", p.Compliance.ApprovedActions)
}
