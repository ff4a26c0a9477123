package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/dsl"
	"intent-engine/internal/intent/macro"
)

type intentSummary struct {
	ID        string `json:"id"`
	Terms     int    `json:"terms"`
	Mandatory int    `json:"mandatory"`
	Ordered   bool   `json:"ordered"`
}

type validateReport struct {
	Model    string          `json:"model"`
	Version  string          `json:"version"`
	Intents  []intentSummary `json:"intents"`
	Elements int             `json:"elements"`
	Synonyms int             `json:"synonyms"`
}

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a model and compile all of its intents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModel()
			if err != nil {
				return err
			}
			e, err := opts.buildEngine(m, conversation.Config{})
			if err != nil {
				return err
			}

			rep := validateReport{Model: m.ID, Version: m.Version, Elements: len(m.Elements)}
			for _, el := range m.Elements {
				rep.Synonyms += len(e.Synonyms(el.ID))
			}
			for _, tpl := range e.Templates() {
				rep.Intents = append(rep.Intents, intentSummary{
					ID:        tpl.ID,
					Terms:     len(tpl.Terms),
					Mandatory: tpl.MandatoryCount(),
					Ordered:   tpl.Ordered,
				})
			}

			return opts.print(cmd.OutOrStdout(), rep, func(w io.Writer) {
				fmt.Fprintf(w, "model %s@%s OK: %d intents, %d elements, %d synonyms\n",
					rep.Model, rep.Version, len(rep.Intents), rep.Elements, rep.Synonyms)
				for _, s := range rep.Intents {
					fmt.Fprintf(w, "  %-24s terms=%d mandatory=%d ordered=%t\n", s.ID, s.Terms, s.Mandatory, s.Ordered)
				}
			})
		},
	}
}

func newCompileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <intent-dsl>",
		Short: "Compile one intent and print its canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dsl.NewCompiler()
			if opts.modelPath != "" {
				m, err := opts.loadModel()
				if err != nil {
					return err
				}
				for _, f := range m.Fragments {
					if _, err := c.AddFragment(f); err != nil {
						return err
					}
				}
			}

			tpl, err := c.Compile(args[0])
			if err != nil {
				var ce *dsl.CompileError
				if errors.As(err, &ce) {
					return fmt.Errorf("%w\n%s", err, ce.Diagnostic())
				}
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]string{"id": tpl.ID, "template": tpl.String()}, func(w io.Writer) {
				fmt.Fprintln(w, tpl.String())
			})
		},
	}
}

func newExpandCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <text>",
		Short: "Expand macro text using the model's macros",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proc := macro.NewProcessor()
			if opts.modelPath != "" {
				m, err := opts.loadModel()
				if err != nil {
					return err
				}
				if _, err := m.ExpandSynonyms(proc); err != nil {
					return err
				}
			}

			out, err := proc.Expand(args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintln(w, strings.Join(out, "\n"))
			})
		},
	}
}
