package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apperrors "intent-engine/internal/common/errors"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/engine"
)

// turnOutcome is one replayed turn as printed by resolve.
type turnOutcome struct {
	Turn         int                 `json:"turn"`
	SessionID    string              `json:"sessionId"`
	IntentID     string              `json:"intentId,omitempty"`
	VariantIndex int                 `json:"variantIndex"`
	Terms        map[string][]string `json:"terms,omitempty"`
	Score        string              `json:"score,omitempty"`
	ErrorCode    string              `json:"errorCode,omitempty"`
	Error        string              `json:"error,omitempty"`
}

func newResolveCmd(opts *options) *cobra.Command {
	var (
		session string
		depth   int
		timeout time.Duration
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "resolve <turns.json>",
		Short: "Replay a conversation against a model",
		Long: `Replay a conversation against a model. The turns file is a JSON array of
requests: [{"sessionId": "s1", "variants": [{"entities": [{"id": "weather"}]}]}].
Turns without a sessionId use --session. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			turns, err := readTurns(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			m, err := opts.loadModel()
			if err != nil {
				return err
			}
			e, err := opts.buildEngine(m, conversation.Config{Depth: depth, Timeout: timeout})
			if err != nil {
				return err
			}

			failed := 0
			outcomes := make([]turnOutcome, 0, len(turns))
			for i, req := range turns {
				if req.SessionID == "" {
					req.SessionID = session
				}
				out := turnOutcome{Turn: i + 1, SessionID: req.SessionID, VariantIndex: -1}

				res, err := e.Resolve(cmd.Context(), req)
				if err != nil {
					failed++
					out.ErrorCode = string(apperrors.FromError(err).Code)
					out.Error = err.Error()
				} else {
					out.IntentID = res.IntentID
					out.VariantIndex = res.VariantIndex
					out.Score = res.Score.String()
					out.Terms = termLabels(res)
				}
				outcomes = append(outcomes, out)
			}

			if err := opts.print(cmd.OutOrStdout(), outcomes, func(w io.Writer) {
				for _, o := range outcomes {
					if o.ErrorCode != "" {
						fmt.Fprintf(w, "%d [%s] %s\n", o.Turn, o.SessionID, o.ErrorCode)
						continue
					}
					fmt.Fprintf(w, "%d [%s] %s variant=%d %s\n", o.Turn, o.SessionID, o.IntentID, o.VariantIndex, formatTerms(o.Terms))
				}
			}); err != nil {
				return err
			}

			if strict && failed > 0 {
				return fmt.Errorf("%d of %d turns did not resolve", failed, len(turns))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "cli", "Default session id")
	cmd.Flags().IntVar(&depth, "depth", conversation.DefaultDepth, "Turns an entity is remembered for")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Conversation idle timeout (0 disables)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any turn fails to resolve")
	return cmd
}

func readTurns(stdin io.Reader, path string) ([]engine.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}

	var turns []engine.Request
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("parse turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, errors.New("turns file holds no requests")
	}
	return turns, nil
}

func termLabels(res *engine.Result) map[string][]string {
	out := make(map[string][]string, len(res.Terms))
	for name, ents := range res.Terms {
		labels := make([]string, len(ents))
		for i, ent := range ents {
			labels[i] = ent.String()
			if ent.IsConversation() {
				labels[i] += "~"
			}
		}
		out[name] = labels
	}
	return out
}

func formatTerms(terms map[string][]string) string {
	names := make([]string, 0, len(terms))
	for name := range terms {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+strings.Join(terms[name], ","))
	}
	return strings.Join(parts, " ")
}
