package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zjrosen/vimpilot/internal/keys"
)

var keysTokens bool

var keysCmd = &cobra.Command{
	Use:   "keys <sequence>...",
	Short: "Show how a key sequence is encoded for the editor",
	Long: `Print the keystroke expression a sequence is turned into before it is
fed to the editor. Symbolic keys such as <CR> or <C-w> become special keys;
everything else is typed literally.

Examples:
  vimpilot keys 'ihello<CR>world<Esc>'
  vimpilot keys --tokens ':%s/a/b/<CR>'`,
	Args: cobra.MinimumNArgs(1),
	Annotations: map[string]string{
		skipConfig: "true",
	},
	RunE: runKeys,
}

func init() {
	keysCmd.Flags().BoolVarP(&keysTokens, "tokens", "t", false, "list the literal and symbolic tokens instead")
	rootCmd.AddCommand(keysCmd)
}

func runKeys(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !keysTokens {
		_, _ = fmt.Fprintln(out, keys.Encode(args...))
		return nil
	}
	for _, tok := range keys.Tokenize(strings.Join(args, "")) {
		kind := "literal"
		if tok.Symbolic {
			kind = "symbolic"
		}
		_, _ = fmt.Fprintf(out, "%-8s  %q\n", kind, tok.Text)
	}
	return nil
}
