package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"campusbot/internal/domain"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Ask the assistant a single question",
	Long: `Route one message through the assistant and print the reply.

Examples:
  campusbot ask "hello"
  campusbot ask "final year students"
  campusbot ask "download the pdf dbms" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the reply as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.newRouter(ctx).Route(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}

	if reply.Kind == domain.ReplyDownload {
		fmt.Println(filepath.Join(a.docsDir, filepath.FromSlash(reply.Filename)))
		return nil
	}
	fmt.Println(reply.Text)
	return nil
}
