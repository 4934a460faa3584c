package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/vidsum/internal/config"
	"github.com/kalambet/vidsum/internal/session"
	"github.com/kalambet/vidsum/internal/storage"
	"github.com/kalambet/vidsum/internal/textfmt"
	"github.com/kalambet/vidsum/internal/video"
)

func clientFor(cmd *cobra.Command) (*apiClient, error) {
	name := ""
	if f := cmd.Flag("session"); f != nil {
		name = f.Value.String()
	}
	return newAPIClient(name)
}

// messageResponse is the {"message": ...} shape returned by the
// summarization service and /questions.
type messageResponse struct {
	Message string `json:"message"`
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary <youtube-url>",
	Short: "Fetch a video summary through the proxy",
	Long: `Fetch a video summary through the server's proxy without touching any
conversation session.

Examples:
  vidsum summary https://youtu.be/dQw4w9WgXcQ
  vidsum summary --length 500 "https://www.youtube.com/watch?v=dQw4w9WgXcQ"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		length, _ := cmd.Flags().GetInt("length")
		raw, _ := cmd.Flags().GetBool("raw")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		msg, err := fetchSummary(cmd.Context(), client, args[0], length)
		if err != nil {
			return err
		}
		printMessage(msg, raw)
		return nil
	},
}

func init() {
	summaryCmd.Flags().Int("length", 300, "maximum summary length sent to the service")
	summaryCmd.Flags().Bool("raw", false, "print the service's markup unchanged")
}

// summaryProxyPath builds the /proxy request for a summary of rawURL.
func summaryProxyPath(rawURL string, length int) (string, error) {
	ref, err := video.Parse(rawURL)
	if err != nil {
		return "", err
	}
	rel := "/summary/?code=" + url.QueryEscape(ref.URL) + "&count=" + strconv.Itoa(length)
	return "/proxy?url=" + url.QueryEscape(rel), nil
}

func fetchSummary(ctx context.Context, client *apiClient, rawURL string, length int) (string, error) {
	path, err := summaryProxyPath(rawURL, length)
	if err != nil {
		return "", err
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return "", err
	}
	var out messageResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func printMessage(msg string, raw bool) {
	if !raw {
		msg = textfmt.PlainText(msg)
	}
	fmt.Fprintln(stdout, msg)
}

// --- questions ---

var questionsCmd = &cobra.Command{
	Use:   "questions <youtube-url>",
	Short: "Generate quiz questions for a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		if _, err := video.Parse(args[0]); err != nil {
			return err
		}

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/questions?url="+url.QueryEscape(args[0]))
		if err != nil {
			return err
		}
		var out messageResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printMessage(out.Message, raw)
		return nil
	},
}

func init() {
	questionsCmd.Flags().Bool("raw", false, "print the service's markup unchanged")
}

// --- load / ask / reset ---

var loadCmd = &cobra.Command{
	Use:   "load <youtube-url>",
	Short: "Load a video into the conversation session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		printStep("Fetching summary...")
		resp, err := client.post(cmd.Context(), "/session/video", map[string]string{"url": args[0]})
		if err != nil {
			return err
		}
		var out struct {
			VideoRef string `json:"video_ref"`
			VideoID  string `json:"video_id"`
			WatchURL string `json:"watch_url"`
			Summary  string `json:"summary"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Loaded %s (%s)", out.VideoID, out.WatchURL)
		printMessage(out.Summary, false)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the loaded video",
	Long: `Ask a question about the loaded video. The words are joined into one
question.

Examples:
  vidsum ask what is the main argument
  vidsum --session work ask "how does it end?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/session/ask", map[string]string{"question": question})
		if err != nil {
			return err
		}
		var turn session.Turn
		if err := decodeJSON(resp, &turn); err != nil {
			return err
		}
		fmt.Fprintln(stdout, turn.Content)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the loaded video and conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/session")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Session reset")
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the conversation session",
}

// sessionView mirrors api.SessionView.
type sessionView struct {
	Session  string         `json:"session"`
	VideoRef string         `json:"video_ref"`
	VideoID  string         `json:"video_id"`
	Ready    bool           `json:"ready"`
	Turns    []session.Turn `json:"turns"`
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the loaded video and conversation turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		showSystem, _ := cmd.Flags().GetBool("system")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/session")
		if err != nil {
			return err
		}
		var view sessionView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}
		renderSession(view, showSystem)
		return nil
	},
}

func renderSession(view sessionView, showSystem bool) {
	printStatus("Session", "%s", view.Session)
	if view.Ready {
		printStatus("Video", "%s", view.VideoRef)
	} else {
		printStatus("Video", "none loaded")
	}
	for _, t := range view.Turns {
		if t.Role == "system" && !showSystem {
			continue
		}
		printTurn(t.Role, t.Content, t.Failed)
	}
}

func init() {
	sessionShowCmd.Flags().Bool("json", false, "print the raw session JSON")
	sessionShowCmd.Flags().Bool("system", false, "include the system seed turn")
	sessionCmd.AddCommand(sessionShowCmd)
}

// --- summaries ---

var summariesCmd = &cobra.Command{
	Use:   "summaries",
	Short: "Inspect the summary cache",
}

var summariesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached summaries, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/summaries?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var records []storage.SummaryRecord
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(stdout, "No cached summaries.")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(stdout, "%s  %s  %s\n",
				colorize(colorCyan, r.VideoRef),
				r.UpdatedAt.Format("2006-01-02 15:04"),
				truncate(strings.ReplaceAll(textfmt.PlainText(r.Summary), "\n", " "), 80),
			)
		}
		return nil
	},
}

func init() {
	summariesListCmd.Flags().Int("limit", 20, "maximum number of records")
	summariesListCmd.Flags().Int("offset", 0, "records to skip")
	summariesCmd.AddCommand(summariesListCmd)
}

// --- prefetch ---

var prefetchCmd = &cobra.Command{
	Use:   "prefetch <youtube-url>...",
	Short: "Queue summaries to be fetched in the background",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, a := range args {
			if _, err := video.Parse(a); err != nil {
				return fmt.Errorf("%s: %w", a, err)
			}
		}

		client, err := clientFor(cmd)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/summaries/prefetch", map[string][]string{"urls": args})
		if err != nil {
			return err
		}
		var out struct {
			Queued []struct {
				URL   string `json:"url"`
				JobID string `json:"job_id"`
			} `json:"queued"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		for _, q := range out.Queued {
			printSuccess("Queued %s (job %s)", q.URL, q.JobID)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		if err := cfg.Validate(); err != nil {
			printWarning("configuration is incomplete: %v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Secret keys are stored in the platform keychain.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
