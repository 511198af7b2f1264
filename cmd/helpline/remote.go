package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"uk.co.dudmesh.helpline/internal/client"
	"uk.co.dudmesh.helpline/internal/history"
	"uk.co.dudmesh.helpline/internal/location"
	"uk.co.dudmesh.helpline/internal/model"
)

const defaultServer = "http://localhost:8080"

// remoteFlags are shared by the commands that talk to a running server.
type remoteFlags struct {
	server   string
	token    string
	email    string
	password string
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	server := os.Getenv("HELPLINE_SERVER")
	if server == "" {
		server = defaultServer
	}
	cmd.Flags().StringVar(&f.server, "server", server, "helpline server URL (env HELPLINE_SERVER)")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("HELPLINE_TOKEN"), "session token from signup or login (env HELPLINE_TOKEN)")
	cmd.Flags().StringVar(&f.email, "email", os.Getenv("HELPLINE_EMAIL"), "account email (env HELPLINE_EMAIL)")
	cmd.Flags().StringVar(&f.password, "password", os.Getenv("HELPLINE_PASSWORD"), "account password (env HELPLINE_PASSWORD)")
}

// login returns a client for the session token when one is given, and
// otherwise logs in with email and password.
func (f *remoteFlags) login(ctx context.Context) (*client.Client, error) {
	if f.token != "" {
		return client.New(f.server).WithToken(f.token), nil
	}
	if f.email == "" || f.password == "" {
		return nil, fmt.Errorf("--token or --email and --password are required")
	}
	c, _, err := client.New(f.server).Login(ctx, f.email, f.password)
	if err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}
	return c, nil
}

func newSubmitCmd() *cobra.Command {
	var remote remoteFlags
	var file string
	var latitude, longitude float64

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a recorded audio message",
		Long: `Uploads a WAV recording as the logged in reporting party and waits for it to be processed.

Pass --lat and --lon to tag the message with a location.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading recording: %w", err)
			}

			var loc *model.Location
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				loc, err = location.Current(cmd.Context(), location.Static{Latitude: latitude, Longitude: longitude})
				if err != nil {
					return err
				}
			}

			c, err := remote.login(cmd.Context())
			if err != nil {
				return err
			}
			message, err := c.Submit(cmd.Context(), audio, loc)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), message)
			return nil
		},
	}

	remote.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a WAV recording")
	cmd.Flags().Float64Var(&latitude, "lat", 0, "latitude of the caller")
	cmd.Flags().Float64Var(&longitude, "lon", 0, "longitude of the caller")
	cmd.MarkFlagRequired("file")
	return cmd
}

func printMessage(out io.Writer, m *model.Message) {
	fmt.Fprintf(out, "%s  %s  %s\n", m.ID, m.CreatedAt.Local().Format(time.DateTime), m.Status)
	if m.Location != nil {
		fmt.Fprintf(out, "  location:    %s  %s\n", location.Format(*m.Location), location.MapsURL(*m.Location))
	}
	if m.TranscriptionText != "" {
		fmt.Fprintf(out, "  transcribed: %s\n", m.TranscriptionText)
	}
	if m.TranslatedText != "" {
		fmt.Fprintf(out, "  translated:  %s\n", m.TranslatedText)
	}
	if m.ErrorMessage != "" {
		fmt.Fprintf(out, "  error:       %s\n", m.ErrorMessage)
	}
}

func newHistoryCmd() *cobra.Command {
	var remote remoteFlags
	var markRead bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show your messages and the replies to them",
		Long: `Prints your messages newest first with their replies. Unread replies are marked with *.

Pass --mark-read to mark every reply shown as read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.login(cmd.Context())
			if err != nil {
				return err
			}
			overview, err := c.History(cmd.Context())
			if err != nil {
				return err
			}
			printOverview(cmd.OutOrStdout(), overview)
			if !markRead {
				return nil
			}

			marked := 0
			for _, entry := range overview.Entries {
				for _, r := range entry.Responses {
					if r.IsRead {
						continue
					}
					if err := c.MarkRead(cmd.Context(), r.ID); err != nil {
						return fmt.Errorf("marking %s read: %w", r.ID, err)
					}
					marked++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nmarked %d replies read\n", marked)
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark unread replies as read")
	return cmd
}

func printOverview(out io.Writer, overview *history.Overview) {
	stats := overview.Stats
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "messages\t%d\n", stats.TotalMessages)
	fmt.Fprintf(tw, "responded\t%d (%d%%)\n", stats.RespondedMessages, stats.ResponseRate)
	fmt.Fprintf(tw, "awaiting reply\t%d\n", overview.Notifications.AwaitingResponse)
	fmt.Fprintf(tw, "average response\t%s\n", stats.AverageResponseTime)
	fmt.Fprintf(tw, "unread replies\t%d\n", overview.Notifications.UnreadResponses)
	tw.Flush()

	for i := range overview.Entries {
		entry := &overview.Entries[i]
		fmt.Fprintln(out)
		printMessage(out, &entry.Message)
		for _, r := range entry.Responses {
			marker := " "
			if !r.IsRead {
				marker = "*"
			}
			fmt.Fprintf(out, "  %s %s  %s\n", marker, r.SentAt.Local().Format(time.DateTime), r.Text)
		}
	}
}

func newRespondCmd() *cobra.Command {
	var remote remoteFlags

	cmd := &cobra.Command{
		Use:   "respond MESSAGE_ID TEXT",
		Short: "Reply to a message as an operator",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.login(cmd.Context())
			if err != nil {
				return err
			}
			response, err := c.Respond(cmd.Context(), model.MessageID(args[0]), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", response.ID, response.UserID)
			return nil
		},
	}
	remote.register(cmd)
	return cmd
}

func newMessagesCmd() *cobra.Command {
	var remote remoteFlags

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List messages",
		Long:  `Operators see every message, reporting parties see their own. Newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := remote.login(cmd.Context())
			if err != nil {
				return err
			}
			messages, err := c.Messages(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := range messages {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printMessage(out, &messages[i])
			}
			return nil
		},
	}
	remote.register(cmd)
	return cmd
}

func newSignupCmd() *cobra.Command {
	var remote remoteFlags
	params := &model.SignupParams{}

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account on a running server",
		Long: `Signs up and prints the session token. Export it as HELPLINE_TOKEN to skip logging in
on later commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Email = remote.email
			params.Password = remote.password
			if params.Email == "" || params.Password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			c, user, err := client.New(remote.server).Signup(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed up %s as %s\ntoken: %s\n", user.Email, user.Role, c.Token())
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().StringVar((*string)(&params.Role), "role", string(model.RoleUser), "user or agent")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var remote remoteFlags

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote.token == "" {
				return fmt.Errorf("--token is required")
			}
			c, err := remote.login(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
	remote.register(cmd)
	return cmd
}
