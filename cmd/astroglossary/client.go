package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/client"
	"github.com/hypergopher/astroglossary/localcache"
	"github.com/hypergopher/astroglossary/offline"
	"github.com/hypergopher/astroglossary/syncer"
)

// session is an open client: the remote, the local cache and the controller tying them together.
type session struct {
	remote *client.Client
	cache  *localcache.Cache
	ctrl   *syncer.Controller
}

func (s *session) Close() error {
	return s.cache.Close()
}

func (a *app) openSession(out io.Writer) (*session, error) {
	cache, err := localcache.Open(a.cfg.Client.CachePath, a.logger)
	if err != nil {
		return nil, err
	}

	remote := client.New(client.Options{
		BaseURL: a.cfg.Client.BaseURL,
		Timeout: a.cfg.Client.Timeout,
		Logger:  a.logger,
	})

	ctrl, err := syncer.New(syncer.Options{
		Remote: remote,
		Cache:  cache,
		Queue: offline.NewQueue(offline.Options{
			Store:      cache,
			MaxRetries: a.cfg.Client.MaxRetries,
			Logger:     a.logger,
		}),
		PageSize:       a.cfg.Client.PageSize,
		HealthInterval: a.cfg.Client.HealthInterval,
		OnAlert: func(err error) {
			fmt.Fprintf(out, "! %v\n", err)
		},
		Logger: a.logger,
	})
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	return &session{remote: remote, cache: cache, ctrl: ctrl}, nil
}

// withSession opens a session, probes the server, and runs fn.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	s, err := a.openSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.ctrl.CheckHealth(ctx); err != nil {
		return err
	}
	return fn(ctx, s)
}

func clientCmds(a *app) []*cobra.Command {
	return []*cobra.Command{
		loginCmd(a),
		logoutCmd(a),
		typesCmd(a),
		listCmd(a),
		showCmd(a),
		addCmd(a),
		editCmd(a),
		deleteCmd(a),
		flushCmd(a),
		statsCmd(a),
		statusCmd(a),
		flaggedCmd(a),
	}
}

func loginCmd(a *app) *cobra.Command {
	var user astroglossary.User
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the user and bearer token used for changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return errors.New("--token is required")
			}
			s, err := a.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ctrl.Login(user, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", displayName(user))
			return nil
		},
	}

	cmd.Flags().StringVar(&user.ID, "user-id", "", "User ID")
	cmd.Flags().StringVar(&user.Username, "username", "", "Username")
	cmd.Flags().StringVar(&user.Email, "email", "", "Email")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored user and token",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			return s.ctrl.Logout()
		},
	}
}

func typesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the post types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.ctrl.FetchTypes(ctx); err != nil {
					return err
				}
				for _, t := range s.ctrl.Snapshot().Types {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}
}

func listCmd(a *app) *cobra.Command {
	var (
		search   string
		types    []string
		pageSize int
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.ctrl.FetchTypes(ctx); err != nil {
					return err
				}

				reducers := []func(syncer.State) syncer.State{
					func(st syncer.State) syncer.State { return st.WithSearch(search) },
				}
				if cmd.Flags().Changed("types") {
					checked := astroglossary.CheckedTypes{}
					for _, t := range types {
						checked[t] = true
					}
					reducers = append(reducers, func(st syncer.State) syncer.State { return st.WithCheckedTypes(checked) })
				}
				if pageSize > 0 {
					reducers = append(reducers, func(st syncer.State) syncer.State { return st.WithPageSize(pageSize) })
				}

				if err := s.ctrl.Apply(ctx, reducers...); err != nil {
					return err
				}

				for all {
					more, err := s.ctrl.LoadMore(ctx)
					if err != nil {
						return err
					}
					if !more {
						break
					}
				}

				st := s.ctrl.Snapshot()
				printPosts(cmd.OutOrStdout(), s.ctrl.Visible())
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d posts", len(st.Posts), st.Cursor.Total)
				if msg := st.StatusMessage(); msg != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " (%s)", msg)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&search, "search", "s", "", "Only posts whose title contains this text")
	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Only posts of these types")
	cmd.Flags().IntVarP(&pageSize, "page-size", "n", 0, fmt.Sprintf("Posts per page %v", astroglossary.PageSizes))
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Load every page")
	return cmd
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				post, err := s.remote.Post(ctx, args[0])
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "ID\t%s\n", post.ID)
				fmt.Fprintf(w, "Title\t%s\n", post.Title)
				fmt.Fprintf(w, "Type\t%s\n", post.Type)
				fmt.Fprintf(w, "Subject\t%s\n", post.Subject)
				fmt.Fprintf(w, "Source\t%s\n", post.Source)
				fmt.Fprintf(w, "Date\t%s\n", post.Date.Format(time.DateOnly))
				if post.Username != "" {
					fmt.Fprintf(w, "Posted by\t%s\n", post.Username)
				}
				return w.Flush()
			})
		},
	}
}

func addCmd(a *app) *cobra.Command {
	var (
		post astroglossary.Post
		date string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a post",
		RunE: func(cmd *cobra.Command, args []string) error {
			if post.ID == "" {
				post.ID = astroglossary.NewPostID(post.Title)
			}

			post.Date = time.Now().UTC().Truncate(time.Second)
			if date != "" {
				d, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("%w: %s", astroglossary.ErrInvalidDate, date)
				}
				post.Date = d
			}

			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if sess, ok := s.ctrl.Session(); ok && post.UserID == "" {
					post.UserID = sess.User.ID
				}
				if err := s.ctrl.FetchTypes(ctx); err != nil {
					return err
				}
				if err := s.ctrl.AddPost(ctx, &post); err != nil {
					return err
				}
				return reportWrite(cmd.OutOrStdout(), s, "added "+post.ID)
			})
		},
	}

	cmd.Flags().StringVar(&post.ID, "id", "", "Post ID (default generated from the title)")
	cmd.Flags().StringVar(&post.Title, "title", "", "Title")
	cmd.Flags().StringVar(&post.Type, "type", "", "Type")
	cmd.Flags().StringVar(&post.Subject, "subject", "", "Subject pictured")
	cmd.Flags().StringVar(&post.Source, "source", "", "Image URL")
	cmd.Flags().StringVar(&date, "date", "", "Date as YYYY-MM-DD (default today)")
	return cmd
}

func editCmd(a *app) *cobra.Command {
	var title, typ, subject string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title, type or subject of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.ctrl.Load(ctx); err != nil {
					return err
				}

				post, err := findPost(ctx, s, args[0])
				if err != nil {
					return err
				}

				if cmd.Flags().Changed("title") {
					post.Title = title
				}
				if cmd.Flags().Changed("type") {
					post.Type = typ
				}
				if cmd.Flags().Changed("subject") {
					post.Subject = subject
				}

				if err := s.ctrl.UpdatePost(ctx, post); err != nil {
					return err
				}
				return reportWrite(cmd.OutOrStdout(), s, "updated "+post.ID)
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&typ, "type", "", "New type")
	cmd.Flags().StringVar(&subject, "subject", "", "New subject")
	return cmd
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.ctrl.DeletePost(ctx, args[0]); err != nil {
					return err
				}
				return reportWrite(cmd.OutOrStdout(), s, "deleted "+args[0])
			})
		},
	}
}

func flushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay changes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if msg := s.ctrl.Snapshot().StatusMessage(); msg != "" {
					return errors.New(msg)
				}

				report, err := s.ctrl.Flush(ctx)
				if err != nil {
					return err
				}
				for _, ferr := range report.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "dropped: %v\n", ferr)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d, dropped %d\n", report.Replayed, report.Failed)
				return nil
			})
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count posts by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.ctrl.FetchTypes(ctx); err != nil {
					return err
				}

				counts, err := s.remote.Stats(ctx)
				if client.IsOffline(err) {
					// fall back to whatever is cached
					if err = s.ctrl.Refresh(ctx); err == nil {
						counts = s.ctrl.TypeCounts()
					}
				}
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				for _, t := range s.ctrl.Snapshot().Types {
					fmt.Fprintf(w, "%s\t%d\n", t, counts[t])
				}
				return w.Flush()
			})
		},
	}
}

func flaggedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flagged",
		Short: "List users flagged for review (admins only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				users, err := s.remote.FlaggedUsers(ctx)
				if err != nil {
					return err
				}

				if len(users) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no flagged users")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tROLE\tEMAIL\tREASON\tFLAGGED")
				for _, u := range users {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.Username, u.Role, u.Email, u.Reason, u.FlaggedAt.Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, sign-in and queued changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				out := cmd.OutOrStdout()

				msg := s.ctrl.Snapshot().StatusMessage()
				if msg == "" {
					msg = "Online"
				}
				fmt.Fprintf(out, "server:  %s (%s)\n", a.cfg.Client.BaseURL, msg)

				if sess, ok := s.ctrl.Session(); ok {
					fmt.Fprintf(out, "user:    %s\n", displayName(sess.User))
				} else {
					fmt.Fprintln(out, "user:    not signed in")
				}

				pending, err := s.ctrl.Pending()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "queued:  %d\n", len(pending))
				for _, op := range pending {
					fmt.Fprintf(out, "  %s %s\n", op.Method, op.ID)
				}
				return nil
			})
		},
	}
}

// findPost looks a post up on the server, or in the loaded collection when the server is unreachable.
func findPost(ctx context.Context, s *session, id string) (*astroglossary.Post, error) {
	post, err := s.remote.Post(ctx, id)
	if err == nil {
		return &post.Post, nil
	}
	if !client.IsOffline(err) {
		return nil, err
	}

	for _, p := range s.ctrl.Snapshot().Posts {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", astroglossary.ErrPostNotFound, id)
}

func reportWrite(out io.Writer, s *session, done string) error {
	if msg := s.ctrl.Snapshot().StatusMessage(); msg != "" {
		fmt.Fprintf(out, "%s (queued: %s)\n", done, msg)
		return nil
	}
	fmt.Fprintln(out, done)
	return nil
}

func printPosts(out io.Writer, posts []*astroglossary.Post) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTYPE\tSUBJECT\tDATE")
	for _, p := range posts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Title, p.Type, truncate(p.Subject, 40), p.Date.Format(time.DateOnly))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func displayName(u astroglossary.User) string {
	if u.Username != "" {
		return u.Username
	}
	if u.ID != "" {
		return u.ID
	}
	return "anonymous"
}
