// Package cli wires the filedepot commands.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/filedepot/filedepot/internal/access"
	"github.com/filedepot/filedepot/internal/cascade"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/depot"
	"github.com/filedepot/filedepot/internal/fsops"
	"github.com/filedepot/filedepot/internal/identity"
	"github.com/filedepot/filedepot/internal/mail"
	"github.com/filedepot/filedepot/internal/server"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/token"
	"github.com/filedepot/filedepot/internal/util"
)

type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

type rootState struct {
	configPath string
	dataDir    string
}

func NewRootCmd(v VersionInfo) *cobra.Command {
	state := &rootState{}

	cmd := &cobra.Command{
		Use:   "filedepot",
		Short: "Multi-user file depot with shares, groups and temporary links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, state)
		},
	}
	cmd.PersistentFlags().StringVar(&state.configPath, "config", "", "config path (default: platform user config)")
	cmd.PersistentFlags().StringVar(&state.dataDir, "data-dir", "", "data directory for SQLite and file trees")
	addServeFlags(cmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the depot server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, state)
		},
	}
	addServeFlags(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive first-run setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(state)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print config location and effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			fmt.Printf("Config path: %s\n", cfgPath)
			fmt.Printf("Data dir: %s\n", cfg.DataDir)
			if err := config.Validate(cfg); err != nil {
				fmt.Printf("Validation: failed (%v)\n", err)
			} else {
				fmt.Println("Validation: ok")
			}
			redacted := cfg
			if redacted.JWTSecret != "" {
				redacted.JWTSecret = "(set)"
			}
			if redacted.SMTP.Password != "" {
				redacted.SMTP.Password = "(set)"
			}
			b, _ := json.MarshalIndent(redacted, "", "  ")
			fmt.Println(string(b))
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("filedepot %s\ncommit: %s\nbuilt: %s\n", v.Version, v.Commit, v.Date)
		},
	}

	cmd.AddCommand(serveCmd, initCmd, configCmd,
		buildUserCommands(state), buildGroupCommands(state),
		buildTokenCommands(state), buildQuickShareCommands(state),
		buildAuditCommand(state), versionCmd)
	return cmd
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "server port")
	cmd.Flags().String("bind", "", "bind address (default from config, typically 0.0.0.0)")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error")
}

func loadConfig(state *rootState) (string, config.Config, error) {
	cfgPath := strings.TrimSpace(state.configPath)
	if cfgPath == "" {
		p, err := config.ConfigPathFromEnv()
		if err != nil {
			return "", config.Config{}, err
		}
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath, state.dataDir)
	if err != nil {
		return "", config.Config{}, err
	}
	return cfgPath, cfg, nil
}

// depotServices bundles the service graph CLI commands operate through,
// sharing one open store.
type depotServices struct {
	store   *store.Store
	fs      *fsops.FS
	users   *identity.Service
	tokens  *token.Ledger
	deleter *cascade.Coordinator
}

func openServices(cfg config.Config) (*depotServices, error) {
	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fs := fsops.New(cfg.RootDir)
	resolver := access.NewResolver(st, logger)
	sender := &mail.LogSender{Log: slog.New(slog.NewTextHandler(os.Stderr, nil))}
	ledger := token.NewLedger(st, resolver, sender, token.Config{
		TokenTTL:   config.Duration(cfg.TokenTTL, time.Hour),
		QuickTTL:   config.Duration(cfg.QuickShareExpiry, 24*time.Hour),
		BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		RateMax:    3,
		RateWindow: time.Hour,
	}, logger)
	return &depotServices{
		store:   st,
		fs:      fs,
		users:   identity.NewService(st, fs, sender, logger),
		tokens:  ledger,
		deleter: cascade.NewCoordinator(st, fs, logger),
	}, nil
}

func (s *depotServices) Close() error {
	return s.store.Close()
}

func runServe(cmd *cobra.Command, state *rootState) error {
	cfgPath, cfg, err := loadConfig(state)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("bind") {
		cfg.Bind, _ = cmd.Flags().GetString("bind")
	}
	if cmd.Flags().Changed("log-level") {
		lvl, _ := cmd.Flags().GetString("log-level")
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(lvl))
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	fmt.Printf("Config: %s\n", cfgPath)
	fmt.Printf("Data:   %s\n", cfg.DataDir)
	fmt.Printf("Files:  %s\n", cfg.RootDir)
	fmt.Println("URLs:")
	for _, u := range util.DiscoverURLs(cfg.Bind, cfg.Port) {
		fmt.Printf("  - %s\n", u)
	}
	fmt.Println("Press Ctrl+C to stop.")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return server.Run(ctx, cfg)
}

func runInit(state *rootState) error {
	cfgPath := strings.TrimSpace(state.configPath)
	if cfgPath == "" {
		p, err := config.ConfigPathFromEnv()
		if err != nil {
			return err
		}
		cfgPath = p
	}
	cfg, err := config.LoadOrDefault(cfgPath, state.dataDir)
	if err != nil {
		return err
	}

	r := bufio.NewReader(os.Stdin)
	fmt.Println("filedepot first-run setup")
	cfg.DataDir = askWithDefault(r, "Data directory", cfg.DataDir)
	cfg.RootDir = askWithDefault(r, "File tree directory", cfg.RootDir)
	cfg.Bind = askWithDefault(r, "Bind address", cfg.Bind)
	cfg.Port = askIntWithDefault(r, "Port", cfg.Port)
	cfg.BaseURL = askWithDefault(r, "Public base URL", cfg.BaseURL)
	cfg.TokenTTL = askWithDefault(r, "Ephemeral token TTL", cfg.TokenTTL)
	cfg.QuickShareExpiry = askWithDefault(r, "Quick share expiry", cfg.QuickShareExpiry)
	cfg.SMTP.Host = askWithDefault(r, "SMTP host (empty for log-only mail)", cfg.SMTP.Host)
	if cfg.SMTP.Host != "" {
		cfg.SMTP.Port = askIntWithDefault(r, "SMTP port", cfg.SMTP.Port)
		cfg.SMTP.From = askWithDefault(r, "SMTP from address", cfg.SMTP.From)
		cfg.SMTP.Username = askWithDefault(r, "SMTP username", cfg.SMTP.Username)
	}

	if cfg.JWTSecret == "" {
		secret, err := util.RandomToken(32)
		if err != nil {
			return err
		}
		cfg.JWTSecret = secret
		fmt.Println("Generated a new JWT signing secret.")
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Printf("Config saved to %s\n", cfgPath)
	fmt.Println("Run `filedepot serve` to start the depot.")
	return nil
}

func askWithDefault(r *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	text, _ := r.ReadString('\n')
	text = strings.TrimSpace(text)
	if text == "" {
		return def
	}
	return text
}

func askIntWithDefault(r *bufio.Reader, label string, def int) int {
	for {
		value := askWithDefault(r, label, strconv.Itoa(def))
		n, err := strconv.Atoi(value)
		if err == nil && n > 0 {
			return n
		}
		fmt.Println("Please enter a positive integer.")
	}
}

func promptPassword(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		return string(b), err
	}
	reader := bufio.NewReader(os.Stdin)
	text, err := reader.ReadString('\n')
	return strings.TrimSpace(text), err
}

func promptPasswordTwice(label string) (string, error) {
	first, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	second, err := promptPassword(label + " (confirm)")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if strings.TrimSpace(first) == "" {
		return "", errors.New("password cannot be empty")
	}
	return first, nil
}

func buildUserCommands(state *rootState) *cobra.Command {
	userCmd := &cobra.Command{Use: "user", Short: "User management"}
	email := ""

	addCmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user (verified immediately)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			pass, err := promptPasswordTwice("Password")
			if err != nil {
				return err
			}
			u, err := svc.users.Register(args[0], email, pass)
			if err != nil {
				return err
			}
			if err := svc.users.Verify(depot.ParseUserRef(u.Username), u.VerificationCode); err != nil {
				return err
			}
			fmt.Printf("created user %s <%s>\n", u.Username, u.Email)
			return nil
		},
	}
	addCmd.Flags().StringVar(&email, "email", "", "email address")
	_ = addCmd.MarkFlagRequired("email")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			users, err := svc.store.ListUsers()
			if err != nil {
				return err
			}
			for _, u := range users {
				status := "active"
				if u.Disabled {
					status = "disabled"
				} else if !u.Verified {
					status = "unverified"
				}
				fmt.Printf("%s\t%s\t%s\n", u.Username, u.Email, status)
			}
			return nil
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <username>",
		Short: "Delete a user and everything referencing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			u, err := svc.users.Resolve(depot.ParseUserRef(args[0]))
			if err != nil {
				return err
			}
			return svc.deleter.DeleteUser(u)
		},
	}

	passwdCmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a user password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			u, err := svc.users.Resolve(depot.ParseUserRef(args[0]))
			if err != nil {
				return err
			}
			pass, err := promptPasswordTwice("New password")
			if err != nil {
				return err
			}
			return svc.users.SetPassword(u.ID, pass)
		},
	}

	setDisabled := func(username string, disabled bool) error {
		_, cfg, err := loadConfig(state)
		if err != nil {
			return err
		}
		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		u, err := svc.users.Resolve(depot.ParseUserRef(username))
		if err != nil {
			return err
		}
		return svc.users.SetDisabled(u.ID, disabled)
	}
	disableCmd := &cobra.Command{
		Use:   "disable <username>",
		Short: "Disable a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setDisabled(args[0], true)
		},
	}
	enableCmd := &cobra.Command{
		Use:   "enable <username>",
		Short: "Enable a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setDisabled(args[0], false)
		},
	}

	userCmd.AddCommand(addCmd, listCmd, removeCmd, passwdCmd, disableCmd, enableCmd)
	return userCmd
}

func buildGroupCommands(state *rootState) *cobra.Command {
	groupCmd := &cobra.Command{Use: "group", Short: "Group management"}

	withActor := func(actorName string, fn func(*depotServices, store.User) error) error {
		_, cfg, err := loadConfig(state)
		if err != nil {
			return err
		}
		svc, err := openServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()
		actor, err := svc.users.Resolve(depot.ParseUserRef(actorName))
		if err != nil {
			return err
		}
		return fn(svc, actor)
	}

	actor := ""
	asAdmin := false

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a group; the acting user becomes its admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(actor, func(svc *depotServices, u store.User) error {
				g, err := svc.users.CreateGroup(u, args[0], "")
				if err != nil {
					return err
				}
				fmt.Printf("created group %s (id=%d)\n", g.Name, g.ID)
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a group and its share edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(actor, func(svc *depotServices, u store.User) error {
				return svc.deleter.DeleteGroup(u, args[0])
			})
		},
	}

	addMemberCmd := &cobra.Command{
		Use:   "add-member <group> <user>",
		Short: "Add a user to a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(actor, func(svc *depotServices, u store.User) error {
				return svc.users.AddMember(u, args[0], depot.ParseUserRef(args[1]), asAdmin)
			})
		},
	}
	addMemberCmd.Flags().BoolVar(&asAdmin, "admin", false, "add as group admin")

	removeMemberCmd := &cobra.Command{
		Use:   "remove-member <group> <user>",
		Short: "Remove a user from a group",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(actor, func(svc *depotServices, u store.User) error {
				return svc.users.RemoveMember(u, args[0], depot.ParseUserRef(args[1]))
			})
		},
	}

	membersCmd := &cobra.Command{
		Use:   "members <group>",
		Short: "List group members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(actor, func(svc *depotServices, u store.User) error {
				members, err := svc.users.Members(u, args[0])
				if err != nil {
					return err
				}
				for _, m := range members {
					role := "member"
					if m.IsAdmin {
						role = "admin"
					}
					fmt.Printf("%s\t%s\n", m.Username, role)
				}
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{createCmd, deleteCmd, addMemberCmd, removeMemberCmd, membersCmd} {
		c.Flags().StringVar(&actor, "as", "", "acting username")
		_ = c.MarkFlagRequired("as")
		groupCmd.AddCommand(c)
	}
	return groupCmd
}

func buildTokenCommands(state *rootState) *cobra.Command {
	tokenCmd := &cobra.Command{Use: "token", Short: "Ephemeral token maintenance"}

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "Purge expired tokens and quick shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			now := time.Now().UTC()
			tokens, err := svc.store.PurgeExpiredTokens(now)
			if err != nil {
				return err
			}
			quick, err := svc.store.PurgeExpiredQuickShares(now)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d tokens, %d quick shares\n", tokens, quick)
			return nil
		},
	}
	tokenCmd.AddCommand(gcCmd)
	return tokenCmd
}

func buildAuditCommand(state *rootState) *cobra.Command {
	limit := 100
	c := &cobra.Command{
		Use:   "audit",
		Short: "Show the most recent audit log entries across all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			rows, err := svc.store.ListAudit(limit)
			if err != nil {
				return err
			}
			for _, l := range rows {
				actor := "-"
				if l.ActorUserID != nil {
					actor = fmt.Sprintf("%d", *l.ActorUserID)
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", l.CreatedAt.Format(time.RFC3339), actor, l.Action, l.Target)
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 100, "maximum entries to show")
	return c
}

func buildQuickShareCommands(state *rootState) *cobra.Command {
	qsCmd := &cobra.Command{Use: "quickshare", Short: "Temporary download links"}
	actor := ""

	createCmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create a temporary download link for a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			u, err := svc.users.Resolve(depot.ParseUserRef(actor))
			if err != nil {
				return err
			}
			q, err := svc.tokens.CreateQuickShare(u, args[0])
			if err != nil {
				return err
			}
			url := svc.tokens.QuickShareURL(q.Token)
			fmt.Printf("Token:   %s\n", q.Token)
			fmt.Printf("URL:     %s\n", url)
			fmt.Printf("Expires: %s\n", q.ExpiresAt.Format(time.RFC3339))
			fmt.Println("QR (scan from phone on same LAN):")
			util.PrintTerminalQR(url)
			return nil
		},
	}
	createCmd.Flags().StringVar(&actor, "as", "", "acting username")
	_ = createCmd.MarkFlagRequired("as")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's quick shares",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig(state)
			if err != nil {
				return err
			}
			svc, err := openServices(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			u, err := svc.users.Resolve(depot.ParseUserRef(actor))
			if err != nil {
				return err
			}
			shares, err := svc.store.ListQuickShares(u.ID)
			if err != nil {
				return err
			}
			for _, q := range shares {
				fmt.Printf("%s\t%s\texpires %s\n", q.Token, q.FilePath, q.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&actor, "as", "", "acting username")
	_ = listCmd.MarkFlagRequired("as")

	qsCmd.AddCommand(createCmd, listCmd)
	return qsCmd
}
