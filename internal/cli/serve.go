package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hardspoon/chatsemble/internal/agent"
	"github.com/hardspoon/chatsemble/internal/config"
	"github.com/hardspoon/chatsemble/internal/directory"
	"github.com/hardspoon/chatsemble/internal/gateway"
	"github.com/hardspoon/chatsemble/internal/hooks"
	"github.com/hardspoon/chatsemble/internal/llm"
	"github.com/hardspoon/chatsemble/internal/room"
	"github.com/hardspoon/chatsemble/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			// Persistence (SQLite or in-memory)
			var roomStore room.Store
			var dirStore directory.Store
			if cfg.Store.Driver == "sqlite" {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = filepath.Join(paths.Data, "chatsemble.db")
				}
				db, err := store.Open(dbPath, log)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				roomStore = store.NewSQLiteRoomStore(db)
				dirStore = store.NewSQLiteDirectoryStore(db)
				log.Info().Str("path", dbPath).Msg("using SQLite store")
			} else {
				roomStore = store.NewMemoryRoomStore()
				dirStore = store.NewMemoryDirectoryStore()
				log.Info().Msg("using in-memory store")
			}

			// Organization directory
			dir := directory.New(cfg.Organization.ID, dirStore, log.Sub("directory"))
			if err := dir.Seed(cfg.Organization, cfg.Agents.List); err != nil {
				return fmt.Errorf("seeding directory: %w", err)
			}

			// Agent pipeline (optional)
			dispatch := buildDispatcher(cfg)

			rooms := room.NewRegistry(roomStore, dispatch, log.Sub("room"), room.ActorOptions{
				HistoryWindow:     cfg.Server.HistoryWindow,
				MessageRatePerSec: cfg.Server.MessageRatePerSec,
				MessageBurst:      cfg.Server.MessageBurst,
				Hooks:             buildHooks(),
			})

			srv := gateway.New(cfg, rooms, dir, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}

// buildHooks creates the lifecycle event bus with an audit-log handler.
func buildHooks() *hooks.Manager {
	mgr := hooks.NewManager(log)
	audit := log.Sub("audit")
	for _, event := range hooks.AllEvents {
		mgr.On(event, "audit-log", func(ctx context.Context, ev hooks.Event) error {
			audit.Debug().
				Str("event", ev.Name).
				Str("room", ev.RoomID).
				Str("member", ev.MemberID).
				Str("message", ev.MessageID).
				Msg("lifecycle event")
			return nil
		})
	}
	return mgr
}

// buildDispatcher assembles the agent pipeline from config. Returns nil
// when no agents are configured, which disables dispatch entirely.
func buildDispatcher(cfg config.Config) room.Dispatcher {
	if len(cfg.Agents.List) == 0 {
		log.Info().Msg("no agents configured")
		return nil
	}

	var client llm.Client
	switch cfg.LLM.Provider {
	case "mock":
		client = &llm.MockClient{}
	default:
		if cfg.LLM.APIKey == "" {
			log.Warn().Msg("no LLM API key configured, agents disabled")
			return nil
		}
		client = llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	}

	tools := agent.NewToolRegistry()
	if cfg.Tools.SearchEndpoint != "" {
		search := agent.NewSearchTool(cfg.Tools.SearchEndpoint)
		tools.Register(search)
		budget := time.Duration(cfg.Tools.DeepResearchBudgetSec) * time.Second
		tools.Register(agent.NewDeepResearchTool(search, client, cfg.LLM.Model, budget))
	}

	agents := make([]agent.Config, 0, len(cfg.Agents.List))
	for _, a := range cfg.Agents.List {
		model := a.Model
		if model == "" {
			model = cfg.Agents.Defaults.Model
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		agents = append(agents, agent.Config{
			ID:          a.ID,
			Name:        name,
			Image:       a.Image,
			Model:       model,
			Persona:     a.Persona,
			MaxTokens:   cfg.Agents.Defaults.MaxTokens,
			Temperature: cfg.Agents.Defaults.Temperature,
		})
	}

	log.Info().Str("provider", client.Name()).Int("agents", len(agents)).Msg("agent dispatch enabled")
	return agent.NewDispatcher(client, tools, agents, log.Sub("agent"))
}
