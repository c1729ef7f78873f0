package main

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"echowar/internal/app"
	"echowar/internal/config"
	"echowar/internal/db"
	"echowar/internal/domain"
	"echowar/internal/engine"
	"echowar/internal/migrate"
	"echowar/internal/repo"
	"echowar/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ew",
	Short: "Echowar CLI",
	Long: `Echowar runs timed competitions between persistent worlds.
Core concepts:
- Epoch: one competition with phases lobby -> foundation -> competition -> reckoning -> completed.
- RP: the resource pool each world spends on operative missions; granted every cycle.
- Missions: garrison, sabotage, subversion, embassy_strike, infiltration; resolved probabilistically.
- Echoes: events bleed into connected worlds through narrative vectors (trade, rumor, refugee, faith, arcane).
- Scores: stability, influence, sovereignty, diplomatic, military; normalized against the cohort each cycle.
- Battle log: append-only record of everything that happened, view with 'ew log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ECHOWAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("epoch", "", "epoch id (defaults to the only epoch in the workspace)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("epoch", rootCmd.PersistentFlags().Lookup("epoch"))
}

func registerCommands() {
	rootCmd.AddCommand(epochCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(echoCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(worldCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func epochCmd() *cobra.Command {
	ep := &cobra.Command{
		Use:   "epoch",
		Short: "Manage epochs",
		Long:  "Epochs are the competitions. Create one, let worlds join in the lobby, start it, resolve cycles, and advance through phases until the reckoning ends it.",
	}
	ep.AddCommand(epochCreateCmd())
	ep.AddCommand(epochListCmd())
	ep.AddCommand(epochShowCmd())
	ep.AddCommand(epochConfigCmd())
	ep.AddCommand(epochJoinCmd())
	ep.AddCommand(epochLeaveCmd())
	ep.AddCommand(epochParticipantsCmd())
	ep.AddCommand(epochStartCmd())
	ep.AddCommand(epochAdvanceCmd())
	ep.AddCommand(epochCancelCmd())
	ep.AddCommand(epochResolveCycleCmd())
	return ep
}

func epochCreateCmd() *cobra.Command {
	var name, configFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				data, err := os.ReadFile(configFile)
				if err != nil {
					return err
				}
				cfg, err = config.FromJSON(data)
				if err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ep, err := e.CreateEpoch(ctx, name, cfg)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "epoch name")
	cmd.Flags().StringVar(&configFile, "config", "", "path to JSON epoch config")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func epochListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List epochs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEpochs(ctx)
				if err != nil {
					return err
				}
				if status != "" {
					filtered := items[:0]
					for _, ep := range items {
						if ep.Status == status {
							filtered = append(filtered, ep)
						}
					}
					items = filtered
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Cycle", "Started"})
				for _, ep := range items {
					tw.AppendRow(table.Row{ep.ID, ep.Name, ep.Status, ep.CurrentCycle, strOrDash(ep.StartedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func epochShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				ep, err := e.Repo.GetEpoch(ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	return cmd
}

func epochConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect or update epoch config"}
	cfg.AddCommand(epochConfigShowCmd())
	cfg.AddCommand(epochConfigSetCmd())
	return cfg
}

func epochConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show epoch config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				cfg, err := e.EpochConfig(ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	return cmd
}

func epochConfigSetCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace epoch config (lobby only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return err
			}
			cfg, err := config.FromJSON(data)
			if err != nil {
				return err
			}
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				ep, err := e.UpdateEpochConfig(ctx, epochID, cfg)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
	cmd.Flags().StringVar(&configFile, "file", "", "path to JSON epoch config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func epochJoinCmd() *cobra.Command {
	var worldID string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join epoch lobby",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				p, err := e.Join(ctx, epochID, worldID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world id")
	_ = cmd.MarkFlagRequired("world")
	return cmd
}

func epochLeaveCmd() *cobra.Command {
	var worldID string
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Leave epoch lobby",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				return e.Leave(ctx, epochID, worldID)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world id")
	_ = cmd.MarkFlagRequired("world")
	return cmd
}

func epochParticipantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "List participants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				items, err := e.Repo.ListParticipants(ctx, epochID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"World", "RP", "Team", "Joined"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.WorldID, p.CurrentRP, strOrDash(p.TeamID), p.JoinedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func epochStartCmd() *cobra.Command {
	return epochLifecycleCmd("start", "Start epoch (lobby -> foundation)", engine.Engine.Start)
}

func epochAdvanceCmd() *cobra.Command {
	return epochLifecycleCmd("advance", "Advance epoch to next phase", engine.Engine.Advance)
}

func epochCancelCmd() *cobra.Command {
	return epochLifecycleCmd("cancel", "Cancel epoch", engine.Engine.Cancel)
}

func epochLifecycleCmd(use, short string, fn func(engine.Engine, context.Context, string) (domain.Epoch, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				ep, err := fn(e, ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ep)
			})
		},
	}
}

func epochResolveCycleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve-cycle",
		Short: "Advance the cycle and grant RP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				res, err := e.ResolveCycle(ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
		Long:  "Teams pool worlds inside an epoch. Form them in the lobby or foundation phase; the founder leaving dissolves the team.",
	}
	team.AddCommand(teamCreateCmd())
	team.AddCommand(teamJoinCmd())
	team.AddCommand(teamLeaveCmd())
	return team
}

func teamCreateCmd() *cobra.Command {
	var worldID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				t, err := e.CreateTeam(ctx, epochID, worldID, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "founder world id")
	cmd.Flags().StringVar(&name, "name", "", "team name")
	_ = cmd.MarkFlagRequired("world")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamJoinCmd() *cobra.Command {
	var worldID, teamID string
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				return e.JoinTeam(ctx, epochID, worldID, teamID)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world id")
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	_ = cmd.MarkFlagRequired("world")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func teamLeaveCmd() *cobra.Command {
	var worldID string
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Leave team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				return e.LeaveTeam(ctx, epochID, worldID)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world id")
	_ = cmd.MarkFlagRequired("world")
	return cmd
}

func missionCmd() *cobra.Command {
	mission := &cobra.Command{
		Use:   "mission",
		Short: "Manage operative missions",
		Long:  "Missions spend RP to send agents against other worlds. Success odds are fixed at deploy time; resolution happens when the mission comes due.",
	}
	mission.AddCommand(missionDeployCmd())
	mission.AddCommand(missionListCmd())
	mission.AddCommand(missionShowCmd())
	mission.AddCommand(missionRecallCmd())
	mission.AddCommand(missionResolveCmd())
	mission.AddCommand(missionCounterIntelCmd())
	return mission
}

func missionDeployCmd() *cobra.Command {
	var req engine.DeployRequest
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				req.EpochID = epochID
				m, err := e.Deploy(ctx, req)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&req.WorldID, "world", "", "source world id")
	cmd.Flags().StringVar(&req.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&req.OperativeType, "type", "", "operative type (garrison, sabotage, subversion, embassy_strike, infiltration)")
	cmd.Flags().StringVar(&req.TargetWorldID, "target-world", "", "target world id")
	cmd.Flags().StringVar(&req.TargetZoneID, "target-zone", "", "target zone id")
	cmd.Flags().StringVar(&req.TargetID, "target", "", "target entity id (building, relationship or embassy)")
	_ = cmd.MarkFlagRequired("world")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func missionListCmd() *cobra.Command {
	var worldID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				items, err := e.Repo.ListMissions(ctx, epochID, worldID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Source", "Target", "Status", "P", "Resolves"})
				for _, m := range items {
					tw.AppendRow(table.Row{
						m.ID, m.OperativeType, m.SourceWorldID, strOrDash(m.TargetWorldID),
						m.Status, fmt.Sprintf("%.2f", m.SuccessProbability), m.ResolvesAt,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "source world filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func missionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Repo.GetMission(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall <id>",
		Short: "Recall a mission before it resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Recall(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func missionResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve due missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				outcomes, err := e.ResolvePending(ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(outcomes)
			})
		},
	}
	return cmd
}

func missionCounterIntelCmd() *cobra.Command {
	var worldID string
	cmd := &cobra.Command{
		Use:   "counter-intel",
		Short: "Sweep for inbound missions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				caught, err := e.CounterIntel(ctx, epochID, worldID)
				if err != nil {
					return err
				}
				return printJSONOrTable(caught)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "defending world id")
	_ = cmd.MarkFlagRequired("world")
	return cmd
}

func echoCmd() *cobra.Command {
	echo := &cobra.Command{
		Use:   "echo",
		Short: "Manage echoes",
		Long:  "Echoes carry events across world connections. Trigger evaluation for an event, then approve or reject the pending echoes it produced.",
	}
	echo.AddCommand(echoTriggerCmd())
	echo.AddCommand(echoListCmd())
	echo.AddCommand(echoApproveCmd())
	echo.AddCommand(echoRejectCmd())
	return echo
}

func echoTriggerCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Evaluate an event for echoes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				created, err := e.EvaluateEvent(ctx, epochID, eventID)
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "world event id")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func echoListCmd() *cobra.Command {
	var worldID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List echoes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				items, err := e.Repo.ListEchoes(ctx, epochID, worldID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Vector", "Source", "Target", "Strength", "Depth", "Status"})
				for _, ec := range items {
					tw.AppendRow(table.Row{
						ec.ID, ec.Vector, ec.SourceWorldID, ec.TargetWorldID,
						fmt.Sprintf("%.2f", ec.Strength), ec.Depth, ec.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "target world filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func echoApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve pending echo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ec, err := e.ApproveEcho(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(ec)
			})
		},
	}
	return cmd
}

func echoRejectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject pending echo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ec, err := e.RejectEcho(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(ec)
			})
		},
	}
	return cmd
}

func scoreCmd() *cobra.Command {
	score := &cobra.Command{
		Use:   "score",
		Short: "Scores and standings",
	}
	score.AddCommand(scoreBoardCmd())
	score.AddCommand(scoreComputeCmd())
	score.AddCommand(scoreStandingsCmd())
	score.AddCommand(scoreHistoryCmd())
	return score
}

func scoreBoardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				rows, err := e.Leaderboard(ctx, epochID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Rank", "World", "Name", "Team", "Composite"})
				for _, row := range rows {
					tw.AppendRow(table.Row{row.Rank, row.WorldID, row.WorldName, row.TeamName, fmt.Sprintf("%.2f", row.Composite)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func scoreComputeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute cycle scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				snapshots, err := e.ComputeScores(ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(snapshots)
			})
		},
	}
	return cmd
}

func scoreStandingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "standings",
		Short: "Show final standings with dimension titles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				standings, err := e.FinalStandings(ctx, epochID)
				if err != nil {
					return err
				}
				return printJSONOrTable(standings)
			})
		},
	}
	return cmd
}

func scoreHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <world-id>",
		Short: "Score history for a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			worldID := args[0]
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				items, err := e.ScoreHistory(ctx, epochID, worldID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func worldCmd() *cobra.Command {
	world := &cobra.Command{
		Use:   "world",
		Short: "Manage world entities",
	}
	world.AddCommand(worldImportCmd())
	world.AddCommand(worldLensCmd())
	return world
}

// worldImport is the YAML layout for 'ew world import'.
type worldImport struct {
	Worlds []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Profile      string `yaml:"profile"`
		BleedEnabled bool   `yaml:"bleed_enabled"`
	} `yaml:"worlds"`
	Zones []struct {
		ID        string  `yaml:"id"`
		WorldID   string  `yaml:"world_id"`
		Name      string  `yaml:"name"`
		Stability float64 `yaml:"stability"`
		Security  int     `yaml:"security"`
	} `yaml:"zones"`
	Buildings []struct {
		ID        string `yaml:"id"`
		WorldID   string `yaml:"world_id"`
		ZoneID    string `yaml:"zone_id"`
		Name      string `yaml:"name"`
		Condition string `yaml:"condition"`
	} `yaml:"buildings"`
	Embassies []struct {
		ID            string  `yaml:"id"`
		WorldID       string  `yaml:"world_id"`
		TargetWorldID string  `yaml:"target_world_id"`
		Effectiveness float64 `yaml:"effectiveness"`
		Status        string  `yaml:"status"`
	} `yaml:"embassies"`
	Agents []struct {
		ID            string `yaml:"id"`
		WorldID       string `yaml:"world_id"`
		Name          string `yaml:"name"`
		Qualification int    `yaml:"qualification"`
	} `yaml:"agents"`
	Relationships []struct {
		ID        string `yaml:"id"`
		WorldID   string `yaml:"world_id"`
		AgentAID  string `yaml:"agent_a_id"`
		AgentBID  string `yaml:"agent_b_id"`
		Intensity int    `yaml:"intensity"`
	} `yaml:"relationships"`
	Connections []struct {
		ID            string  `yaml:"id"`
		SourceWorldID string  `yaml:"source_world_id"`
		TargetWorldID string  `yaml:"target_world_id"`
		Strength      float64 `yaml:"strength"`
		BaseThreshold int     `yaml:"base_threshold"`
		Status        string  `yaml:"status"`
	} `yaml:"connections"`
	Events []struct {
		ID          string   `yaml:"id"`
		WorldID     string   `yaml:"world_id"`
		Title       string   `yaml:"title"`
		Description string   `yaml:"description"`
		Impact      int      `yaml:"impact"`
		Tags        []string `yaml:"tags"`
		CampaignID  string   `yaml:"campaign_id"`
	} `yaml:"events"`
	Lenses []struct {
		WorldID string `yaml:"world_id"`
		Vector  string `yaml:"vector"`
		Prompt  string `yaml:"prompt"`
	} `yaml:"lenses"`
}

func worldImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import worlds, zones, agents and connections from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var imp worldImport
			if err := yaml.Unmarshal(data, &imp); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				now := time.Now().UTC().Format(time.RFC3339)
				for _, w := range imp.Worlds {
					record := domain.World{
						ID:           w.ID,
						Name:         w.Name,
						Profile:      w.Profile,
						BleedEnabled: w.BleedEnabled,
						CreatedAt:    now,
					}
					if err := r.InsertWorld(ctx, record); err != nil {
						return fmt.Errorf("world %s: %w", w.ID, err)
					}
				}
				for _, z := range imp.Zones {
					record := domain.Zone{ID: z.ID, WorldID: z.WorldID, Name: z.Name, Stability: z.Stability, Security: z.Security}
					if err := r.InsertZone(ctx, record); err != nil {
						return fmt.Errorf("zone %s: %w", z.ID, err)
					}
				}
				for _, b := range imp.Buildings {
					record := domain.Building{ID: b.ID, WorldID: b.WorldID, ZoneID: b.ZoneID, Name: b.Name, Condition: b.Condition}
					if record.Condition == "" {
						record.Condition = "good"
					}
					if err := r.InsertBuilding(ctx, record); err != nil {
						return fmt.Errorf("building %s: %w", b.ID, err)
					}
				}
				for _, em := range imp.Embassies {
					record := domain.Embassy{ID: em.ID, WorldID: em.WorldID, TargetWorldID: em.TargetWorldID, Effectiveness: em.Effectiveness, Status: em.Status}
					if record.Status == "" {
						record.Status = "active"
					}
					if err := r.InsertEmbassy(ctx, record); err != nil {
						return fmt.Errorf("embassy %s: %w", em.ID, err)
					}
				}
				for _, a := range imp.Agents {
					record := domain.Agent{ID: a.ID, WorldID: a.WorldID, Name: a.Name, Qualification: a.Qualification}
					if err := r.InsertAgent(ctx, record); err != nil {
						return fmt.Errorf("agent %s: %w", a.ID, err)
					}
				}
				for _, rel := range imp.Relationships {
					record := domain.Relationship{ID: rel.ID, WorldID: rel.WorldID, AgentAID: rel.AgentAID, AgentBID: rel.AgentBID, Intensity: rel.Intensity}
					if err := r.InsertRelationship(ctx, record); err != nil {
						return fmt.Errorf("relationship %s: %w", rel.ID, err)
					}
				}
				for _, c := range imp.Connections {
					record := domain.Connection{ID: c.ID, SourceWorldID: c.SourceWorldID, TargetWorldID: c.TargetWorldID, Strength: c.Strength, BaseThreshold: c.BaseThreshold, Status: c.Status}
					if record.Status == "" {
						record.Status = "active"
					}
					if err := r.InsertConnection(ctx, record); err != nil {
						return fmt.Errorf("connection %s: %w", c.ID, err)
					}
				}
				for _, ev := range imp.Events {
					tags, _ := json.Marshal(ev.Tags)
					record := domain.WorldEvent{
						ID:          ev.ID,
						WorldID:     ev.WorldID,
						Title:       ev.Title,
						Description: ev.Description,
						Impact:      ev.Impact,
						TagsJSON:    string(tags),
						CreatedAt:   now,
					}
					if ev.CampaignID != "" {
						record.CampaignID = &ev.CampaignID
					}
					if err := r.InsertWorldEvent(ctx, nil, record); err != nil {
						return fmt.Errorf("event %s: %w", ev.ID, err)
					}
				}
				for _, l := range imp.Lenses {
					if err := r.UpsertWorldLens(ctx, l.WorldID, l.Vector, l.Prompt); err != nil {
						return fmt.Errorf("lens %s/%s: %w", l.WorldID, l.Vector, err)
					}
				}
				fmt.Printf("imported %d worlds, %d zones, %d agents, %d connections\n",
					len(imp.Worlds), len(imp.Zones), len(imp.Agents), len(imp.Connections))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML world data")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func worldLensCmd() *cobra.Command {
	var worldID, vector, prompt string
	cmd := &cobra.Command{
		Use:   "lens",
		Short: "Set a world's narrative lens for an echo vector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.UpsertWorldLens(ctx, worldID, vector, prompt)
			})
		},
	}
	cmd.Flags().StringVar(&worldID, "world", "", "world id")
	cmd.Flags().StringVar(&vector, "vector", "", "echo vector (trade, rumor, refugee, faith, arcane)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "lens prompt")
	_ = cmd.MarkFlagRequired("world")
	_ = cmd.MarkFlagRequired("vector")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Battle log",
		Long:  "The append-only record of the epoch: phase changes, deployments, resolutions, echoes and scores.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var worldID, eventType string
	var publicOnly bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail battle log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEpoch(cmd.Context(), func(ctx context.Context, e engine.Engine, epochID string) error {
				entries, err := e.Repo.ListBattleLog(ctx, epochID, repo.BattleLogFilter{
					WorldID:    worldID,
					EventType:  eventType,
					PublicOnly: publicOnly,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Cycle", "Type", "Narrative"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.ID, entry.Cycle, entry.EventType, entry.Narrative})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&worldID, "world", "", "world filter")
	cmd.Flags().StringVar(&eventType, "type", "", "event type filter")
	cmd.Flags().BoolVar(&publicOnly, "public", false, "public entries only")
	return cmd
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "API key management"}
	key.AddCommand(keyIssueCmd())
	key.AddCommand(keyRevokeCmd())
	return key
}

func keyIssueCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw [24]byte
			if _, err := crand.Read(raw[:]); err != nil {
				return err
			}
			key := "ew_" + hex.EncodeToString(raw[:])
			record := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actorID,
				Role:      role,
				Name:      name,
				KeyHash:   repo.HashAPIKey(key),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, record); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": record.ID, "key": key, "role": record.Role})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "player", "role (observer, player, referee)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func keyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, webhooksFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ECHOWAR_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ECHOWAR_JWT_SECRET is required for bearer auth")
			}
			var webhooks []server.WebhookConfig
			if webhooksFile != "" {
				data, err := os.ReadFile(webhooksFile)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &webhooks); err != nil {
					return err
				}
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Webhooks: webhooks})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Echowar API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&webhooksFile, "webhooks", "", "path to YAML webhook config")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

func withEpoch(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		epochID, err := app.ResolveEpoch(ctx, viper.GetString("epoch"), e.Repo)
		if err != nil {
			return err
		}
		return fn(ctx, e, epochID)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strOrDash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}
