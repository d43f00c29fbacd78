package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spotline/internal/app"
	"spotline/internal/config"
	"spotline/internal/db"
	"spotline/internal/domain"
	"spotline/internal/engine"
	"spotline/internal/migrate"
	"spotline/internal/pipeline"
	"spotline/internal/repo"
	"spotline/internal/server"
	"spotline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Spotline CLI",
	Long: `Spotline turns a brand kit, a shot list, and a narration script into a
short video ad. The workspace keeps one SQLite database under .spotline;
project state, configs, and the event journal all live there.

Typical flow:
  sl project init --id my-spot        start a project with one draft shot
  sl shot add / sl shot update        build the timeline
  sl voiceover update --script ...    write the narration
  sl estimate                         price the run before spending
  sl generate                         run the full pipeline
  sl progress                         watch the stages move`,
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
	viper.SetEnvPrefix("SPOTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(shotCmd())
	rootCmd.AddCommand(voiceoverCmd())
	rootCmd.AddCommand(brandCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(apikeyCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectInitCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectRenameCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectResetCmd())
	prj.AddCommand(projectUseCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectInitCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project with one draft shot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(id)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(id)
			}
			cfg.Project.ID = id
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), id, name, viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Shots", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, len(p.Shots), p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the project aggregate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Project: %s (%s) status=%s\n", p.ID, p.Name, p.Status)
				fmt.Printf("Brand: %s — %s\n", p.Brand.Name, p.Brand.Tagline)
				if p.FinalVideoURL != nil {
					fmt.Printf("Final video: %s\n", *p.FinalVideoURL)
				}
				printShotTable(p.Shots)
				if p.Voiceover.Script != "" {
					fmt.Printf("Voiceover [%s, %s]: %s\n", p.Voiceover.VoiceName, p.Voiceover.Status, p.Voiceover.Script)
				}
				return nil
			})
		},
	}
	return cmd
}

func projectRenameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename",
		Short: "Rename the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.RenameProject(ctx, projectID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new project name")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				return e.DeleteProject(ctx, projectID)
			})
		},
	}
	return cmd
}

func projectResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the project to a fresh draft (keeps id, name, brand)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.ResetProject(ctx, projectID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "SPOTLINE_PROJECT", projectID); err != nil {
				return err
			}
			fmt.Printf("Set SPOTLINE_PROJECT=%s in %s/.env\n", projectID, workspace)
			return nil
		},
	}
	return cmd
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				if cfg.Project.ID == "" {
					cfg.Project.ID = projectID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, cfg.Project.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func shotCmd() *cobra.Command {
	shot := &cobra.Command{
		Use:   "shot",
		Short: "Manage the shot timeline",
		Long:  "Shots are the timeline clips. Order is dense 0..N-1, the last shot can never be removed, and 1080p clips are always 8 seconds.",
	}
	shot.AddCommand(shotAddCmd())
	shot.AddCommand(shotListCmd())
	shot.AddCommand(shotUpdateCmd())
	shot.AddCommand(shotRemoveCmd())
	shot.AddCommand(shotDuplicateCmd())
	shot.AddCommand(shotReorderCmd())
	shot.AddCommand(shotImageCmd())
	shot.AddCommand(shotFrameCmd())
	shot.AddCommand(shotSelectCmd())
	return shot
}

func shotAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Append a draft shot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				shot, err := e.AddShot(ctx, projectID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(shot)
			})
		},
	}
	return cmd
}

func shotListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shots in timeline order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p.Shots)
				}
				printShotTable(p.Shots)
				return nil
			})
		},
	}
	return cmd
}

func shotUpdateCmd() *cobra.Command {
	var prompt, negative, resolution, aspect string
	var duration int
	cmd := &cobra.Command{
		Use:   "update <shot-id>",
		Short: "Update shot fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := store.ShotPatch{}
			if cmd.Flags().Changed("prompt") {
				patch.Prompt = &prompt
			}
			if cmd.Flags().Changed("negative-prompt") {
				patch.NegativePrompt = &negative
			}
			if cmd.Flags().Changed("duration") {
				patch.Duration = &duration
			}
			if cmd.Flags().Changed("resolution") {
				patch.Resolution = &resolution
			}
			if cmd.Flags().Changed("aspect-ratio") {
				patch.AspectRatio = &aspect
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.UpdateShot(ctx, projectID, args[0], patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				printShotTable(p.Shots)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "shot prompt")
	cmd.Flags().StringVar(&negative, "negative-prompt", "", "negative prompt")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in seconds (4, 6, 8)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution (720p, 1080p)")
	cmd.Flags().StringVar(&aspect, "aspect-ratio", "", "aspect ratio (16:9, 9:16)")
	return cmd
}

func shotRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <shot-id>",
		Short: "Remove a shot (keeps at least one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.RemoveShot(ctx, projectID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				printShotTable(p.Shots)
				return nil
			})
		},
	}
	return cmd
}

func shotDuplicateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duplicate <shot-id>",
		Short: "Duplicate a shot right after the original",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				dup, err := e.DuplicateShot(ctx, projectID, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(dup)
			})
		},
	}
	return cmd
}

func shotReorderCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Move a shot between timeline positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.ReorderShots(ctx, projectID, from, to, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				printShotTable(p.Shots)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "source index")
	cmd.Flags().IntVar(&to, "to", 0, "destination index")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func shotImageCmd() *cobra.Command {
	img := &cobra.Command{Use: "image", Short: "Manage shot reference images"}
	var addURL string
	add := &cobra.Command{
		Use:   "add <shot-id>",
		Short: "Attach a reference image (max 3 per shot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addURL == "" {
				return fmt.Errorf("--url required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.AddShotImage(ctx, projectID, args[0], addURL, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	add.Flags().StringVar(&addURL, "url", "", "image URL")
	var removeURL string
	remove := &cobra.Command{
		Use:   "remove <shot-id>",
		Short: "Detach a reference image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if removeURL == "" {
				return fmt.Errorf("--url required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.RemoveShotImage(ctx, projectID, args[0], removeURL, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	remove.Flags().StringVar(&removeURL, "url", "", "image URL")
	img.AddCommand(add)
	img.AddCommand(remove)
	return img
}

func shotFrameCmd() *cobra.Command {
	var position, url string
	var clear bool
	cmd := &cobra.Command{
		Use:   "frame <shot-id>",
		Short: "Set or clear a boundary frame image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if position != "first" && position != "last" {
				return fmt.Errorf("--position must be first or last")
			}
			var imageURL *string
			if !clear {
				if url == "" {
					return fmt.Errorf("--url required unless --clear")
				}
				imageURL = &url
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.SetShotFrame(ctx, projectID, args[0], imageURL, position == "first", viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&position, "position", "first", "frame position (first, last)")
	cmd.Flags().StringVar(&url, "url", "", "image URL")
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the frame")
	return cmd
}

func shotSelectCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "select [shot-id]",
		Short: "Select a shot for editing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var shotID *string
			if !clear {
				if len(args) == 0 {
					return fmt.Errorf("shot id required unless --clear")
				}
				shotID = &args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				return e.SelectShot(ctx, projectID, shotID)
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear the selection")
	return cmd
}

func voiceoverCmd() *cobra.Command {
	vo := &cobra.Command{Use: "voiceover", Short: "Manage the narration"}
	vo.AddCommand(voiceoverUpdateCmd())
	vo.AddCommand(voiceoverVoicesCmd())
	return vo
}

func voiceoverUpdateCmd() *cobra.Command {
	var script, voice string
	var stability, similarity, style float64
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update script, voice, or synthesis settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := store.VoiceoverPatch{}
			if cmd.Flags().Changed("script") {
				patch.Script = &script
			}
			if cmd.Flags().Changed("voice") {
				patch.VoiceName = &voice
			}
			if cmd.Flags().Changed("stability") {
				patch.Stability = &stability
			}
			if cmd.Flags().Changed("similarity-boost") {
				patch.SimilarityBoost = &similarity
			}
			if cmd.Flags().Changed("style") {
				patch.Style = &style
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.UpdateVoiceover(ctx, projectID, patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Voiceover)
			})
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "narration script")
	cmd.Flags().StringVar(&voice, "voice", "", "voice name from the catalog")
	cmd.Flags().Float64Var(&stability, "stability", 0, "stability (0..1)")
	cmd.Flags().Float64Var(&similarity, "similarity-boost", 0, "similarity boost (0..1)")
	cmd.Flags().Float64Var(&style, "style", 0, "style (0..1)")
	return cmd
}

func voiceoverVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the narration voice catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				if viper.GetBool("json") {
					return printJSON(e.Config.Voices)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "ID", "Description"})
				for _, v := range e.Config.Voices {
					tw.AppendRow(table.Row{v.Name, v.ID, v.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func brandCmd() *cobra.Command {
	b := &cobra.Command{Use: "brand", Short: "Manage the brand kit"}
	var name, tagline, primary, secondary, logo string
	var clearLogo bool
	update := &cobra.Command{
		Use:   "update",
		Short: "Update brand kit fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := store.BrandPatch{}
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("tagline") {
				patch.Tagline = &tagline
			}
			if cmd.Flags().Changed("primary-color") {
				patch.PrimaryColor = &primary
			}
			if cmd.Flags().Changed("secondary-color") {
				patch.SecondaryColor = &secondary
			}
			if clearLogo {
				patch.LogoURLSet = true
			} else if cmd.Flags().Changed("logo-url") {
				patch.LogoURL = &logo
				patch.LogoURLSet = true
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, err := e.UpdateBrand(ctx, projectID, patch, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p.Brand)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "brand name")
	update.Flags().StringVar(&tagline, "tagline", "", "tagline")
	update.Flags().StringVar(&primary, "primary-color", "", "primary color")
	update.Flags().StringVar(&secondary, "secondary-color", "", "secondary color")
	update.Flags().StringVar(&logo, "logo-url", "", "logo URL")
	update.Flags().BoolVar(&clearLogo, "clear-logo", false, "remove the logo")
	b.AddCommand(update)
	return b
}

func estimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price a generation run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				est, err := e.Estimate(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(est)
				}
				fmt.Printf("Shots: %d, total %ds of video\n", est.ShotCount, est.TotalDurationSec)
				fmt.Printf("Script: %d chars\n", est.ScriptChars)
				fmt.Printf("Estimated cost: $%.4f\n", est.EstimatedCost)
				return nil
			})
		},
	}
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the full generation pipeline",
		Long:  "Uploads assets, generates every shot, synthesizes the narration when a script exists, and assembles the final spot. Blocks until the run finishes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				pcfg := e.Config.Pipeline
				if pcfg.BackendURL == "" {
					return fmt.Errorf("pipeline.backend_url not configured")
				}
				apiKey := ""
				if pcfg.APIKeyEnv != "" {
					apiKey = os.Getenv(pcfg.APIKeyEnv)
				}
				backend := pipeline.NewHTTPBackend(pcfg.BackendURL, apiKey)
				runner := pipeline.NewRunner(e, backend, pcfg)
				runner.ActorID = viper.GetString("actor-id")
				if err := runner.Run(ctx, projectID); err != nil {
					return err
				}
				p, err := e.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				if p.FinalVideoURL != nil {
					fmt.Printf("Done: %s\n", *p.FinalVideoURL)
				}
				return nil
			})
		},
	}
	return cmd
}

func progressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show pipeline progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				p, report, err := e.Progress(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"progress": p, "overall": report.Overall, "stages": report.Stages})
				}
				fmt.Printf("Stage: %s  overall %d%%\n", p.Stage, report.Overall)
				if p.CurrentShot != nil && p.TotalShots != nil {
					fmt.Printf("Shot %d of %d", *p.CurrentShot, *p.TotalShots)
					if p.ShotProgress != nil {
						fmt.Printf(" (%d%%)", *p.ShotProgress)
					}
					fmt.Println()
				}
				if p.Message != "" {
					fmt.Println(p.Message)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Weight", "Status", "Percent"})
				for _, st := range report.Stages {
					tw.AppendRow(table.Row{st.Stage, st.Weight, st.Status, st.Percent})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event journal",
		Long:  "The diary of every change: project edits, shot updates, pipeline stage transitions, and results.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, projectID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fileCfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, fileCfg)
			override := viper.GetString("project")
			if override == "" && fileCfg != nil {
				override = fileCfg.Project.ID
			}
			_, cfg, err := app.ResolveProjectAndConfig(cmd.Context(), override, viper.GetString("actor-id"), e)
			if err != nil {
				return err
			}
			e.Config = cfg
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("SPOTLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("SPOTLINE_JWT_SECRET is required for bearer auth (or use --allow-legacy-actor-header)")
			}
			var backend pipeline.Backend
			if cfg.Pipeline.BackendURL != "" {
				apiKey := ""
				if cfg.Pipeline.APIKeyEnv != "" {
					apiKey = os.Getenv(cfg.Pipeline.APIKeyEnv)
				}
				backend = pipeline.NewHTTPBackend(cfg.Pipeline.BackendURL, apiKey)
			}
			handler, err := server.New(server.Config{Engine: e, Backend: backend, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Spotline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the token is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				token := "sk-" + strings.ReplaceAll(uuid.NewString(), "-", "")
				k := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(token),
				}
				if err := r.InsertAPIKey(ctx, nil, k); err != nil {
					return err
				}
				fmt.Printf("API key %s created for %s\n", k.ID, k.ActorID)
				fmt.Printf("Token (save it now, it is not stored): %s\n", token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, fileCfg)
	override := viper.GetString("project")
	if override == "" && fileCfg != nil {
		override = fileCfg.Project.ID
	}
	projectID, cfg, err := app.ResolveProjectAndConfig(ctx, override, viper.GetString("actor-id"), e)
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, e, projectID)
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

func printShotTable(shots []domain.Shot) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "ID", "Prompt", "Dur", "Res", "Aspect", "Status", "Progress"})
	for _, s := range shots {
		prompt := s.Prompt
		if len(prompt) > 40 {
			prompt = prompt[:37] + "..."
		}
		tw.AppendRow(table.Row{s.Order, s.ID, prompt, s.Duration, s.Resolution, s.AspectRatio, s.Status, s.Progress})
	}
	tw.Render()
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

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
