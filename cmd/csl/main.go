package main

import (
	"context"
	"crypto/rand"
	"database/sql"
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

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/external"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	"caseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "csl",
	Short: "Caseline CLI",
	Long: `Caseline tracks felling licence applications through review and approval.
Core concepts:
- Workspace: your .caseline directory holding the sqlite database; caseline.yml beside it holds licence defaults and the internal user directory.
- Application: one felling licence case with a FLA/YYYY/NNNNN reference; statuses go draft -> submitted -> admin_officer_review -> woodland_officer_review -> sent_for_approval -> approved/refused/referred_to_local_authority.
- Checks: admin officers and woodland officers record check facts; the task list derives which steps still block confirmation.
- Amendments: woodland officers confirm felling and restocking details; confirmed amendments can be sent to the applicant for agreement.
- Public register: cases are published for a consultation period unless recorded exempt; comments received are logged against the case.
- Decision: an assigned field manager approves, refuses or refers; approval issues a licence with a five-year expiry.
- Event log: diary of changes, view with 'csl log tail'.`,
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
	viper.SetEnvPrefix("CASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("notify-endpoint", "", "applicant notification webhook")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("notify-endpoint", rootCmd.PersistentFlags().Lookup("notify-endpoint"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(assignCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(fellingCmd())
	rootCmd.AddCommand(restockCmd())
	rootCmd.AddCommand(amendCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate caseline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println(path, "is valid")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Caseload overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountApplicationsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Cases"})
				for status, n := range counts {
					tw.AppendRow(table.Row{status, n})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func appCmd() *cobra.Command {
	app := &cobra.Command{Use: "app", Short: "Manage applications"}
	app.AddCommand(appCreateCmd())
	app.AddCommand(appListCmd())
	app.AddCommand(appShowCmd())
	app.AddCommand(appHistoryCmd())
	app.AddCommand(appSubmitCmd())
	app.AddCommand(appWithdrawCmd())
	app.AddCommand(appReopenCmd())
	app.AddCommand(appApprovedInErrorCmd())
	app.AddCommand(appReopenApprovedCmd())
	return app
}

func appCreateCmd() *cobra.Command {
	var applicantID, area, source, dateReceived string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.CreateApplication(ctx, engine.ApplicationCreateOptions{
					Source:       domain.ApplicationSource(source),
					ApplicantID:  applicantID,
					Area:         area,
					DateReceived: dateReceived,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&applicantID, "applicant", "", "applicant identifier")
	cmd.Flags().StringVar(&area, "area", "", "operational area")
	cmd.Flags().StringVar(&source, "source", "applicant", "application source (applicant or paper)")
	cmd.Flags().StringVar(&dateReceived, "date-received", "", "date received for paper applications (RFC 3339)")
	_ = cmd.MarkFlagRequired("applicant")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}

func appListCmd() *cobra.Command {
	var f repo.ApplicationFilters
	var cursor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if cursor != "" {
					parts := strings.SplitN(cursor, "|", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid cursor %q", cursor)
					}
					f.CursorCreatedAt, f.CursorID = parts[0], parts[1]
				}
				items, err := r.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Reference", "Status", "Area", "Applicant", "Created"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Reference, a.Status, a.Area, a.ApplicantID, a.CreatedAt})
				}
				tw.Render()
				if len(items) > 0 {
					last := items[len(items)-1]
					fmt.Printf("next cursor: %s|%s\n", last.CreatedAt, last.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Area, "area", "", "area filter")
	cmd.Flags().StringVar(&f.AssignedUserID, "assigned", "", "assigned user filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	return cmd
}

func appShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetApplication(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func appHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the status trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListStatusHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Actor", "At"})
				for _, h := range items {
					tw.AppendRow(table.Row{h.Status, h.ActorID, h.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func appSubmitCmd() *cobra.Command {
	return applicationActionCmd("submit <id>", "Submit an application", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.SubmitApplication(ctx, id, viper.GetString("actor-id"))
	})
}

func appReopenCmd() *cobra.Command {
	return applicationActionCmd("reopen <id>", "Reopen a withdrawn application", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.ReopenWithdrawnApplication(ctx, id, viper.GetString("actor-id"))
	})
}

func appReopenApprovedCmd() *cobra.Command {
	return applicationActionCmd("reopen-approved <id>", "Reopen a case approved in error", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.ReopenApprovedInError(ctx, id, viper.GetString("actor-id"))
	})
}

func appWithdrawCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Withdraw an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.WithdrawApplication(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "withdrawal reason")
	return cmd
}

func appApprovedInErrorCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "approved-in-error <id>",
		Short: "Mark an approval as made in error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.MarkApprovedInError(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "explanation for the reversal")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func assignCmd() *cobra.Command {
	as := &cobra.Command{Use: "assign", Short: "Manage case assignments"}
	as.AddCommand(assignSetCmd())
	as.AddCommand(assignListCmd())
	as.AddCommand(assignCheckCmd())
	as.AddCommand(assignReturnCmd())
	return as
}

func assignSetCmd() *cobra.Command {
	var userID, role, reason, note string
	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Assign a case role to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.AssignToUser(ctx, engine.AssignOptions{
					ApplicationID: args[0],
					UserID:        userID,
					Role:          domain.Role(role),
					Reason:        reason,
					CaseNote:      note,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "assignee user id")
	cmd.Flags().StringVar(&role, "role", "", "case role (admin_officer, woodland_officer, field_manager)")
	cmd.Flags().StringVar(&reason, "reason", "", "reassignment reason")
	cmd.Flags().StringVar(&note, "note", "", "case note recorded with the assignment")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func assignListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <id>",
		Short: "Assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAssigneeHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "User", "From", "To"})
				for _, h := range items {
					until := ""
					if h.UnassignedAt != nil {
						until = *h.UnassignedAt
					}
					tw.AppendRow(table.Row{h.Role, h.UserID, h.AssignedAt, until})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func assignCheckCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Check whether assigning would replace the current holder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ReassignConfirm(ctx, args[0], domain.Role(role))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "case role")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func assignReturnCmd() *cobra.Command {
	var reason string
	var sections []string
	cmd := &cobra.Command{
		Use:   "return <id>",
		Short: "Return the case to the applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.AssignBackToApplicant(ctx, engine.AssignBackOptions{
					ApplicationID:   args[0],
					Reason:          reason,
					VisibleSections: sections,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the case is returned")
	cmd.Flags().StringSliceVar(&sections, "sections", nil, "sections made visible to the applicant")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func reviewCmd() *cobra.Command {
	rv := &cobra.Command{Use: "review", Short: "Review stage checks and task lists"}
	rv.AddCommand(reviewAOChecksCmd())
	rv.AddCommand(reviewTasklistCmd("ao-tasklist <id>", "Admin officer task list", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.AdminOfficerTaskList(ctx, id)
	}))
	rv.AddCommand(applicationActionCmd("ao-confirm <id>", "Complete admin officer review", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.ConfirmAdminOfficerReview(ctx, id, viper.GetString("actor-id"))
	}))
	rv.AddCommand(reviewWOChecksCmd())
	rv.AddCommand(reviewTasklistCmd("wo-tasklist <id>", "Woodland officer task list", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.WoodlandOfficerTaskList(ctx, id)
	}))
	rv.AddCommand(applicationActionCmd("wo-confirm <id>", "Complete woodland officer review", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.ConfirmWoodlandOfficerReview(ctx, id, viper.GetString("actor-id"))
	}))
	return rv
}

func reviewAOChecksCmd() *cobra.Command {
	var c domain.AdminOfficerChecks
	cmd := &cobra.Command{
		Use:   "ao-checks <id>",
		Short: "Record admin officer check facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c.ApplicationID = args[0]
				out, err := e.RecordAdminOfficerChecks(ctx, c, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().BoolVar(&c.AgentAuthorityRequired, "agent-authority-required", false, "an agent acts for the applicant")
	cmd.Flags().BoolVar(&c.AgentAuthorityFormOK, "agent-authority-form-ok", false, "agent authority form checked")
	cmd.Flags().BoolVar(&c.DateReceivedVerified, "date-received-verified", false, "date received verified")
	cmd.Flags().BoolVar(&c.MappingCheckPassed, "mapping-ok", false, "mapping check passed")
	cmd.Flags().BoolVar(&c.ConstraintsCheckPassed, "constraints-ok", false, "constraints check passed")
	cmd.Flags().BoolVar(&c.LarchCheckDone, "larch-checked", false, "larch zone check done")
	cmd.Flags().BoolVar(&c.LarchPresent, "larch-present", false, "larch present on site")
	cmd.Flags().BoolVar(&c.EiaRelevant, "eia-relevant", false, "EIA screening relevant")
	cmd.Flags().BoolVar(&c.EiaScreeningDone, "eia-screened", false, "EIA screening done")
	cmd.Flags().BoolVar(&c.SupportingDocsComplete, "docs-complete", false, "supporting documents complete")
	return cmd
}

func reviewWOChecksCmd() *cobra.Command {
	var c domain.WoodlandOfficerChecks
	cmd := &cobra.Command{
		Use:   "wo-checks <id>",
		Short: "Record woodland officer check facts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c.ApplicationID = args[0]
				out, err := e.RecordWoodlandOfficerChecks(ctx, c, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().BoolVar(&c.SiteVisitNotNeeded, "site-visit-not-needed", false, "no site visit required")
	cmd.Flags().BoolVar(&c.SiteVisitComplete, "site-visit-complete", false, "site visit complete")
	cmd.Flags().BoolVar(&c.Pw14ChecksComplete, "pw14-complete", false, "PW14 checks complete")
	cmd.Flags().BoolVar(&c.ConditionsNotNeeded, "conditions-not-needed", false, "no licence conditions required")
	cmd.Flags().BoolVar(&c.ConditionsComplete, "conditions-complete", false, "licence conditions complete")
	cmd.Flags().BoolVar(&c.ConsultationsComplete, "consultations-complete", false, "consultations complete")
	cmd.Flags().BoolVar(&c.HabitatRegsComplete, "habitat-regs-complete", false, "habitat regulations assessment complete")
	cmd.Flags().BoolVar(&c.DesignationsComplete, "designations-complete", false, "designations check complete")
	cmd.Flags().BoolVar(&c.TreeHealthConcern, "tree-health-concern", false, "tree health concern raised")
	cmd.Flags().BoolVar(&c.TreeHealthComplete, "tree-health-complete", false, "tree health review complete")
	cmd.Flags().BoolVar(&c.MapChangesRecorded, "map-changes", false, "map changes recorded")
	cmd.Flags().BoolVar(&c.MapAmendmentsComplete, "map-amendments-complete", false, "map amendments complete")
	cmd.Flags().BoolVar(&c.FellingConfirmed, "felling-confirmed", false, "felling and restocking confirmed")
	cmd.Flags().BoolVar(&c.FinalChecksComplete, "final-checks-complete", false, "final checks complete")
	return cmd
}

func reviewTasklistCmd(use, short string, fn func(context.Context, engine.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
}

func fellingCmd() *cobra.Command {
	fl := &cobra.Command{Use: "felling", Short: "Confirmed felling details"}
	fl.AddCommand(fellingListCmd())
	fl.AddCommand(fellingConfirmCmd())
	fl.AddCommand(fellingAmendCmd())
	fl.AddCommand(fellingDeleteCmd())
	fl.AddCommand(fellingRevertCmd())
	fl.AddCommand(fellingSpeciesCmd())
	return fl
}

func fellingListCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List felling details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListFellingDetails(ctx, args[0], includeDeleted)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Compartment", "Operation", "Area (ha)", "Amended", "Deleted"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.CompartmentID, d.OperationType, d.AreaHa, d.Amended, d.Deleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted rows")
	return cmd
}

func fellingConfirmCmd() *cobra.Command {
	var compartment, operation string
	var area float64
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a felling detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ConfirmFellingDetail(ctx, engine.FellingDetailOptions{
					ApplicationID: args[0],
					CompartmentID: compartment,
					OperationType: operation,
					AreaHa:        area,
					ActorID:       viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&compartment, "compartment", "", "compartment identifier")
	cmd.Flags().StringVar(&operation, "operation", "", "felling operation type")
	cmd.Flags().Float64Var(&area, "area-ha", 0, "area in hectares")
	_ = cmd.MarkFlagRequired("compartment")
	_ = cmd.MarkFlagRequired("operation")
	return cmd
}

func fellingAmendCmd() *cobra.Command {
	var operation string
	var area float64
	cmd := &cobra.Command{
		Use:   "amend <id> <detail-id>",
		Short: "Amend a felling detail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AmendFellingDetail(ctx, args[0], args[1], operation, area, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&operation, "operation", "", "felling operation type")
	cmd.Flags().Float64Var(&area, "area-ha", 0, "area in hectares")
	return cmd
}

func fellingDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> <detail-id>",
		Short: "Soft-delete a felling detail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteFellingDetail(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
}

func fellingRevertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revert <id> <detail-id>",
		Short: "Revert a felling detail to its proposed values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.RevertFellingDetailAmendments(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func fellingSpeciesCmd() *cobra.Command {
	var entries []string
	cmd := &cobra.Command{
		Use:   "species <id> <detail-id>",
		Short: "Replace the species set (code=percent pairs)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				posted := make([]engine.SpeciesInput, 0, len(entries))
				for _, entry := range entries {
					parts := strings.SplitN(entry, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid species entry %q, want code=percent", entry)
					}
					var pct float64
					if _, err := fmt.Sscanf(parts[1], "%f", &pct); err != nil {
						return fmt.Errorf("invalid percentage in %q", entry)
					}
					posted = append(posted, engine.SpeciesInput{Code: parts[0], Percent: pct})
				}
				items, err := e.UpdateFellingSpecies(ctx, args[0], args[1], posted, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringSliceVar(&entries, "set", nil, "species entry, e.g. --set OK=60 --set SP=40")
	return cmd
}

func restockCmd() *cobra.Command {
	rs := &cobra.Command{Use: "restock", Short: "Confirmed restocking details"}
	rs.AddCommand(restockListCmd())
	rs.AddCommand(restockConfirmCmd())
	rs.AddCommand(restockDeleteCmd())
	return rs
}

func restockListCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list <id>",
		Short: "List restocking details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRestockingDetails(ctx, args[0], includeDeleted)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Compartment", "Type", "Area (ha)", "Density", "Deleted"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.CompartmentID, d.RestockingType, d.AreaHa, d.DensityPerHa, d.Deleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted rows")
	return cmd
}

func restockConfirmCmd() *cobra.Command {
	var compartment, rsType string
	var area float64
	var density int
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm a restocking detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.ConfirmRestockingDetail(ctx, engine.RestockingDetailOptions{
					ApplicationID:  args[0],
					CompartmentID:  compartment,
					RestockingType: rsType,
					AreaHa:         area,
					DensityPerHa:   density,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&compartment, "compartment", "", "compartment identifier")
	cmd.Flags().StringVar(&rsType, "type", "", "restocking type")
	cmd.Flags().Float64Var(&area, "area-ha", 0, "area in hectares")
	cmd.Flags().IntVar(&density, "density", 0, "stems per hectare")
	_ = cmd.MarkFlagRequired("compartment")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func restockDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id> <detail-id>",
		Short: "Soft-delete a restocking detail",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteRestockingDetail(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
}

func amendCmd() *cobra.Command {
	am := &cobra.Command{Use: "amend", Short: "Amendment review cycle"}
	am.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the current amendment review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				ar, err := r.CurrentAmendmentReview(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	})
	am.AddCommand(amendSendCmd())
	am.AddCommand(amendFurtherCmd())
	am.AddCommand(applicationActionCmd("complete <id>", "Complete the amendment review cycle", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.CompleteAmendmentReview(ctx, id, viper.GetString("actor-id"))
	}))
	return am
}

func amendSendCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "send <id>",
		Short: "Send confirmed amendments to the applicant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ar, err := e.SendAmendmentsToApplicant(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "what changed and why")
	return cmd
}

func amendFurtherCmd() *cobra.Command {
	var reviewID string
	cmd := &cobra.Command{
		Use:   "further <id>",
		Short: "Start further amendments on a sent review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ar, err := e.MakeFurtherAmendments(ctx, args[0], reviewID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
	cmd.Flags().StringVar(&reviewID, "review", "", "amendment review id")
	_ = cmd.MarkFlagRequired("review")
	return cmd
}

func registerCmd() *cobra.Command {
	rg := &cobra.Command{Use: "register", Short: "Public register"}
	rg.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the register record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec, err := r.GetRegisterRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	})
	rg.AddCommand(registerExemptCmd())
	rg.AddCommand(registerPublishCmd())
	rg.AddCommand(applicationActionCmd("remove <id>", "Remove the case from the public register", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.RemoveFromRegister(ctx, id, viper.GetString("actor-id"))
	}))
	rg.AddCommand(registerCommentCmd())
	return rg
}

func registerExemptCmd() *cobra.Command {
	var exempt bool
	var reason string
	cmd := &cobra.Command{
		Use:   "exempt <id>",
		Short: "Record a public register exemption decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.StoreExemption(ctx, args[0], exempt, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().BoolVar(&exempt, "exempt", false, "the case is exempt from publication")
	cmd.Flags().StringVar(&reason, "reason", "", "exemption reason")
	return cmd
}

func registerPublishCmd() *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish the case to the public register",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				days := period
				if days == 0 {
					days = e.Config.PublicRegister.PeriodDays
				}
				rec, err := e.PublishToRegister(ctx, args[0], days, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().IntVar(&period, "period-days", 0, "consultation period (defaults from config)")
	return cmd
}

func registerCommentCmd() *cobra.Command {
	cm := &cobra.Command{Use: "comment", Short: "Public register comments"}
	cm.AddCommand(registerCommentAddCmd())
	cm.AddCommand(&cobra.Command{
		Use:   "list <id>",
		Short: "List register comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRegisterComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	cm.AddCommand(registerCommentReviewCmd())
	return cm
}

func registerCommentAddCmd() *cobra.Command {
	var author, text string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Record a comment received through the register",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddRegisterComment(ctx, args[0], author, text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "comment author")
	cmd.Flags().StringVar(&text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func registerCommentReviewCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "review <id> <comment-id>",
		Short: "Mark a register comment as reviewed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ReviewComment(ctx, args[0], args[1], text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "updated comment text")
	return cmd
}

func decisionCmd() *cobra.Command {
	dc := &cobra.Command{Use: "decision", Short: "Final decision"}
	dc.AddCommand(applicationActionCmd("approve <id>", "Approve the application", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.ApproveApplication(ctx, id, viper.GetString("actor-id"))
	}))
	dc.AddCommand(applicationActionCmd("refuse <id>", "Refuse the application", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.RefuseApplication(ctx, id, viper.GetString("actor-id"))
	}))
	dc.AddCommand(applicationActionCmd("refer <id>", "Refer the application to the local authority", func(ctx context.Context, e engine.Engine, id string) (any, error) {
		return e.ReferApplicationToLocalAuthority(ctx, id, viper.GetString("actor-id"))
	}))
	dc.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the locally stored decision record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				d, err := r.GetDecisionRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	})
	dc.AddCommand(&cobra.Command{
		Use:   "docs <id>",
		Short: "List case documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListDocuments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return dc
}

func noteCmd() *cobra.Command {
	nt := &cobra.Command{Use: "note", Short: "Case notes"}
	nt.AddCommand(noteAddCmd())
	nt.AddCommand(&cobra.Command{
		Use:   "list <id>",
		Short: "List case notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCaseNotes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Type", "Text", "Author", "Visible", "At"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.Type, n.Text, n.AuthorID, n.VisibleToApplicant, n.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return nt
}

func noteAddCmd() *cobra.Command {
	var noteType, text string
	var visible bool
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a case note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddCaseNote(ctx, args[0], domain.CaseNoteType(noteType), text, visible, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&noteType, "type", "case_note", "note type (case_note, site_visit_comment, return_reason)")
	cmd.Flags().StringVar(&text, "text", "", "note text")
	cmd.Flags().BoolVar(&visible, "visible", false, "visible to the applicant")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, applicationID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, applicationID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Type", "Application", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.ApplicationID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&applicationID, "application", "", "application id filter")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "API keys for the HTTP server"}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := hex.EncodeToString(raw)
				rec := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				fmt.Println("id: ", rec.ID)
				fmt.Println("key:", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyHeader bool
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
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := buildEngine(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CASELINE_JWT_SECRET"),
				AllowLegacyActorHeader: legacyHeader,
			}
			if authCfg.JWTSecret == "" && !legacyHeader {
				return fmt.Errorf("CASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if n, ok := e.Notifier.(*external.HTTPNotifier); ok {
				dispatcher := &external.OutboxDispatcher{Repo: e.Repo, Notifier: n}
				dispatcher.Start(cmd.Context())
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Caseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept the deprecated X-Actor-Id header")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	path := config.Path(viper.GetString("workspace"))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return config.Default(), nil
		}
		return nil, err
	}
	return config.FromFile(path)
}

func buildEngine(conn *sql.DB, cfg *config.Config) engine.Engine {
	e := engine.New(conn, cfg)
	e.Docs = external.LicenceDocumentGenerator{}
	if cfg.PublicRegister.Endpoint != "" {
		e.Register = external.NewRegisterClient(cfg.PublicRegister.Endpoint)
	}
	if endpoint := viper.GetString("notify-endpoint"); endpoint != "" {
		e.Notifier = external.NewHTTPNotifier(endpoint)
	}
	return e
}

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
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return fn(ctx, buildEngine(conn, cfg))
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

func applicationActionCmd(use, short string, fn func(context.Context, engine.Engine, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := fn(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
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
