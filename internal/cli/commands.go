package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tutu-network/memberledger/internal/daemon"
	"github.com/tutu-network/memberledger/internal/domain"
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(rewardCmd)
	rootCmd.AddCommand(dualRewardCmd)
	rootCmd.AddCommand(depositFeeCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(supplyCmd)
	rootCmd.AddCommand(levelCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	initCmd.Flags().String("owner", "", "account allowed to update certificate levels")
	initCmd.Flags().Uint64("max-reward", 0, "largest reward a single task may pay (0 = uncapped)")

	rewardCmd.Flags().String("kind", "", "task kind: vote, attend_event, say_hi, reasoned")
	rewardCmd.Flags().String("poll", "", "poll name (vote)")
	rewardCmd.Flags().String("event", "", "event name (attend_event)")
	rewardCmd.Flags().String("reason", "", "reason (reasoned)")
	rewardCmd.Flags().Uint64("amount", 0, "reward credits to pay")
	rewardCmd.MarkFlagRequired("kind")

	supplyCmd.Flags().Int("history", 0, "also list this many stored supply snapshots")
	levelCmd.Flags().String("signer", "", "account signing the update (must be the registry owner)")
	levelCmd.MarkFlagRequired("signer")
}

// ─── init ───────────────────────────────────────────────────────────────────

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the registry in the data directory",
	Long: `Create a registry with its reward, bonus and member card resources.
If the data directory already holds a registry it is left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if o, _ := cmd.Flags().GetString("owner"); o != "" {
			cfg.Registry.Owner = o
		}
		if cmd.Flags().Changed("max-reward") {
			cfg.Registry.MaxRewardAmount, _ = cmd.Flags().GetUint64("max-reward")
		}
		d, err := openLocal(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		state := d.Registry.State(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Registry:         %s\n", state.Address)
		fmt.Fprintf(out, "Owner:            %s\n", state.Owner)
		fmt.Fprintf(out, "Reward resource:  %s\n", state.RewardResource)
		fmt.Fprintf(out, "Bonus resource:   %s\n", state.BonusResource)
		fmt.Fprintf(out, "Card resource:    %s\n", state.CardResource)
		if state.MaxRewardAmount > 0 {
			fmt.Fprintf(out, "Max reward:       %d\n", state.MaxRewardAmount)
		}
		fmt.Fprintf(out, "Journal:          %s\n", d.DB.Path())
		return nil
	},
}

// ─── join ───────────────────────────────────────────────────────────────────

var joinCmd = &cobra.Command{
	Use:   "join ACCOUNT",
	Short: "Mint a member card into an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			cert, err := d.Service.Join(ctx, domain.Address(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s joined with certificate #%d (level %s, issued %s)\n",
				args[0], cert.ID, cert.Level, cert.IssuedAt.Format("2006-01-02 15:04"))
			return nil
		})
	},
}

// ─── reward ─────────────────────────────────────────────────────────────────

var rewardCmd = &cobra.Command{
	Use:   "reward ACCOUNT",
	Short: "Issue a task reward to a member",
	Example: `  memberd reward account_alice --kind attend_event --event my_nice_event --amount 413
  memberd reward account_alice --kind reasoned --reason "helped at the booth" --amount 20`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := domain.TaskRequest{}
		req.Kind, _ = cmd.Flags().GetString("kind")
		req.Poll, _ = cmd.Flags().GetString("poll")
		req.Event, _ = cmd.Flags().GetString("event")
		req.Reason, _ = cmd.Flags().GetString("reason")
		req.Amount, _ = cmd.Flags().GetUint64("amount")

		task, err := domain.ParseTask(req)
		if err != nil {
			return err
		}
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			b, err := d.Service.Reward(ctx, domain.Address(args[0]), task)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s earned %d reward credits (%s)\n",
				args[0], b.Amount, domain.DescribeTask(task))
			return nil
		})
	},
}

// ─── dual-reward ────────────────────────────────────────────────────────────

var dualRewardCmd = &cobra.Command{
	Use:   "dual-reward ACCOUNT",
	Short: "Issue the fixed reward and bonus credit payout to a member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			reward, bonus, err := d.Service.DualReward(ctx, domain.Address(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s earned %d reward credits and %d bonus credits\n",
				args[0], reward.Amount, bonus.Amount)
			return nil
		})
	},
}

// ─── deposit-fee ────────────────────────────────────────────────────────────

var depositFeeCmd = &cobra.Command{
	Use:   "deposit-fee ACCOUNT AMOUNT",
	Short: "Add settlement units to the fee reserve",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[1], err)
		}
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			if err := d.Service.DepositFee(ctx, domain.Address(args[0]), amount); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Deposited %d. Fee reserve: %d\n",
				amount, d.Registry.FeeReserve(ctx))
			return nil
		})
	},
}

// ─── account ────────────────────────────────────────────────────────────────

var accountCmd = &cobra.Command{
	Use:   "account ACCOUNT",
	Short: "Show an account's credits and certificates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			acct, err := d.Service.Balances(ctx, domain.Address(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Account:         %s\n", acct.Account)
			fmt.Fprintf(out, "Reward credits:  %d\n", acct.RewardCredits)
			fmt.Fprintf(out, "Bonus credits:   %d\n", acct.BonusCredits)
			if len(acct.Certificates) == 0 {
				fmt.Fprintln(out, "Certificates:    none")
				return nil
			}
			fmt.Fprintln(out, "Certificates:")
			for _, c := range acct.Certificates {
				fmt.Fprintf(out, "  #%-6d level %-10s issued %s\n", c.ID, c.Level, c.IssuedAt.Format("2006-01-02 15:04"))
			}
			return nil
		})
	},
}

// ─── supply ─────────────────────────────────────────────────────────────────

var supplyCmd = &cobra.Command{
	Use:   "supply",
	Short: "Show total supplies and the fee reserve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		history, _ := cmd.Flags().GetInt("history")
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			s := d.Registry.Supply(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Reward credits:       %d\n", s.RewardSupply)
			fmt.Fprintf(out, "Bonus credits:        %d\n", s.BonusSupply)
			fmt.Fprintf(out, "Certificates:         %d\n", s.CertificateSupply)
			fmt.Fprintf(out, "Certificates issued:  %d\n", s.CertificatesIssued)
			fmt.Fprintf(out, "Fee reserve:          %d\n", s.FeeReserve)

			if history <= 0 {
				return nil
			}
			snaps, err := d.DB.ListSupplySnapshots(ctx, d.Registry.Address(), history)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%-17s  %s\n", "TAKEN", "SUPPLY")
			fmt.Fprintln(out, strings.Repeat("─", 60))
			for _, snap := range snaps {
				fmt.Fprintf(out, "%-17s  %s\n", snap.TakenAt.Format("2006-01-02 15:04"), snap)
			}
			return nil
		})
	},
}

// ─── level ──────────────────────────────────────────────────────────────────

var levelCmd = &cobra.Command{
	Use:   "level CERTIFICATE_ID LEVEL",
	Short: "Change a certificate's level (registry owner only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid certificate id %q: %w", args[0], err)
		}
		signer, _ := cmd.Flags().GetString("signer")
		return withLocal(cmd, func(ctx context.Context, d *daemon.Daemon) error {
			cert, err := d.Service.UpdateLevel(ctx, domain.Address(signer), id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Certificate #%d is now level %s\n", cert.ID, cert.Level)
			return nil
		})
	},
}

// ─── config ─────────────────────────────────────────────────────────────────

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = daemon.DefaultConfigPath()
		}
		if err := daemon.Save(path, daemon.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
		return nil
	},
}
