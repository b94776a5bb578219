package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bricks/internal/auth"
	cl "bricks/internal/cli"
	"bricks/internal/config"
	"bricks/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	queueFile := cfg.QueueFile

	root := &cobra.Command{
		Use:          "brk",
		Short:        "Bricks crate economy client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newWalletCmd(&apiBase),
		newOddsCmd(&apiBase),
		newOpenCmd(&apiBase, queueFile),
		newBookCmd(&apiBase),
		newSellCmd(&apiBase, queueFile),
		newBidCmd(&apiBase, queueFile),
		newCancelCmd(&apiBase, queueFile),
		newBuyCmd(&apiBase, queueFile),
		newHistoryCmd(&apiBase),
		newSyncCmd(&apiBase, queueFile),
		newAdminCmd(&apiBase, queueFile),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func requireSession() (cl.Session, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func credentials() (string, string, error) {
	email, err := promptRequired("Email")
	if err != nil {
		return "", "", err
	}
	password, err := promptSecret("Password")
	if err != nil {
		return "", "", err
	}
	return email, password, nil
}

func saveSession(apiBase string, session auth.Session) error {
	return cl.SaveSession(cl.Session{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		Email:        session.User.Email,
		UserID:       session.User.ID,
		APIBaseURL:   apiBase,
	})
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := credentials()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify email, then run `brk login`.")
				return nil
			}
			if err := saveSession(*apiBase, session); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login and save a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token != "" {
				if err := cl.SaveSession(cl.Session{AccessToken: token, APIBaseURL: *apiBase}); err != nil {
					return err
				}
				printSuccess("Token saved.")
				return nil
			}
			email, password, err := credentials()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveSession(*apiBase, session); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "save a bearer token directly (dev tokens)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newWalletCmd(apiBase *string) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:     "wallet",
		Short:   "Show coins, tokens, crates and pity",
		Aliases: []string{"w"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Wallet(ctx, sess.AccessToken)
			if err != nil {
				return err
			}
			if raw {
				return renderJSON(out)
			}
			return renderWallet(out)
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "print the raw response")
	return cmd
}

func newOddsCmd(apiBase *string) *cobra.Command {
	var season int64
	cmd := &cobra.Command{
		Use:   "odds",
		Short: "Show the current drop distribution",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Odds(ctx, sess.AccessToken, season)
			if err != nil {
				return err
			}
			return renderOdds(out)
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "season id (latest when omitted)")
	return cmd
}

func newOpenCmd(apiBase *string, queueFile string) *cobra.Command {
	var (
		season int64
		target string
	)
	cmd := &cobra.Command{
		Use:   "open [count]",
		Short: "Open 1 or 10 crates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("count must be a number: %w", err)
				}
				count = n
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.OpenCommand(count, season, target, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			return renderOpen(out)
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "season id (latest when omitted)")
	cmd.Flags().StringVar(&target, "target", "", "preferred skin id when a top tier drops")
	return cmd
}

func newBookCmd(apiBase *string) *cobra.Command {
	var season int64
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Show the market book and your open orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).Book(ctx, sess.AccessToken, season)
			if err != nil {
				return err
			}
			return renderBook(out)
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "limit the view to one season")
	return cmd
}

func newSellCmd(apiBase *string, queueFile string) *cobra.Command {
	var season int64
	cmd := &cobra.Command{
		Use:   "sell [quantity] [price]",
		Short: "List crates for sale",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := int64ArgOrPrompt(args, 0, "Quantity", 1)
			if err != nil {
				return err
			}
			price, err := int64ArgOrPrompt(args, 1, "Price per crate", 1)
			if err != nil {
				return err
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.SellCommand(qty, price, season, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			return renderOrderPlaced(out, fmt.Sprintf("Listed %d crates at %d.", qty, price))
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "season to sell (latest when omitted)")
	return cmd
}

func newBidCmd(apiBase *string, queueFile string) *cobra.Command {
	var season int64
	cmd := &cobra.Command{
		Use:   "bid [quantity] [target-price]",
		Short: "Place a buy order that fills whole or not at all",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := int64ArgOrPrompt(args, 0, "Quantity", 1)
			if err != nil {
				return err
			}
			target, err := int64ArgOrPrompt(args, 1, "Target price", 1)
			if err != nil {
				return err
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.BidCommand(qty, target, season, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			return renderOrderPlaced(out, fmt.Sprintf("Bid for %d crates at up to %d placed.", qty, target))
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "season to buy (latest when omitted)")
	return cmd
}

func newCancelCmd(apiBase *string, queueFile string) *cobra.Command {
	return &cobra.Command{
		Use:       "cancel <sell|buy> <order-id>",
		Short:     "Cancel an open order",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"sell", "buy"},
		RunE: func(cmd *cobra.Command, args []string) error {
			side := strings.ToLower(strings.TrimSpace(args[0]))
			if side != "sell" && side != "buy" {
				return fmt.Errorf("side must be sell or buy")
			}
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("order id must be a number: %w", err)
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.CancelCommand(side, id, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			res, err := decodeInto[struct {
				Cancelled bool  `json:"cancelled"`
				Restored  int64 `json:"restored"`
			}](out)
			if err != nil {
				return err
			}
			if !res.Cancelled {
				printInfo(fmt.Sprintf("Order %d was already closed.", id))
				return nil
			}
			unit := "crates"
			if side == "buy" {
				unit = "coins"
			}
			printSuccess(fmt.Sprintf("Order %d cancelled, %s %s restored.", id, comma(res.Restored), unit))
			return nil
		},
	}
}

func newBuyCmd(apiBase *string, queueFile string) *cobra.Command {
	var (
		season   int64
		maxPrice int64
	)
	cmd := &cobra.Command{
		Use:   "buy [count]",
		Short: "Buy crates from the cheapest asks and official stock",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := int64ArgOrPrompt(args, 0, "Crates to buy", 1)
			if err != nil {
				return err
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.ShopCommand(count, maxPrice, season, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			res, err := decodeInto[struct {
				Spent     int64 `json:"spent"`
				GiftSpent int64 `json:"gift_spent"`
				Balance   int64 `json:"balance"`
			}](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Bought %d crates for %s coins (gift %s). Balance %s.", count, comma(res.Spent), comma(res.GiftSpent), comma(res.Balance)))
			return nil
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "only buy this season")
	cmd.Flags().Int64Var(&maxPrice, "max-price", 0, "refuse levels above this price")
	return cmd
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show your market trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).History(ctx, sess.AccessToken, limit)
			if err != nil {
				return err
			}
			return renderHistory(out)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of trades")
	return cmd
}

func newSyncCmd(apiBase *string, queueFile string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := requireSession()
			if err != nil {
				return err
			}
			queue, err := syncq.Open(queueFile)
			if err != nil {
				return err
			}
			pending, err := queue.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			report, err := queue.Drain(ctx, func(ctx context.Context, c syncq.Command) error {
				_, err := client.Send(ctx, sess.AccessToken, c)
				return err
			}, cl.Classify)
			if err != nil {
				return err
			}
			for _, f := range report.Rejected {
				printError(fmt.Sprintf("Dropped %s %s: %v", f.Command.Method, f.Command.Path, f.Err))
			}
			msg := fmt.Sprintf("Sync complete: applied=%d rejected=%d remaining=%d", report.Applied, len(report.Rejected), report.Remaining)
			if report.Remaining > 0 {
				printWarn(msg)
				return nil
			}
			printSuccess(msg)
			return nil
		},
	}
}

func newAdminCmd(apiBase *string, queueFile string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands",
	}
	admin.AddCommand(newAdminSeasonCmd(apiBase, queueFile), newAdminGrantCmd(apiBase, queueFile))
	return admin
}

func newAdminSeasonCmd(apiBase *string, queueFile string) *cobra.Command {
	return &cobra.Command{
		Use:   "season [name]",
		Short: "Start a new season",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = strings.TrimSpace(args[0])
			}
			if name == "" {
				var err error
				if name, err = promptRequired("Season name"); err != nil {
					return err
				}
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.SeasonCommand(name, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			res, err := decodeInto[struct {
				ID int64 `json:"id"`
			}](out)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Season %d %q is live.", res.ID, name))
			return nil
		},
	}
}

func newAdminGrantCmd(apiBase *string, queueFile string) *cobra.Command {
	var (
		coins, giftCoins, tokens  int64
		crates, giftCrates, quota int64
		season                    int64
	)
	cmd := &cobra.Command{
		Use:   "grant <account-id>",
		Short: "Credit coins, tokens or crates to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"account_id":      strings.TrimSpace(args[0]),
				"coins":           coins,
				"gift_coins":      giftCoins,
				"tokens":          tokens,
				"crates":          crates,
				"gift_crates":     giftCrates,
				"season":          season,
				"sell_lock_quota": quota,
			}
			out, err := sendWrite(cmd, apiBase, queueFile, cl.GrantCommand(body, uuid.NewString()))
			if err != nil || out == nil {
				return err
			}
			printSuccess(fmt.Sprintf("Granted to %s.", args[0]))
			return renderWallet(out)
		},
	}
	cmd.Flags().Int64Var(&coins, "coins", 0, "tradable coins")
	cmd.Flags().Int64Var(&giftCoins, "gift-coins", 0, "gift coins")
	cmd.Flags().Int64Var(&tokens, "tokens", 0, "open tokens")
	cmd.Flags().Int64Var(&crates, "crates", 0, "sellable crates")
	cmd.Flags().Int64Var(&giftCrates, "gift-crates", 0, "gift-locked crates")
	cmd.Flags().Int64Var(&season, "season", 0, "crate season (latest when omitted)")
	cmd.Flags().Int64Var(&quota, "sell-lock", 0, "rewards to mark untradable")
	return cmd
}

// sendWrite posts c and queues it for `brk sync` when the API is unreachable.
// A nil result with a nil error means the command was queued.
func sendWrite(cmd *cobra.Command, apiBase *string, queueFile string, c syncq.Command) (map[string]any, error) {
	sess, err := requireSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	out, err := newClient(apiBase).Send(ctx, sess.AccessToken, c)
	if err == nil {
		return out, nil
	}
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return nil, err
	}
	queue, qerr := syncq.Open(queueFile)
	if qerr != nil {
		return nil, fmt.Errorf("%w (queue unavailable: %v)", err, qerr)
	}
	if qerr := queue.Push(c); qerr != nil {
		return nil, fmt.Errorf("%w (queue write failed: %v)", err, qerr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s %s. Run `brk sync` when back online.", c.Method, c.Path))
	return nil, nil
}

func renderOrderPlaced(raw map[string]any, msg string) error {
	res, err := decodeInto[struct {
		Order struct {
			ID     int64 `json:"id"`
			Active bool  `json:"active"`
		} `json:"order"`
		Sweep struct {
			Filled int   `json:"filled"`
			Units  int64 `json:"units"`
		} `json:"sweep"`
	}](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("%s Order #%d.", msg, res.Order.ID))
	if res.Sweep.Filled > 0 {
		accent.Printf("Settlement filled %d bids (%d crates).\n", res.Sweep.Filled, res.Sweep.Units)
	}
	if !res.Order.Active {
		printInfo("Order already closed.")
	}
	return nil
}

func int64ArgOrPrompt(args []string, idx int, label string, min int64) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number: %w", strings.ToLower(label), err)
		}
		if v < min {
			return 0, fmt.Errorf("%s must be >= %d", strings.ToLower(label), min)
		}
		return v, nil
	}
	return promptInt64(label, min)
}
