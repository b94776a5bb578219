package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	gold        = color.New(color.FgHiYellow, color.Bold)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	offStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type balance struct {
	Total int64 `json:"total"`
	Gift  int64 `json:"gift"`
}

type pity struct {
	Top    int `json:"pity_top"`
	Second int `json:"pity_second"`
}

type walletPayload struct {
	AccountID string  `json:"account_id"`
	Admin     bool    `json:"admin"`
	Coins     balance `json:"coins"`
	Tokens    balance `json:"tokens"`
	Crates    []struct {
		Season     int64 `json:"season"`
		Quantity   int64 `json:"quantity"`
		GiftLocked int64 `json:"gift_locked"`
		Sellable   int64 `json:"sellable"`
	} `json:"crates"`
	Pity              map[string]pity `json:"pity"`
	GiftSellLockQuota int64           `json:"gift_sell_lock_quota"`
}

type oddsPayload struct {
	Season       int64 `json:"season"`
	Pity         pity  `json:"pity"`
	Distribution struct {
		Top          string `json:"top"`
		Second       string `json:"second"`
		Third        string `json:"third"`
		Fourth       string `json:"fourth"`
		ForcedTop    bool   `json:"forced_top"`
		ForcedSecond bool   `json:"forced_second"`
	} `json:"distribution"`
	PityMax  int `json:"pity_max"`
	PityMax2 int `json:"pity_max_second"`
}

type rewardRow struct {
	Tier     string `json:"tier"`
	SkinID   string `json:"skin_id"`
	Special  bool   `json:"special"`
	Tradable bool   `json:"tradable"`
}

type openPayload struct {
	Season     int64       `json:"season"`
	Rewards    []rewardRow `json:"rewards"`
	Pity       pity        `json:"pity"`
	CratesLeft int64       `json:"crates_left"`
	TokensLeft int64       `json:"tokens_left"`
	BasePrice  string      `json:"base_price"`
}

type sellRow struct {
	ID        int64  `json:"id"`
	Owner     string `json:"owner"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Remaining int64  `json:"remaining"`
	Season    int64  `json:"season"`
	Active    bool   `json:"active"`
}

type bidRow struct {
	ID          int64  `json:"id"`
	Owner       string `json:"owner"`
	TargetPrice int64  `json:"target_price"`
	Quantity    int64  `json:"quantity"`
	Remaining   int64  `json:"remaining"`
	LockedFunds int64  `json:"locked_funds"`
	Season      int64  `json:"season"`
	Active      bool   `json:"active"`
}

type bookPayload struct {
	Season    int64  `json:"season"`
	BasePrice string `json:"base_price"`
	Sentiment string `json:"sentiment"`
	Layers    []struct {
		Price    int64 `json:"price"`
		Quantity int64 `json:"quantity"`
		Season   int64 `json:"season"`
	} `json:"layers"`
	MySells   []sellRow `json:"my_sells"`
	MyBids    []bidRow  `json:"my_bids"`
	AllSells  []sellRow `json:"all_sells"`
	AllBids   []bidRow  `json:"all_bids"`
	Histogram []struct {
		Price    int64 `json:"price"`
		Quantity int64 `json:"quantity"`
		Orders   int   `json:"orders"`
	} `json:"histogram"`
}

type tradeRow struct {
	Action      string    `json:"action"`
	Source      string    `json:"source"`
	Quantity    int64     `json:"quantity"`
	UnitPrice   int64     `json:"unit_price"`
	TotalAmount int64     `json:"total_amount"`
	NetAmount   int64     `json:"net_amount"`
	Season      int64     `json:"season"`
	CreatedAt   time.Time `json:"created_at"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func renderWallet(raw map[string]any) error {
	w, err := decodeInto[walletPayload](raw)
	if err != nil {
		return err
	}
	role := ""
	if w.Admin {
		role = gold.Sprint(" [admin]")
	}
	accent.Printf("\n== WALLET %s ==%s\n", w.AccountID, role)
	fmt.Printf("Coins:   %s (gift %s)\n", comma(w.Coins.Total), comma(w.Coins.Gift))
	fmt.Printf("Tokens:  %s\n", comma(w.Tokens.Total))
	if w.GiftSellLockQuota > 0 {
		fmt.Printf("Untradable rewards pending: %d\n", w.GiftSellLockQuota)
	}
	fmt.Println()
	accent.Println("Crates")
	if len(w.Crates) == 0 {
		printInfo("No crates yet.")
	} else {
		fmt.Printf("%-8s %10s %12s %10s %12s\n", "SEASON", "QTY", "GIFT-LOCKED", "SELLABLE", "PITY T/S")
		for _, c := range w.Crates {
			p := w.Pity[strconv.FormatInt(c.Season, 10)]
			fmt.Printf("%-8d %10d %12d %10d %12s\n", c.Season, c.Quantity, c.GiftLocked, c.Sellable, fmt.Sprintf("%d/%d", p.Top, p.Second))
		}
	}
	fmt.Println()
	return nil
}

func renderOdds(raw map[string]any) error {
	o, err := decodeInto[oddsPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== ODDS (Season %d) ==\n", o.Season)
	fmt.Printf("Pity: top %d/%d  second %d/%d\n", o.Pity.Top, o.PityMax, o.Pity.Second, o.PityMax2)
	rows := []struct{ name, pct string }{
		{"top", o.Distribution.Top},
		{"second", o.Distribution.Second},
		{"third", o.Distribution.Third},
		{"fourth", o.Distribution.Fourth},
	}
	for _, r := range rows {
		fmt.Printf("  %-7s %9s%%\n", r.name, r.pct)
	}
	switch {
	case o.Distribution.ForcedTop:
		gold.Println("Next crate is guaranteed top tier.")
	case o.Distribution.ForcedSecond:
		success.Println("Next crate is guaranteed second tier or better.")
	}
	fmt.Println()
	return nil
}

func renderOpen(raw map[string]any) error {
	o, err := decodeInto[openPayload](raw)
	if err != nil {
		return err
	}
	accent.Printf("\n== OPENED %d (Season %d) ==\n", len(o.Rewards), o.Season)
	for _, r := range o.Rewards {
		line := fmt.Sprintf("%-7s %s", r.Tier, r.SkinID)
		if r.Special {
			line += " *"
		}
		if !r.Tradable {
			line += " (untradable)"
		}
		tierColor(r.Tier).Println(line)
	}
	fmt.Printf("\nPity now top %d / second %d. Crates left %d, tokens left %d. Official base %s.\n\n",
		o.Pity.Top, o.Pity.Second, o.CratesLeft, o.TokensLeft, o.BasePrice)
	return nil
}

func tierColor(tier string) *color.Color {
	switch tier {
	case "top":
		return gold
	case "second":
		return success
	case "third":
		return accent
	default:
		return neutral
	}
}

func renderBook(raw map[string]any) error {
	b, err := decodeInto[bookPayload](raw)
	if err != nil {
		return err
	}
	title := "ORDER BOOK (all seasons)"
	if b.Season > 0 {
		title = fmt.Sprintf("ORDER BOOK (Season %d)", b.Season)
	}
	var body strings.Builder
	body.WriteString(titleStyle.Render(title))
	body.WriteString(fmt.Sprintf("\nbase %s  sentiment %s\n\n", b.BasePrice, b.Sentiment))

	maxQty := int64(1)
	for _, l := range b.Histogram {
		maxQty = max(maxQty, l.Quantity)
	}
	levels := b.Histogram
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	for _, l := range levels {
		width := int(l.Quantity * 30 / maxQty)
		bar := barStyle.Render(strings.Repeat("█", width)) + offStyle.Render(strings.Repeat("·", 30-width))
		body.WriteString(fmt.Sprintf("%5d %s %7d\n", l.Price, bar, l.Quantity))
	}
	if len(levels) == 0 {
		body.WriteString("no liquidity\n")
	}
	fmt.Println(panelStyle.Render(strings.TrimRight(body.String(), "\n")))

	renderSells("My asks", b.MySells)
	renderBids("My bids", b.MyBids)
	if b.AllSells != nil {
		renderSells("All asks", b.AllSells)
		renderBids("All bids", b.AllBids)
	}
	fmt.Println()
	return nil
}

func renderSells(title string, rows []sellRow) {
	fmt.Println()
	accent.Println(title)
	if len(rows) == 0 {
		printInfo("None.")
		return
	}
	fmt.Printf("%-6s %-12s %-7s %8s %10s\n", "ID", "OWNER", "SEASON", "PRICE", "REMAINING")
	for _, o := range rows {
		fmt.Printf("%-6d %-12s %-7d %8d %10s\n", o.ID, truncate(o.Owner, 12), o.Season, o.Price, fmt.Sprintf("%d/%d", o.Remaining, o.Quantity))
	}
}

func renderBids(title string, rows []bidRow) {
	fmt.Println()
	accent.Println(title)
	if len(rows) == 0 {
		printInfo("None.")
		return
	}
	fmt.Printf("%-6s %-12s %-7s %8s %6s %10s\n", "ID", "OWNER", "SEASON", "TARGET", "QTY", "LOCKED")
	for _, o := range rows {
		fmt.Printf("%-6d %-12s %-7d %8d %6d %10s\n", o.ID, truncate(o.Owner, 12), o.Season, o.TargetPrice, o.Quantity, comma(o.LockedFunds))
	}
}

func renderHistory(raw map[string]any) error {
	payload, err := decodeInto[struct {
		Trades []tradeRow `json:"trades"`
	}](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== TRADE HISTORY ==")
	if len(payload.Trades) == 0 {
		printInfo("No trades yet.")
		return nil
	}
	fmt.Printf("%-17s %-10s %-9s %-7s %6s %7s %10s\n", "WHEN", "ACTION", "SOURCE", "SEASON", "QTY", "PRICE", "NET")
	for _, t := range payload.Trades {
		fmt.Printf("%-17s %-10s %-9s %-7d %6d %7d %10s\n",
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			t.Action, t.Source, t.Season, t.Quantity, t.UnitPrice, colorizeCoins(t.NetAmount))
	}
	fmt.Println()
	return nil
}

func renderJSON(raw map[string]any) error {
	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeCoins(v int64) string {
	text := comma(v)
	switch {
	case v > 0:
		return success.Sprint("+" + text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
