package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/denniswon/modular-trading-agent/internal/config"
	"github.com/denniswon/modular-trading-agent/internal/paper"
)

const (
	defaultConfigPath = "internal/config/config.yaml"
	recentFillCount   = 10
)

type console struct {
	in   *bufio.Reader
	cfg  *config.Config
	path string
}

type action struct {
	key   string
	label string
	run   func(*console)
}

var actions = []action{
	{"1", "Show configuration summary", (*console).summary},
	{"2", "Edit bankroll and risk", (*console).editRisk},
	{"3", "Edit discovery", (*console).editDiscovery},
	{"4", "Edit engine and strategy", (*console).editEngine},
	{"5", "Save config", (*console).save},
	{"6", "Reload config from disk", (*console).reload},
	{"7", "Launch paper agent", (*console).launch},
	{"8", "Show recent paper fills", (*console).fills},
	{"9", "Query running agent status", (*console).status},
}

func main() {
	c := &console{in: bufio.NewReader(os.Stdin), path: configPath()}
	if err := c.load(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Trading Agent ===")
		for _, a := range actions {
			fmt.Printf("%s) %s\n", a.key, a.label)
		}
		fmt.Println("0) Exit")
		choice := c.line("Select option: ")
		if choice == "0" {
			return
		}
		found := false
		for _, a := range actions {
			if a.key == choice {
				a.run(c)
				found = true
				break
			}
		}
		if !found {
			fmt.Println("unknown option")
		}
	}
}

func configPath() string {
	if p := os.Getenv("AGENT_CONFIG"); p != "" {
		return p
	}
	return filepath.Clean(defaultConfigPath)
}

func (c *console) load() error {
	cfg, err := config.Load(c.path)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *console) summary() {
	cfg := c.cfg
	fmt.Printf("\nconfig: %s\n", c.path)
	fmt.Printf("exchange   %s  symbols=%s\n", cfg.Exchange.Name, strings.Join(cfg.Exchange.Symbols, ","))
	fmt.Printf("engine     mode=%s executor=%s interval=%dms iterations=%d failures-before-suspend=%d\n",
		cfg.Engine.Mode, cfg.Engine.Executor, cfg.Engine.IntervalMs, cfg.Engine.Iterations, cfg.Engine.FailureThreshold)
	fmt.Printf("strategy   %s  min-confidence=%.2f\n", cfg.Strategy.Mode, cfg.Filters.MinConfidence)
	fmt.Printf("bankroll   cash=$%.2f equity=$%.2f\n", cfg.Paper.StartingCash, cfg.Risk.Equity)
	fmt.Printf("risk       per-trade=%.2f%% stop=%.2f%% notional-cap=$%.2f kill-switch=%.2f%%\n",
		cfg.Risk.RiskFraction*100, cfg.Risk.StopPct*100, cfg.Risk.MaxNotionalPerTrade, cfg.Risk.KillSwitchDrawdown*100)
	d := cfg.Exchange.Discovery
	fmt.Printf("discovery  enabled=%t keywords=%s max=%d per-keyword=%d min-liq=$%.0f min-vol=$%.0f\n",
		d.Enabled, strings.Join(d.Keywords, ","), d.MaxPairs, d.MaxPairsPerKeyword, d.MinLiquidityUSD, d.MinVolumeUSD)
}

func (c *console) editRisk() {
	cfg := c.cfg
	cfg.Paper.StartingCash = c.askFloat("Starting cash", cfg.Paper.StartingCash)
	cfg.Risk.Equity = c.askFloat("Sizing equity", cfg.Risk.Equity)
	cfg.Risk.RiskFraction = c.askPercent("Risk per trade (%)", cfg.Risk.RiskFraction)
	cfg.Risk.StopPct = c.askPercent("Stop distance (%)", cfg.Risk.StopPct)
	cfg.Risk.MaxNotionalPerTrade = c.askFloat("Max notional per trade (USD, 0 = none)", cfg.Risk.MaxNotionalPerTrade)
	cfg.Risk.KillSwitchDrawdown = c.askPercent("Kill switch drawdown (%, 0 = off)", cfg.Risk.KillSwitchDrawdown)
}

func (c *console) editEngine() {
	cfg := c.cfg
	cfg.Engine.Mode = c.askText("Mode (pull|stream)", cfg.Engine.Mode)
	cfg.Engine.Executor = c.askText("Executor (paper|log|jupiter|multi)", cfg.Engine.Executor)
	if strings.EqualFold(cfg.Engine.Executor, "multi") {
		if list := c.askText("Multi members in fallback order", strings.Join(cfg.Engine.Executors, ",")); list != "" {
			cfg.Engine.Executors = splitList(list)
		}
	}
	cfg.Strategy.Mode = c.askText("Strategy (sma|rsi|momentum|obi|trend|combo)", cfg.Strategy.Mode)
	cfg.Engine.IntervalMs = c.askInt("Interval (ms)", cfg.Engine.IntervalMs)
	cfg.Engine.Iterations = c.askInt("Iteration budget (0 = unbounded)", cfg.Engine.Iterations)
	cfg.Engine.FailureThreshold = c.askInt("Failures before suspension", cfg.Engine.FailureThreshold)
	cfg.Filters.MinConfidence = c.askFloat("Min signal confidence", cfg.Filters.MinConfidence)
}

func (c *console) editDiscovery() {
	d := &c.cfg.Exchange.Discovery
	d.Enabled = c.askBool("Enabled", d.Enabled)
	if kw := c.askText("Keywords (comma separated)", strings.Join(d.Keywords, ",")); kw != "" {
		d.Keywords = splitList(kw)
	}
	d.MaxPairs = c.askInt("Max pairs overall", d.MaxPairs)
	d.MaxPairsPerKeyword = c.askInt("Max pairs per keyword", d.MaxPairsPerKeyword)
	d.MinLiquidityUSD = c.askFloat("Min liquidity (USD)", d.MinLiquidityUSD)
	d.MinVolumeUSD = c.askFloat("Min volume (USD)", d.MinVolumeUSD)
}

func (c *console) save() {
	if err := c.cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "not saved, config invalid:\n%v\n", err)
		return
	}
	if err := config.Save(c.path, c.cfg); err != nil {
		fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
		return
	}
	fmt.Println("config saved")
}

func (c *console) reload() {
	if err := c.load(); err != nil {
		fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
		return
	}
	fmt.Println("config reloaded")
}

func (c *console) launch() {
	fmt.Println("launching paper agent...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/paper")
	cmd.Env = append(os.Environ(), "AGENT_CONFIG="+c.path)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start agent: %v\n", err)
		return
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	c.line("\npress ENTER to stop the agent and return to the menu")
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func (c *console) fills() {
	path := c.cfg.Paper.FillsPath
	if path == "" {
		fmt.Println("fill log disabled (paper.fills_path is empty)")
		return
	}
	fills, err := paper.ReadFillLog(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
		return
	}
	if len(fills) > recentFillCount {
		fills = fills[len(fills)-recentFillCount:]
	}
	for _, f := range fills {
		fmt.Printf("%s  %-4s %-14s qty=%.6f px=%.6f pnl=%.2f\n",
			f.Ts.Format(time.RFC3339), f.Side, f.Symbol, f.Qty, f.Price, f.PnL)
	}
	if len(fills) == 0 {
		fmt.Println("no fills yet")
	}
}

func (c *console) status() {
	addr := c.cfg.App.MetricsAddr
	if addr == "" {
		fmt.Println("status endpoint disabled (app.metrics_addr is empty)")
		return
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	client := http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "agent not reachable: %v\n", err)
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read status: %v\n", err)
		return
	}
	var pretty map[string]any
	if json.Unmarshal(body, &pretty) != nil {
		fmt.Println(string(body))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

func (c *console) line(prompt string) string {
	fmt.Print(prompt)
	s, _ := c.in.ReadString('\n')
	return strings.TrimSpace(s)
}

func (c *console) askText(label, current string) string {
	if s := c.line(fmt.Sprintf("%s [%s]: ", label, current)); s != "" {
		return s
	}
	return current
}

func (c *console) askFloat(label string, current float64) float64 {
	s := c.line(fmt.Sprintf("%s [%g]: ", label, current))
	if s == "" {
		return current
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %g\n", current)
		return current
	}
	return v
}

func (c *console) askInt(label string, current int) int {
	return int(c.askFloat(label, float64(current)))
}

func (c *console) askBool(label string, current bool) bool {
	v, err := strconv.ParseBool(c.askText(label, strconv.FormatBool(current)))
	if err != nil {
		return current
	}
	return v
}

func (c *console) askPercent(label string, current float64) float64 {
	return c.askFloat(label, current*100) / 100
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
