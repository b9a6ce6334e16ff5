package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const usage = `usage: memebank [-v] [-c config] [-n network] <command> [args]

commands:
  networks                 list supported networks
  connect                  connect the wallet and switch it to the network
  position [address]       collateral, debt and deposits
  stats                    platform totals and liquidity
  price                    oracle price of the collateral
  rates                    lending and borrow rates, collateral ratio
  repayment [address]      outstanding principal and interest
  balances [address]       wallet token balances
  deposit <amount>         deposit collateral
  borrow <amount>          borrow stablecoins
  deposit-stable <amount>  deposit stablecoins
  repay <amount>           repay the loan
  history                  submitted transactions
  serve                    run the dashboards and the http api
`

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "show version information")
	var configFile string
	flag.StringVar(&configFile, "c", "config.json", "config file")
	var network string
	flag.StringVar(&network, "n", "", "network key, name or chain id")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if showVersion {
		fmt.Println(GetVersion())
		os.Exit(0)
	}

	if err := LoadConfig(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			panic(err)
		}
		fmt.Fprintf(os.Stderr, "config %s not found, using defaults\n", configFile)
	}
	if network != "" {
		G.Network = network
	}
	InitLogger()
	defer Log.Sync()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(&G)
	if err != nil {
		Log.Fatal("init", zap.Error(err))
	}
	defer app.Close()

	if err = run(ctx, app, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App, cmd string, args []string) error {
	switch cmd {
	case "networks":
		return printJSON(app.Registry().Networks())
	case "serve":
		return serve(ctx, app)
	case "history":
		return history(app)
	}

	d, err := app.Dashboard(ctx, G.Network)
	if err != nil {
		return err
	}
	s := d.Service()

	switch cmd {
	case "connect":
		conn, err := d.Connect(ctx)
		if err != nil {
			return err
		}
		return printJSON(conn)
	case "stats":
		return printResult(s.PlatformStats(ctx))
	case "price":
		price, err := s.OraclePrice(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"price": price})
	case "rates":
		return printResult(s.Rates(ctx))
	case "position", "repayment", "balances":
		addr, err := accountArg(ctx, d, args)
		if err != nil {
			return err
		}
		switch cmd {
		case "position":
			return printResult(s.UserData(ctx, addr))
		case "repayment":
			return printResult(s.RepaymentDetails(ctx, addr))
		default:
			return printResult(s.Balances(ctx, addr))
		}
	case "deposit", "borrow", "deposit-stable", "repay":
		kind, err := ParseTxKind(cmd)
		if err != nil {
			return err
		}
		if len(args) != 1 {
			return fmt.Errorf("%s requires an amount", cmd)
		}
		if _, err = d.Connect(ctx); err != nil {
			return err
		}
		record, err := d.Submit(ctx, kind, args[0])
		if record != nil {
			_ = printJSON(record)
		}
		if err != nil {
			return err
		}
		return printJSON(d.Snapshot())
	}

	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

// accountArg returns the address argument, or the connected wallet account without one.
func accountArg(ctx context.Context, d *Dashboard, args []string) (common.Address, error) {
	if len(args) > 0 {
		if !common.IsHexAddress(args[0]) {
			return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, args[0])
		}
		return common.HexToAddress(args[0]), nil
	}
	conn, err := d.Connect(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return conn.Address, nil
}

func history(app *App) error {
	h, err := app.History()
	if err != nil {
		return err
	}
	n, err := app.Registry().Find(G.Network)
	if err != nil {
		return err
	}
	records, err := h.List(n.Key, 0)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func serve(ctx context.Context, app *App) error {
	dashboards, err := app.ServeAll(ctx)
	if err != nil {
		return err
	}
	history, err := app.History()
	if err != nil {
		return err
	}

	for key, d := range dashboards {
		if _, err = d.Connect(ctx); err != nil {
			Log.Warn("wallet connect failed", zap.String("network", key), zap.Error(err))
		}
		go d.Run(ctx)
	}

	api := NewAPIServer(app.Registry(), dashboards, history, G.API, G.Dashboard.dataInterval())
	errc := api.Start()

	select {
	case <-ctx.Done():
	case err = <-errc:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}
	Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return api.Shutdown(shutdownCtx)
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	return printJSON(v)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
