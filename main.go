package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"zakobox-go/internal/chain"
	"zakobox-go/internal/config"
	"zakobox-go/internal/logging"
	"zakobox-go/internal/notify"
	"zakobox-go/internal/session"
	"zakobox-go/internal/treasury"
	"zakobox-go/internal/wallet"
)

type workspace struct {
	cfg      *config.Config
	gateway  *chain.Client
	wallet   *wallet.Session
	sessions *session.Store
	factory  *treasury.Factory
	treasury *treasury.Treasury
}

// connect dials the configured network and wires up the workflows. The
// signing key comes from ZAKOBOX_PRIVATE_KEY so it never appears in argv.
func connect(ctx context.Context, cfg *config.Config) (*workspace, error) {
	gw, err := chain.Dial(ctx, cfg.RPCURL, cfg.FinalityPollInterval, cfg.FinalityTimeout)
	if err != nil {
		return nil, err
	}

	keyHex := strings.TrimSpace(os.Getenv("ZAKOBOX_PRIVATE_KEY"))
	if keyHex == "" {
		gw.Close()
		return nil, fmt.Errorf("ZAKOBOX_PRIVATE_KEY is not set")
	}
	provider, err := wallet.NewKeyProviderFromHex(keyHex)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	w := wallet.NewSession(provider)
	if err := w.Connect(ctx); err != nil {
		gw.Close()
		return nil, err
	}

	api, err := session.NewClient(cfg.SessionAPI)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("failed to parse session API URL: %w", err)
	}

	notifier := notify.NewLog("cli")
	return &workspace{
		cfg:      cfg,
		gateway:  gw,
		wallet:   w,
		sessions: session.NewStore(api, w, notifier),
		factory:  treasury.NewFactory(gw, w, cfg.FactoryAddress(), notifier),
		treasury: treasury.New(gw, w, notifier),
	}, nil
}

func (ws *workspace) Close() {
	ws.gateway.Close()
}

// resolveAsset accepts "eth", a configured token symbol, or a hex address.
func (ws *workspace) resolveAsset(asset string) (common.Address, error) {
	if strings.EqualFold(asset, "eth") || strings.EqualFold(asset, "native") {
		return chain.NativeAsset, nil
	}
	if addr, ok := ws.cfg.TokenAddress(strings.ToUpper(asset)); ok {
		return addr, nil
	}
	if common.IsHexAddress(asset) {
		return common.HexToAddress(asset), nil
	}
	return common.Address{}, fmt.Errorf("unknown asset %q", asset)
}

// assetAmount resolves an asset reference and parses a decimal amount in the
// asset's display units.
func (ws *workspace) assetAmount(ctx context.Context, asset, amount string) (common.Address, *big.Int, error) {
	addr, err := ws.resolveAsset(asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	info, err := chain.GetTokenInfo(ctx, ws.gateway, addr)
	if err != nil {
		return common.Address{}, nil, err
	}
	units, err := chain.ParseAmount(amount, info.Decimals)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, units, nil
}

func (ws *workspace) selectTreasury(raw string) error {
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid treasury address %q", raw)
	}
	ws.treasury.SetCurrent(common.HexToAddress(raw))
	return nil
}

func LoginCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:          "login",
		Short:        "Connect the wallet and authenticate with the session API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			user, err := ws.sessions.Create(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", user.Address)
			return nil
		},
	}
}

func LogoutCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:          "logout",
		Short:        "Destroy the session and disconnect the wallet",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			ws.sessions.Destroy(cmd.Context())
			fmt.Println("Logged out.")
			return nil
		},
	}
}

func WhoamiCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:          "whoami",
		Short:        "Show the connected wallet address",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			fmt.Println(ws.wallet.Address())
			return nil
		},
	}
}

func DeployCmd(cfg **config.Config) *cobra.Command {
	var name string
	var description string
	var owners []string
	var threshold int64

	cmd := &cobra.Command{
		Use:          "deploy",
		Short:        "Deploy a new treasury through the factory",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()

			ownerAddrs := []common.Address{ws.wallet.Address()}
			for _, o := range owners {
				if !common.IsHexAddress(o) {
					return fmt.Errorf("invalid owner address %q", o)
				}
				addr := common.HexToAddress(o)
				if addr != ws.wallet.Address() {
					ownerAddrs = append(ownerAddrs, addr)
				}
			}

			treasuryCfg := treasury.DefaultConfig(ownerAddrs, big.NewInt(threshold))
			addr, err := ws.factory.Deploy(cmd.Context(), treasuryCfg, name, description)
			if err != nil {
				return err
			}
			fmt.Printf("Treasury deployed at %s\n", addr)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Treasury name")
	cmd.Flags().StringVar(&description, "description", "", "Treasury description")
	cmd.Flags().StringSliceVar(&owners, "owner", nil, "Additional owner address (repeatable)")
	cmd.Flags().Int64Var(&threshold, "threshold", 1, "Approvals required to execute a withdrawal")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func TreasuriesCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:          "treasuries",
		Short:        "List treasuries deployed by the connected wallet",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()

			mine, err := ws.factory.RefreshMine(cmd.Context())
			if err != nil {
				return err
			}
			if len(mine) == 0 {
				fmt.Println("No treasuries deployed yet.")
				return nil
			}
			for _, addr := range mine {
				info, err := ws.factory.Info(cmd.Context(), addr)
				if err != nil {
					fmt.Printf("%s\t(info unavailable)\n", addr)
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", addr, info.Name, info.Description)
			}
			return nil
		},
	}
}

func DonateCmd(cfg **config.Config) *cobra.Command {
	var treasuryAddr string
	var asset string

	cmd := &cobra.Command{
		Use:          "donate <amount>",
		Short:        "Donate ETH or a token to a treasury",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.selectTreasury(treasuryAddr); err != nil {
				return err
			}

			addr, units, err := ws.assetAmount(cmd.Context(), asset, args[0])
			if err != nil {
				return err
			}
			if err := ws.treasury.Donate(cmd.Context(), addr, units); err != nil {
				return err
			}
			fmt.Println("Donation confirmed.")
			return nil
		},
	}

	cmd.Flags().StringVar(&treasuryAddr, "treasury", "", "Treasury address")
	cmd.Flags().StringVar(&asset, "asset", "eth", "Asset to donate (eth, token symbol, or address)")
	_ = cmd.MarkFlagRequired("treasury")
	return cmd
}

func ProposeCmd(cfg **config.Config) *cobra.Command {
	var treasuryAddr string
	var asset string
	var recipient string
	var description string

	cmd := &cobra.Command{
		Use:          "propose <amount>",
		Short:        "Propose a withdrawal from a treasury",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.selectTreasury(treasuryAddr); err != nil {
				return err
			}
			if !common.IsHexAddress(recipient) {
				return fmt.Errorf("invalid recipient address %q", recipient)
			}

			addr, units, err := ws.assetAmount(cmd.Context(), asset, args[0])
			if err != nil {
				return err
			}
			id, err := ws.treasury.ProposeWithdrawal(cmd.Context(), addr, common.HexToAddress(recipient), units, description)
			if err != nil {
				return err
			}
			fmt.Printf("Proposal %d created.\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&treasuryAddr, "treasury", "", "Treasury address")
	cmd.Flags().StringVar(&asset, "asset", "eth", "Asset to withdraw (eth, token symbol, or address)")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Withdrawal recipient")
	cmd.Flags().StringVar(&description, "description", "", "Proposal description")
	_ = cmd.MarkFlagRequired("treasury")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func proposalActionCmd(cfg **config.Config, use, short string, run func(ctx context.Context, ws *workspace, id uint64) error) *cobra.Command {
	var treasuryAddr string

	cmd := &cobra.Command{
		Use:          use + " <proposal-id>",
		Short:        short,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid proposal id %q", args[0])
			}
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.selectTreasury(treasuryAddr); err != nil {
				return err
			}
			return run(cmd.Context(), ws, id)
		},
	}

	cmd.Flags().StringVar(&treasuryAddr, "treasury", "", "Treasury address")
	_ = cmd.MarkFlagRequired("treasury")
	return cmd
}

func ApproveCmd(cfg **config.Config) *cobra.Command {
	return proposalActionCmd(cfg, "approve", "Approve a withdrawal proposal", func(ctx context.Context, ws *workspace, id uint64) error {
		if err := ws.treasury.Approve(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Proposal %d approved.\n", id)
		return nil
	})
}

func ExecuteCmd(cfg **config.Config) *cobra.Command {
	return proposalActionCmd(cfg, "execute", "Execute an approved withdrawal proposal", func(ctx context.Context, ws *workspace, id uint64) error {
		if err := ws.treasury.Execute(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Proposal %d executed.\n", id)
		return nil
	})
}

func BalanceCmd(cfg **config.Config) *cobra.Command {
	var treasuryAddr string
	var asset string

	cmd := &cobra.Command{
		Use:          "balance",
		Short:        "Show a treasury's balance for an asset",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.selectTreasury(treasuryAddr); err != nil {
				return err
			}

			addr, err := ws.resolveAsset(asset)
			if err != nil {
				return err
			}
			info, err := chain.GetTokenInfo(cmd.Context(), ws.gateway, addr)
			if err != nil {
				return err
			}
			balance, err := ws.treasury.Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			donated, err := ws.treasury.TotalDonations(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Printf("Balance: %s %s\n", chain.FormatAmount(balance, info.Decimals), info.Symbol)
			fmt.Printf("Total donated: %s %s\n", chain.FormatAmount(donated, info.Decimals), info.Symbol)
			return nil
		},
	}

	cmd.Flags().StringVar(&treasuryAddr, "treasury", "", "Treasury address")
	cmd.Flags().StringVar(&asset, "asset", "eth", "Asset to inspect (eth, token symbol, or address)")
	_ = cmd.MarkFlagRequired("treasury")
	return cmd
}

func ProposalsCmd(cfg **config.Config) *cobra.Command {
	var treasuryAddr string

	cmd := &cobra.Command{
		Use:          "proposals",
		Short:        "List a treasury's withdrawal proposals",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.selectTreasury(treasuryAddr); err != nil {
				return err
			}

			count, err := ws.treasury.ProposalCount(cmd.Context())
			if err != nil {
				return err
			}
			if count == 0 {
				fmt.Println("No proposals.")
				return nil
			}
			threshold, err := ws.treasury.Threshold(cmd.Context())
			if err != nil {
				return err
			}
			for id := uint64(0); id < count; id++ {
				p, err := ws.treasury.Proposal(cmd.Context(), id)
				if err != nil {
					fmt.Printf("#%d\t(unavailable)\n", id)
					continue
				}
				fmt.Printf("#%d\t%s\t%s -> %s\t%q\t%s/%s approvals\n",
					id, p.Status(threshold), p.Token, p.Recipient, p.Description, p.ApprovalCount, threshold)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&treasuryAddr, "treasury", "", "Treasury address")
	_ = cmd.MarkFlagRequired("treasury")
	return cmd
}

func StatusCmd(cfg **config.Config) *cobra.Command {
	var treasuryAddr string

	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show a treasury's governance settings",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := connect(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.selectTreasury(treasuryAddr); err != nil {
				return err
			}

			info, err := ws.factory.Info(cmd.Context(), common.HexToAddress(treasuryAddr))
			if err != nil {
				return err
			}
			threshold, err := ws.treasury.Threshold(cmd.Context())
			if err != nil {
				return err
			}
			paused, err := ws.treasury.Paused(cmd.Context())
			if err != nil {
				return err
			}
			owner, err := ws.treasury.IsOwner(cmd.Context(), ws.wallet.Address())
			if err != nil {
				return err
			}

			fmt.Printf("Name: %s\n", info.Name)
			fmt.Printf("Description: %s\n", info.Description)
			fmt.Printf("Deployer: %s\n", info.Deployer)
			fmt.Printf("Threshold: %s\n", threshold)
			fmt.Printf("Paused: %v\n", paused)
			fmt.Printf("You are an owner: %v\n", owner)
			return nil
		},
	}

	cmd.Flags().StringVar(&treasuryAddr, "treasury", "", "Treasury address")
	_ = cmd.MarkFlagRequired("treasury")
	return cmd
}

func main() {
	var configPath string
	var network string
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:   "zakobox",
		Short: "Multi-signature treasury client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if network != "" {
				loaded.Network = network
			}
			if _, ok := loaded.Networks[loaded.Network]; !ok {
				return fmt.Errorf("unknown network %q", loaded.Network)
			}
			logging.Init(loaded.LogLevel, loaded.LogFormat)
			cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&network, "network", "", "Network name override")

	rootCmd.AddCommand(LoginCmd(&cfg))
	rootCmd.AddCommand(LogoutCmd(&cfg))
	rootCmd.AddCommand(WhoamiCmd(&cfg))
	rootCmd.AddCommand(DeployCmd(&cfg))
	rootCmd.AddCommand(TreasuriesCmd(&cfg))
	rootCmd.AddCommand(DonateCmd(&cfg))
	rootCmd.AddCommand(ProposeCmd(&cfg))
	rootCmd.AddCommand(ApproveCmd(&cfg))
	rootCmd.AddCommand(ExecuteCmd(&cfg))
	rootCmd.AddCommand(BalanceCmd(&cfg))
	rootCmd.AddCommand(ProposalsCmd(&cfg))
	rootCmd.AddCommand(StatusCmd(&cfg))

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
